package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/vidpub/internal/formatter"
)

var _ list.Item = slotItem{}

// slotItem wraps [formatter.SlotRow] to implement [list.Item].
type slotItem struct {
	row       formatter.SlotRow
	now       time.Time
	threshold time.Duration
}

func (i slotItem) FilterValue() string { return i.row.CredentialID + " " + string(i.row.Platform) }
func (i slotItem) Title() string {
	idle := i.row.Connected && i.row.Channels > 0 && i.row.Idle(i.now) > i.threshold
	return fmt.Sprintf("%s · %s  %s", i.row.CredentialID, i.row.Platform, styles.state(i.row.Connected, idle))
}

func (i slotItem) Description() string {
	parts := []string{fmt.Sprintf("%d/%d uploads", i.row.Uploads, i.row.Quota)}
	if i.row.Channels > 0 {
		parts = append(parts, fmt.Sprintf("%d channels", i.row.Channels))
	}
	if !i.row.LastActive.IsZero() {
		parts = append(parts, "active "+humanize(i.row.Idle(i.now))+" ago")
	}
	return strings.Join(parts, " • ")
}

func humanize(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "<1m"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
