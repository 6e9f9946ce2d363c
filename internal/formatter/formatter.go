// package formatter renders credential pool usage as CSV, Markdown, plain text or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

// Format is an output format for pool reports.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatText     Format = "txt"
	FormatJSON     Format = "json"
)

// ParseFormat accepts csv, md/markdown, txt/text and json. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "txt", "text":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidInput, s)
	}
}

// SlotRow is one credential's connection slot for one platform.
type SlotRow struct {
	CredentialID string          `json:"credentialId"`
	Platform     models.Platform `json:"platform"`
	Connected    bool            `json:"connected"`
	Channels     int             `json:"channels"`
	LastActive   time.Time       `json:"lastActiveAt,omitzero"`
	Uploads      int             `json:"uploadsThisMonth"`
	Quota        int             `json:"quota"`
	Month        string          `json:"month"`
}

// Remaining is the number of uploads left on the credential this month.
func (r SlotRow) Remaining() int {
	return max(r.Quota-r.Uploads, 0)
}

// Idle is how long the slot has been inactive at now, or zero when nothing is recorded.
func (r SlotRow) Idle(now time.Time) time.Duration {
	if r.LastActive.IsZero() {
		return 0
	}
	return now.Sub(r.LastActive)
}

// PoolReport is a snapshot of every slot in the pool.
type PoolReport struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Slots       []SlotRow `json:"slots"`
}

// BuildPoolReport lists the slots of ids in order, one row per platform.
func BuildPoolReport(state models.LedgerState, ids []string, quota int, now time.Time) PoolReport {
	report := PoolReport{GeneratedAt: now}
	for _, id := range ids {
		rec := state[id]
		if rec == nil {
			rec = models.NewUsageRecord(now)
		}
		for _, p := range models.Platforms() {
			row := SlotRow{
				CredentialID: id,
				Platform:     p,
				Connected:    rec.Connected(p),
				Channels:     len(rec.KnownChannels(p)),
				Uploads:      rec.UploadsThisMonth,
				Quota:        quota,
				Month:        rec.Month,
			}
			if last, ok := rec.LastActive(p); ok {
				row.LastActive = last
			}
			report.Slots = append(report.Slots, row)
		}
	}
	return report
}

// Render dispatches to the exporter for format.
func Render(report PoolReport, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ExportToCSV(report)
	case FormatMarkdown:
		return ExportToMarkdown(report)
	case FormatJSON:
		return ExportToJSON(report)
	default:
		return ExportToText(report)
	}
}

// ExportToCSV writes one row per slot with columns: Credential, Platform, Connected, Channels,
// LastActive, Uploads, Quota, Month
func ExportToCSV(report PoolReport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Credential", "Platform", "Connected", "Channels", "LastActive", "Uploads", "Quota", "Month"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, s := range report.Slots {
		record := []string{
			s.CredentialID,
			string(s.Platform),
			strconv.FormatBool(s.Connected),
			strconv.Itoa(s.Channels),
			formatTime(s.LastActive),
			strconv.Itoa(s.Uploads),
			strconv.Itoa(s.Quota),
			s.Month,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown renders the report as a Markdown table
func ExportToMarkdown(report PoolReport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Credential pool\n\n")
	fmt.Fprintf(&buf, "**Generated**: %s\n", report.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "**Slots**: %d (%d connected)\n\n", len(report.Slots), countConnected(report))

	buf.WriteString("| Credential | Platform | Connected | Channels | Idle | Uploads |\n")
	buf.WriteString("|---|---|---|---|---|---|\n")
	for _, s := range report.Slots {
		fmt.Fprintf(&buf, "| %s | %s | %s | %d | %s | %d/%d |\n",
			s.CredentialID, s.Platform, yesNo(s.Connected), s.Channels,
			formatIdle(s.Idle(report.GeneratedAt)), s.Uploads, s.Quota)
	}

	return buf.Bytes(), nil
}

// ExportToText renders the report as aligned plain text
func ExportToText(report PoolReport) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Slots: %d (%d connected)\n\n", len(report.Slots), countConnected(report))
	for _, s := range report.Slots {
		fmt.Fprintf(&buf, "%-16s %-9s %-12s channels=%d idle=%s uploads=%d/%d\n",
			s.CredentialID, s.Platform, connectedLabel(s.Connected), s.Channels,
			formatIdle(s.Idle(report.GeneratedAt)), s.Uploads, s.Quota)
	}

	return buf.Bytes(), nil
}

// ExportToJSON renders the report as indented JSON
func ExportToJSON(report PoolReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

// WritePoolReport renders report and writes it to path.
func WritePoolReport(report PoolReport, format Format, path string) error {
	data, err := Render(report, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func countConnected(report PoolReport) int {
	n := 0
	for _, s := range report.Slots {
		if s.Connected {
			n++
		}
	}
	return n
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatIdle(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Truncate(time.Second).String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func connectedLabel(b bool) string {
	if b {
		return "connected"
	}
	return "free"
}
