package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var styles = newPalette(paletteColors{
	accent: "#7D56F4",
	free:   "#04B575",
	busy:   "#FF0000",
	idle:   "#FFA500",
	muted:  "#626262",
})

type paletteColors struct {
	accent, free, busy, idle, muted string
}

// Palette holds the dashboard's [lipgloss.Style] values. Slot states reuse the notice colors:
// free slots render like success, busy ones like errors and idle ones like warnings.
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
	badge lipgloss.Style
}

func newPalette(c paletteColors) *Palette {
	return &Palette{
		title: fg(c.accent).Bold(true).MarginBottom(1),
		ok:    fg(c.free).Bold(true),
		err:   fg(c.busy).Bold(true),
		warn:  fg(c.idle),
		help:  fg(c.muted).Italic(true),
		badge: fg("#FFFFFF").Bold(true).Background(lipgloss.Color(c.accent)).Padding(0, 1),
	}
}

func fg(color string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

// state renders a slot's connection state: free, busy, or idle past the threshold.
func (p *Palette) state(connected, idle bool) string {
	switch {
	case !connected:
		return p.ok.Render("free")
	case idle:
		return p.warn.Render("idle")
	default:
		return p.err.Render("busy")
	}
}
