package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the dashboard.
type keyMap struct {
	up         key.Binding
	down       key.Binding
	refresh    key.Binding
	sync       key.Binding
	connect    key.Binding
	disconnect key.Binding
	back       key.Binding
	yes        key.Binding
	no         key.Binding
	quit       key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		sync:       key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sync")),
		connect:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
		disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect")),
		back:       key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		yes:        key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "yes")),
		no:         key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "no")),
		quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.refresh, k.sync, k.connect, k.disconnect, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down},
		{k.refresh, k.sync, k.connect, k.disconnect},
		{k.back, k.yes, k.no, k.quit},
	}
}
