package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/vidpub/internal/formatter"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/slots"
	"github.com/desertthunder/vidpub/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	SlotListView ViewState = iota
	ConfirmView
)

// Backend is the pool the dashboard operates on.
type Backend interface {
	Report(ctx context.Context) (formatter.PoolReport, error)
	Sync(ctx context.Context) []slots.ScanResult
	Connect(ctx context.Context, platform models.Platform) (*slots.Connection, error)
	Disconnect(ctx context.Context, credentialID string, platform models.Platform) error
}

// Model represents the TUI application state.
type Model struct {
	ctx       context.Context
	view      ViewState
	backend   Backend
	threshold time.Duration
	width     int
	height    int
	slotList  list.Model
	report    formatter.PoolReport
	selected  *formatter.SlotRow
	notice    string
	failed    bool
	progress  <-chan tasks.ProgressUpdate
	jobs      map[string]tasks.ProgressUpdate
	err       error
	help      help.Model
	keys      keyMap
}

// NewModel creates a dashboard over backend. threshold is the pool's idle threshold, used to
// flag slots the reaper would free. progress may be nil.
func NewModel(ctx context.Context, backend Backend, threshold time.Duration, progress <-chan tasks.ProgressUpdate) *Model {
	m := &Model{
		ctx:       ctx,
		view:      SlotListView,
		backend:   backend,
		threshold: threshold,
		progress:  progress,
		jobs:      make(map[string]tasks.ProgressUpdate),
		help:      help.New(),
		keys:      newKeyMap(),
	}
	m.slotList = list.New(nil, list.NewDefaultDelegate(), 0, 0)
	m.slotList.Title = "Credential Pool"
	return m
}

// Init fetches the first report and starts listening for job progress.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchReport(), m.waitForProgress())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.slotList.SetSize(msg.Width-4, msg.Height-10)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case SlotListView:
			return m.handleSlotListKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	m.slotList, cmd = m.slotList.Update(msg)
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgReportFetched:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.report = msg.data.(formatter.PoolReport)
		items := make([]list.Item, len(m.report.Slots))
		for i, row := range m.report.Slots {
			items[i] = slotItem{row: row, now: m.report.GeneratedAt, threshold: m.threshold}
		}
		return m, m.slotList.SetItems(items)

	case MsgSynced:
		results := msg.data.([]slots.ScanResult)
		var conflicts, failures int
		for _, res := range results {
			conflicts += len(res.Conflicts)
			if res.Err != nil {
				failures++
			}
		}
		m.setNotice(fmt.Sprintf("Scanned %d credentials: %d conflicts resolved, %d failed", len(results), conflicts, failures), failures > 0)
		return m, m.fetchReport()

	case MsgConnected:
		if msg.err != nil {
			m.setNotice(fmt.Sprintf("Connect refused: %v", msg.err), true)
			return m, nil
		}
		conn := msg.data.(*slots.Connection)
		m.setNotice(fmt.Sprintf("Open to connect via %s:\n%s", conn.CredentialID, conn.URL), false)
		return m, nil

	case MsgDisconnected:
		row := msg.data.(formatter.SlotRow)
		if msg.err != nil {
			m.setNotice(fmt.Sprintf("Disconnect failed: %v", msg.err), true)
			return m, nil
		}
		m.setNotice(fmt.Sprintf("Freed %s on %s", row.Platform, row.CredentialID), false)
		return m, m.fetchReport()

	case MsgProgressUpdate:
		update := msg.data.(tasks.ProgressUpdate)
		m.jobs[update.SessionID] = update
		return m, m.waitForProgress()

	case MsgProgressClosed:
		m.progress = nil
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case ConfirmView:
		return m.renderConfirm()
	default:
		return m.renderSlotList()
	}
}

func (m *Model) handleSlotListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.slotList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.slotList, cmd = m.slotList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.refresh):
		return m, m.fetchReport()
	case key.Matches(msg, m.keys.sync):
		m.setNotice("Scanning credentials...", false)
		return m, m.sync()
	case key.Matches(msg, m.keys.connect):
		if row := m.selectedRow(); row != nil {
			return m, m.connect(row.Platform)
		}
		return m, nil
	case key.Matches(msg, m.keys.disconnect):
		row := m.selectedRow()
		if row == nil {
			return m, nil
		}
		if !row.Connected {
			m.setNotice(fmt.Sprintf("%s is not connected on %s", row.Platform, row.CredentialID), true)
			return m, nil
		}
		m.selected = row
		m.view = ConfirmView
		return m, nil
	}

	var cmd tea.Cmd
	m.slotList, cmd = m.slotList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		row := *m.selected
		m.selected = nil
		m.view = SlotListView
		return m, m.disconnect(row)
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.quit):
		m.selected = nil
		m.view = SlotListView
		return m, nil
	}
	return m, nil
}

func (m *Model) selectedRow() *formatter.SlotRow {
	item, ok := m.slotList.SelectedItem().(slotItem)
	if !ok {
		return nil
	}
	row := item.row
	return &row
}

func (m *Model) setNotice(text string, failed bool) {
	m.notice = text
	m.failed = failed
}

func (m *Model) fetchReport() tea.Cmd {
	return func() tea.Msg {
		return reportFetchedMsg(m.backend.Report(m.ctx))
	}
}

func (m *Model) sync() tea.Cmd {
	return func() tea.Msg {
		return syncedMsg(m.backend.Sync(m.ctx))
	}
}

func (m *Model) connect(p models.Platform) tea.Cmd {
	return func() tea.Msg {
		return connectedMsg(m.backend.Connect(m.ctx, p))
	}
}

func (m *Model) disconnect(row formatter.SlotRow) tea.Cmd {
	return func() tea.Msg {
		return disconnectedMsg(row, m.backend.Disconnect(m.ctx, row.CredentialID, row.Platform))
	}
}

func (m *Model) waitForProgress() tea.Cmd {
	ch := m.progress
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		update, ok := <-ch
		if !ok {
			return progressClosedMsg()
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderSlotList() string {
	var b strings.Builder
	if m.err != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	}
	b.WriteString(m.slotList.View())

	if m.notice != "" {
		style := styles.ok
		if m.failed {
			style = styles.warn
		}
		b.WriteString("\n\n" + style.Render(m.notice))
	}
	if jobs := m.renderJobs(); jobs != "" {
		b.WriteString("\n\n" + jobs)
	}

	b.WriteString("\n\n" + styles.help.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	return b.String()
}

func (m *Model) renderJobs() string {
	if len(m.jobs) == 0 {
		return ""
	}
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lines := []string{styles.badge.Render("Jobs")}
	for _, id := range ids {
		u := m.jobs[id]
		status := fmt.Sprintf("%s [%d/%d] %s", u.Phase, u.Step, u.Total, u.Message)
		switch u.Phase {
		case tasks.Complete:
			status = styles.ok.Render(status)
		case tasks.Failed:
			status = styles.err.Render(status)
		}
		lines = append(lines, fmt.Sprintf("  %s  %s", id, status))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderConfirm() string {
	row := m.selected
	title := styles.title.Render(fmt.Sprintf("Disconnect %s from %s?", row.Platform, row.CredentialID))
	info := fmt.Sprintf("\nChannels: %d\nUploads this month: %d/%d\n", row.Channels, row.Uploads, row.Quota)
	if !row.LastActive.IsZero() {
		info += fmt.Sprintf("Last active: %s ago\n", humanize(row.Idle(m.report.GeneratedAt)))
	}
	warn := styles.warn.Render("Its channels will be marked disconnected until they are connected again.")

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no})
	return fmt.Sprintf("%s\n%s\n%s\n\n%s", title, info, warn, helpView)
}
