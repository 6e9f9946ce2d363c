package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/vidpub/internal/formatter"
	"github.com/desertthunder/vidpub/internal/slots"
	"github.com/desertthunder/vidpub/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
	err  error
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgReportFetched MsgKind = iota
	MsgSynced
	MsgConnected
	MsgDisconnected
	MsgProgressUpdate
	MsgProgressClosed
)

// reportFetchedMsg is the constructor for [MsgReportFetched]
func reportFetchedMsg(report formatter.PoolReport, err error) Msg {
	return Msg{kind: MsgReportFetched, data: report, err: err}
}

// syncedMsg is the constructor for [MsgSynced]
func syncedMsg(results []slots.ScanResult) Msg {
	return Msg{kind: MsgSynced, data: results}
}

// connectedMsg is the constructor for [MsgConnected]
func connectedMsg(conn *slots.Connection, err error) Msg {
	return Msg{kind: MsgConnected, data: conn, err: err}
}

// disconnectedMsg is the constructor for [MsgDisconnected]
func disconnectedMsg(row formatter.SlotRow, err error) Msg {
	return Msg{kind: MsgDisconnected, data: row, err: err}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

func progressClosedMsg() Msg {
	return Msg{kind: MsgProgressClosed}
}
