package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgSessionsFetched MsgKind = iota
	MsgProgressUpdate
	MsgWatchComplete
	MsgCancelled
)

type sessionsFetched struct {
	sessions []*models.Session
	err      error
}

type watchOutcome struct {
	gen    int
	result *tasks.WatchResult
	err    error
}

type progressData struct {
	gen    int
	update tasks.ProgressUpdate
}

// sessionsFetchedMsg is the constructor for [MsgSessionsFetched]
func sessionsFetchedMsg(sessions []*models.Session, err error) Msg {
	return Msg{kind: MsgSessionsFetched, data: sessionsFetched{sessions, err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(gen int, update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: progressData{gen, update}}
}

// watchCompleteMsg is the constructor for [MsgWatchComplete]
func watchCompleteMsg(o watchOutcome) Msg {
	return Msg{kind: MsgWatchComplete, data: o}
}

// cancelledMsg is the constructor for [MsgCancelled]
func cancelledMsg(err error) Msg {
	return Msg{kind: MsgCancelled, data: err}
}
