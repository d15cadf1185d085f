// Package state holds the client-side view of a workflow session.
//
// [Store] is the only writer of [models.WorkflowState]. Transports submit accepted statuses through
// [Store.ApplyStatus] and the final merge through [Store.ApplyTerminal]; readers take copies with
// [Store.Snapshot] or subscribe to [Event] values.
package state

import (
	"maps"
	"slices"
	"sync"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/status"
)

// EventKind identifies a store change.
type EventKind int

const (
	StatusApplied EventKind = iota
	TerminalApplied
	StateReset
	LoadingChanged
)

func (k EventKind) String() string {
	switch k {
	case StatusApplied:
		return "status_applied"
	case TerminalApplied:
		return "terminal_applied"
	case StateReset:
		return "state_reset"
	case LoadingChanged:
		return "loading_changed"
	default:
		return ""
	}
}

// Event is published after every change. State is a snapshot taken under the store lock.
type Event struct {
	Kind  EventKind
	State models.WorkflowState
}

// InitialState returns the empty state.
func InitialState() models.WorkflowState {
	return models.WorkflowState{}
}

// Store merges accepted status events and results into a single [models.WorkflowState].
type Store struct {
	mu       sync.Mutex
	state    models.WorkflowState
	applied  map[string]struct{}
	handlers map[int]func(Event)
	nextID   int
}

func New() *Store {
	return &Store{
		state:    InitialState(),
		applied:  make(map[string]struct{}),
		handlers: make(map[int]func(Event)),
	}
}

// Subscribe registers fn for every future event and returns a func that removes it.
// Handlers run synchronously after the store lock is released.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() models.WorkflowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.state)
}

// ApplyStatus merges a status snapshot that already passed the ordering gate.
//
// Volatile fields are merged only when present so a sparse update never clears earlier data.
// Once a terminal status is recorded, the status and step are kept.
func (s *Store) ApplyStatus(st models.WorkflowStatus) {
	s.update(StatusApplied, func(cur *models.WorkflowState) bool {
		if st.SessionID != "" && cur.SessionID != "" && st.SessionID != cur.SessionID {
			return false
		}
		if cur.SessionID == "" {
			cur.SessionID = st.SessionID
		}
		if !status.IsTerminal(cur.Status) || status.IsTerminal(st.Status) {
			if st.Status != "" {
				cur.Status = st.Status
			}
			if st.CurrentStep != "" {
				cur.CurrentStep = st.CurrentStep
			}
			cur.AwaitingInput = st.AwaitingInput
		}
		mergeVolatile(cur, st)
		if st.Error != "" {
			cur.Error = st.Error
		}
		return true
	})
}

// ApplyTerminal merges the final status and results. It returns false without changing anything
// when the same session and status were already applied.
func (s *Store) ApplyTerminal(st models.WorkflowStatus, results *models.WorkflowResults) bool {
	applied := false
	s.update(TerminalApplied, func(cur *models.WorkflowState) bool {
		sessionID := st.SessionID
		if sessionID == "" {
			sessionID = cur.SessionID
		}
		key := sessionID + "|" + st.Status
		if _, ok := s.applied[key]; ok {
			return false
		}
		s.applied[key] = struct{}{}

		cur.SessionID = sessionID
		cur.Status = st.Status
		if st.CurrentStep != "" {
			cur.CurrentStep = st.CurrentStep
		}
		cur.AwaitingInput = false
		cur.IsLoading = false
		mergeVolatile(cur, st)
		if st.Error != "" {
			cur.Error = st.Error
		}

		if results != nil {
			cur.HasResults = true
			cur.Recommendations = slices.Clone(results.Recommendations)
			if results.Playlist != nil {
				pl := *results.Playlist
				cur.Playlist = &pl
			}
			if results.MoodAnalysis != nil {
				cur.MoodAnalysis = results.MoodAnalysis
			}
			if len(results.Metadata) > 0 {
				if cur.Metadata == nil {
					cur.Metadata = make(map[string]any, len(results.Metadata))
				}
				maps.Copy(cur.Metadata, results.Metadata)
			}
		}
		applied = true
		return true
	})
	return applied
}

// Reset returns the store to [InitialState] and forgets applied terminal keys.
func (s *Store) Reset() {
	s.update(StateReset, func(cur *models.WorkflowState) bool {
		*cur = InitialState()
		clear(s.applied)
		return true
	})
}

// SetLoading sets the loading flag and, when errMsg is non-empty, the error.
func (s *Store) SetLoading(loading bool, errMsg string) {
	s.update(LoadingChanged, func(cur *models.WorkflowState) bool {
		cur.IsLoading = loading
		if errMsg != "" {
			cur.Error = errMsg
		}
		return true
	})
}

// ClearError removes the current error message.
func (s *Store) ClearError() {
	s.update(LoadingChanged, func(cur *models.WorkflowState) bool {
		if cur.Error == "" {
			return false
		}
		cur.Error = ""
		return true
	})
}

func (s *Store) update(kind EventKind, fn func(*models.WorkflowState) bool) {
	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return
	}
	ev := Event{Kind: kind, State: clone(s.state)}
	handlers := make([]func(Event), 0, len(s.handlers))
	for _, id := range slices.Sorted(maps.Keys(s.handlers)) {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func mergeVolatile(cur *models.WorkflowState, st models.WorkflowStatus) {
	if st.MoodAnalysis != nil {
		cur.MoodAnalysis = st.MoodAnalysis
	}
	if len(st.AnchorTracks) > 0 {
		cur.AnchorTracks = slices.Clone(st.AnchorTracks)
	}
	if len(st.Metadata) > 0 {
		if cur.Metadata == nil {
			cur.Metadata = make(map[string]any, len(st.Metadata))
		}
		maps.Copy(cur.Metadata, st.Metadata)
	}
	if st.TotalLLMCostUSD > 0 {
		cur.TotalLLMCostUSD = st.TotalLLMCostUSD
	}
	if st.TotalPromptTokens > 0 {
		cur.TotalPromptTokens = st.TotalPromptTokens
	}
	if st.TotalCompletionTokens > 0 {
		cur.TotalCompletionTokens = st.TotalCompletionTokens
	}
	if st.TotalTokens > 0 {
		cur.TotalTokens = st.TotalTokens
	}
}

func clone(s models.WorkflowState) models.WorkflowState {
	out := s
	out.AnchorTracks = slices.Clone(s.AnchorTracks)
	out.Recommendations = slices.Clone(s.Recommendations)
	out.Metadata = maps.Clone(s.Metadata)
	if s.Playlist != nil {
		pl := *s.Playlist
		out.Playlist = &pl
	}
	return out
}
