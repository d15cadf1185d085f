package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/services"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	"github.com/dennisjooo/moodlist-sub000/internal/state"
	"github.com/dennisjooo/moodlist-sub000/internal/status"
	"github.com/dennisjooo/moodlist-sub000/internal/transport"
)

// SessionStore persists the sessions this client has started or watched.
//
// Implemented by repositories.SessionRepository.
type SessionStore interface {
	GetBySessionID(sessionID string) (*models.Session, error)
	Create(s *models.Session) error
	Update(s *models.Session) error
	NextSequence() (int, error)
}

// WatchResult is the outcome of following one session.
type WatchResult struct {
	State     models.WorkflowState // Final merged state
	Transport transport.Kind       // Transport in use when the watch ended, empty if none was opened
	Terminal  bool                 // Whether a terminal status was observed
}

// WorkflowEngine defines workflow operations against the backend.
type WorkflowEngine interface {
	// Start queues a workflow for a mood prompt and records the session locally.
	Start(ctx context.Context, req models.StartRequest, progress chan<- ProgressUpdate) (*models.Session, error)

	// Watch follows a session until it finishes, its transport gives up or ctx is cancelled.
	Watch(ctx context.Context, sessionID string, progress chan<- ProgressUpdate) (*WatchResult, error)

	// Cancel stops a session on the backend and clears local state.
	Cancel(ctx context.Context, sessionID string) error
}

// Engine implements WorkflowEngine.
// Contains dependencies on the API client, the streaming coordinator and the state store.
type Engine struct {
	api      services.WorkflowAPI
	coord    *Coordinator
	store    *state.Store
	sessions SessionStore
	logger   *log.Logger
}

var _ WorkflowEngine = (*Engine)(nil)

// NewEngine creates a new Engine. sessions may be nil, in which case nothing is persisted.
func NewEngine(api services.WorkflowAPI, coord *Coordinator, store *state.Store, sessions SessionStore, logger *log.Logger) *Engine {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Engine{
		api:      api,
		coord:    coord,
		store:    store,
		sessions: sessions,
		logger:   shared.WithLogger(logger, "component", "engine"),
	}
}

// Store returns the state store the engine writes to.
func (e *Engine) Store() *state.Store { return e.store }

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (e *Engine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
		// Sent successfully
	default:
		// Channel full or closed, skip this update
	}
}

// Start queues a workflow and records it as a pending session.
func (e *Engine) Start(ctx context.Context, req models.StartRequest, progress chan<- ProgressUpdate) (*models.Session, error) {
	if e.api == nil {
		return nil, fmt.Errorf("%w: workflow API not initialized", shared.ErrServiceUnavailable)
	}

	resp, err := e.api.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	e.sendProgress(progress, startedUpdate(resp))

	seq := 0
	if e.sessions != nil {
		if seq, err = e.sessions.NextSequence(); err != nil {
			e.logger.Warn("failed to allocate session sequence", "error", err)
		}
	}

	session := models.NewSession(seq, resp.SessionID, req.MoodPrompt)
	if resp.Status != "" {
		session.SetStatus(resp.Status)
	}

	if e.sessions != nil {
		if err := e.sessions.Create(session); err != nil {
			e.logger.Warn("failed to record session", "session_id", resp.SessionID, "error", err)
		}
	}
	return session, nil
}

// Watch follows sessionID and merges everything it receives into the store.
//
// The store is reset when it holds another session. A session already recorded as finished is
// not streamed; its results are fetched once instead.
func (e *Engine) Watch(ctx context.Context, sessionID string, progress chan<- ProgressUpdate) (*WatchResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id", shared.ErrMissingArgument)
	}
	if e.coord == nil {
		return nil, fmt.Errorf("%w: coordinator not initialized", shared.ErrServiceUnavailable)
	}

	if snap := e.store.Snapshot(); snap.SessionID != "" && snap.SessionID != sessionID {
		e.store.Reset()
	}

	session := e.loadSession(sessionID)
	known := ""
	if session != nil {
		known = session.Status()
	}

	if status.IsTerminal(known) {
		return e.finished(ctx, sessionID, known, session)
	}

	e.store.SetLoading(true, "")
	defer func() {
		if e.store.Snapshot().IsLoading {
			e.store.SetLoading(false, "")
		}
	}()

	var lastErr error
	terminal := make(chan struct{}, 1)

	cb := transport.Callbacks{
		OnStatus: func(st models.WorkflowStatus) {
			e.store.ApplyStatus(st)
			e.sendProgress(progress, statusUpdate(st))
			if session != nil && session.Status() != st.Status {
				session.ApplyStatus(st)
				e.saveSession(session)
			}
		},
		OnError: func(err error) {
			lastErr = err
			e.sendProgress(progress, errorUpdate(err))
		},
		OnReconnect: func() {
			e.sendProgress(progress, reconnectUpdate())
		},
		OnTerminal: func(st models.WorkflowStatus, results *models.WorkflowResults) {
			e.store.ApplyTerminal(st, results)
			e.sendProgress(progress, terminalUpdate(st, results))
			if session != nil {
				session.ApplyStatus(st)
				session.ApplyResults(results)
				e.saveSession(session)
			}
			select {
			case terminal <- struct{}{}:
			default:
			}
		},
	}

	err := e.coord.Subscribe(ctx, SubscribeOptions{
		SessionID:       sessionID,
		LastKnownStatus: known,
		Enabled:         true,
		Callbacks:       cb,
	})
	if err != nil {
		e.store.SetLoading(false, err.Error())
		return nil, err
	}

	e.sendProgress(progress, connectingUpdate(sessionID, e.coord.Transport()))

	result := &WatchResult{}
	select {
	case <-terminal:
		result.Terminal = true
	case <-e.coord.Done():
	case <-ctx.Done():
	}
	result.Transport = e.coord.Transport()
	e.coord.Stop()

	select {
	case <-terminal:
		result.Terminal = true
	default:
	}
	result.State = e.store.Snapshot()

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if !result.Terminal {
		if tok := e.coord.Token(sessionID); tok.Done() {
			return e.finished(ctx, sessionID, tok.Status(), session)
		}
		if lastErr == nil {
			lastErr = shared.ErrConnection
		}
		e.store.SetLoading(false, lastErr.Error())
		result.State = e.store.Snapshot()
		return result, lastErr
	}
	return result, e.outcome(result.State)
}

// finished loads a session that is already terminal without opening a transport.
func (e *Engine) finished(ctx context.Context, sessionID, known string, session *models.Session) (*WatchResult, error) {
	e.logger.Debug("session already finished", "session_id", sessionID, "status", known)
	e.coord.Stop()
	e.coord.Token(sessionID).Claim(known)

	if snap := e.store.Snapshot(); snap.SessionID == sessionID && status.IsTerminal(snap.Status) {
		res := &WatchResult{State: snap, Terminal: true}
		return res, e.outcome(snap)
	}

	st := models.WorkflowStatus{SessionID: sessionID, Status: known}
	if session != nil {
		st.Error = session.ErrorMessage()
	}

	var results *models.WorkflowResults
	if known == models.StatusCompleted && e.api != nil {
		r, err := e.api.Results(ctx, sessionID)
		if err != nil {
			e.logger.Warn("failed to fetch results", "session_id", sessionID, "error", err)
		} else {
			results = r
		}
	}

	e.store.ApplyStatus(st)
	e.store.ApplyTerminal(st, results)
	res := &WatchResult{State: e.store.Snapshot(), Terminal: true}
	return res, e.outcome(res.State)
}

// outcome converts a terminal state into the error the caller should see.
func (e *Engine) outcome(st models.WorkflowState) error {
	switch st.Status {
	case models.StatusFailed:
		if st.Error != "" {
			return fmt.Errorf("%w: %s", shared.ErrWorkflowFailed, st.Error)
		}
		return shared.ErrWorkflowFailed
	case models.StatusCancelled:
		return shared.ErrWorkflowCancelled
	case models.StatusCompleted:
		if !st.HasResults {
			return shared.ErrResultsUnavailable
		}
	}
	return nil
}

// Cancel stops sessionID on the backend, tears down any subscription and resets the store.
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id", shared.ErrMissingArgument)
	}
	if err := e.api.Cancel(ctx, sessionID); err != nil {
		return err
	}

	if e.coord != nil {
		if active, _ := e.coord.Active(); active == sessionID {
			e.coord.Stop()
		}
		e.coord.Token(sessionID).Claim(models.StatusCancelled)
	}
	if snap := e.store.Snapshot(); snap.SessionID == "" || snap.SessionID == sessionID {
		e.store.Reset()
	}

	if session := e.loadSession(sessionID); session != nil {
		session.SetStatus(models.StatusCancelled)
		e.saveSession(session)
	}
	e.logger.Info("session cancelled", "session_id", sessionID)
	return nil
}

func (e *Engine) loadSession(sessionID string) *models.Session {
	if e.sessions == nil {
		return nil
	}
	session, err := e.sessions.GetBySessionID(sessionID)
	if err == nil {
		return session
	}
	if !errors.Is(err, shared.ErrSessionNotFound) {
		e.logger.Warn("failed to load session", "session_id", sessionID, "error", err)
		return nil
	}

	seq, err := e.sessions.NextSequence()
	if err != nil {
		e.logger.Warn("failed to allocate session sequence", "error", err)
		return nil
	}
	session = models.NewSession(seq, sessionID, "")
	if err := e.sessions.Create(session); err != nil {
		e.logger.Warn("failed to record session", "session_id", sessionID, "error", err)
		return nil
	}
	return session
}

func (e *Engine) saveSession(session *models.Session) {
	if e.sessions == nil {
		return
	}
	if err := e.sessions.Update(session); err != nil {
		e.logger.Warn("failed to update session", "session_id", session.SessionID(), "error", err)
	}
}
