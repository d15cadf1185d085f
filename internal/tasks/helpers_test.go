package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/polling"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	tu "github.com/dennisjooo/moodlist-sub000/internal/testing"
	"github.com/dennisjooo/moodlist-sub000/internal/transport"
)

const waitFor = 2 * time.Second

// streamOpener is a stream transport whose connections run listen. A nil listen fails every Open.
type streamOpener struct {
	listen func(ctx context.Context, sessionID string, sink transport.Sink) error

	mu     sync.Mutex
	events []string
}

func (o *streamOpener) Kind() transport.Kind { return transport.KindWebSocket }
func (o *streamOpener) Supported() bool      { return true }

func (o *streamOpener) Open(ctx context.Context, sessionID string) (transport.Conn, error) {
	o.record("open:" + sessionID)
	if o.listen == nil {
		return nil, errors.New("connection refused")
	}
	return &streamConn{opener: o, sessionID: sessionID}, nil
}

func (o *streamOpener) record(ev string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *streamOpener) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func (o *streamOpener) Opens() int {
	n := 0
	for _, ev := range o.Events() {
		if len(ev) > 5 && ev[:5] == "open:" {
			n++
		}
	}
	return n
}

type streamConn struct {
	opener    *streamOpener
	sessionID string
}

func (c *streamConn) Listen(ctx context.Context, sink transport.Sink) error {
	return c.opener.listen(ctx, c.sessionID, sink)
}

func (c *streamConn) Close() error { return nil }

// blockUntilCancelled records when the subscription is torn down.
func blockUntilCancelled(o *streamOpener) func(ctx context.Context, sessionID string, sink transport.Sink) error {
	return func(ctx context.Context, sessionID string, sink transport.Sink) error {
		<-ctx.Done()
		o.record("closed:" + sessionID)
		return ctx.Err()
	}
}

// sendStatuses streams the statuses in order and then blocks until cancelled.
func sendStatuses(statuses ...string) func(ctx context.Context, sessionID string, sink transport.Sink) error {
	return func(ctx context.Context, sessionID string, sink transport.Sink) error {
		for _, s := range statuses {
			if sink.Status(ctx, models.WorkflowStatus{SessionID: sessionID, Status: s}) {
				return nil
			}
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

func fastPolling() polling.Config {
	return polling.Config{
		DefaultInterval:       time.Millisecond,
		AwaitingInputInterval: time.Millisecond,
		MaxBackoff:            5 * time.Millisecond,
		MaxRetries:            2,
		Intervals:             map[string]time.Duration{},
	}
}

func fastCoordinatorOptions() CoordinatorOptions {
	return CoordinatorOptions{ReconnectAttempts: -1, ReconnectDelay: time.Millisecond}
}

func newStreamCoordinator(t *testing.T, opener *streamOpener, fetcher transport.Fetcher) *Coordinator {
	t.Helper()
	sel := &transport.Selector{WebSocket: opener}
	c, err := NewCoordinator(sel, fetcher, fastCoordinatorOptions())
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func newPollingCoordinator(t *testing.T, fetcher transport.Fetcher) *Coordinator {
	t.Helper()
	sel := &transport.Selector{
		Polling:  transport.NewPollingOpener(fetcher, fastPolling(), nil, nil),
		Fallback: true,
	}
	c, err := NewCoordinator(sel, fetcher, fastCoordinatorOptions())
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func callbacks(r *tu.Recorder) transport.Callbacks {
	return transport.Callbacks{
		OnStatus:    r.OnStatus,
		OnError:     r.OnError,
		OnComplete:  r.OnComplete,
		OnReconnect: r.OnReconnect,
		OnTerminal:  r.OnTerminal,
	}
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for the subscription to end")
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// fakeAPI serves a MockFetcher through the WorkflowAPI surface.
type fakeAPI struct {
	*tu.MockFetcher

	mu        sync.Mutex
	started   []models.StartRequest
	cancelled []string
	startErr  error
	cancelErr error
}

func newFakeAPI(sessionID string, statuses ...string) *fakeAPI {
	return &fakeAPI{MockFetcher: tu.NewMockFetcher(sessionID, statuses...)}
}

func (a *fakeAPI) Start(ctx context.Context, req models.StartRequest) (*models.StartResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return nil, a.startErr
	}
	a.started = append(a.started, req)
	return &models.StartResponse{SessionID: a.SessionID, Status: models.StatusPending, MoodPrompt: req.MoodPrompt}, nil
}

func (a *fakeAPI) Status(ctx context.Context, sessionID string) (*models.WorkflowStatus, error) {
	return a.FetchStatus(ctx, sessionID)
}

func (a *fakeAPI) Results(ctx context.Context, sessionID string) (*models.WorkflowResults, error) {
	return a.FetchResults(ctx, sessionID)
}

func (a *fakeAPI) Cancel(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelErr != nil {
		return a.cancelErr
	}
	a.cancelled = append(a.cancelled, sessionID)
	return nil
}

// memorySessions is an in-memory SessionStore.
type memorySessions struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]*models.Session
	updates  int
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[string]*models.Session)}
}

func (m *memorySessions) GetBySessionID(sessionID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrSessionNotFound, sessionID)
	}
	return s, nil
}

func (m *memorySessions) Create(s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID()] = s
	return nil
}

func (m *memorySessions) Update(s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.sessions[s.SessionID()] = s
	return nil
}

func (m *memorySessions) NextSequence() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

func (m *memorySessions) status(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s.Status()
	}
	return ""
}
