// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
)

// MockFetcher is a scripted status and results source.
//
// By default it walks through the statuses given to [NewMockFetcher], repeating the last one.
// StatusFn and ResultsFn override the defaults and receive the 1-based call number.
type MockFetcher struct {
	SessionID string
	StatusFn  func(call int) (*models.WorkflowStatus, error)
	ResultsFn func(call int) (*models.WorkflowResults, error)

	mu           sync.Mutex
	statuses     []string
	statusCalls  int
	resultsCalls int
}

func NewMockFetcher(sessionID string, statuses ...string) *MockFetcher {
	return &MockFetcher{SessionID: sessionID, statuses: statuses}
}

func (m *MockFetcher) FetchStatus(ctx context.Context, sessionID string) (*models.WorkflowStatus, error) {
	m.mu.Lock()
	m.statusCalls++
	call := m.statusCalls
	fn := m.StatusFn
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(call)
	}
	if len(m.statuses) == 0 {
		return nil, errors.New("no scripted status")
	}
	i := min(call-1, len(m.statuses)-1)
	return &models.WorkflowStatus{SessionID: sessionID, Status: m.statuses[i]}, nil
}

func (m *MockFetcher) FetchResults(ctx context.Context, sessionID string) (*models.WorkflowResults, error) {
	m.mu.Lock()
	m.resultsCalls++
	call := m.resultsCalls
	fn := m.ResultsFn
	m.mu.Unlock()

	if fn != nil {
		return fn(call)
	}
	return SampleResults(sessionID), nil
}

func (m *MockFetcher) StatusCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls
}

func (m *MockFetcher) ResultsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resultsCalls
}

// SampleResults returns a small completed result set.
func SampleResults(sessionID string) *models.WorkflowResults {
	return &models.WorkflowResults{
		SessionID:  sessionID,
		Status:     models.StatusCompleted,
		MoodPrompt: "rainy sunday morning",
		Recommendations: []models.Track{
			{TrackID: "t1", TrackName: "Holocene", Artists: []string{"Bon Iver"}, ConfidenceScore: 0.91, Source: "anchor"},
			{TrackID: "t2", TrackName: "Pink Moon", Artists: []string{"Nick Drake"}, ConfidenceScore: 0.84, Source: "recommendation"},
		},
		Playlist: &models.PlaylistRef{
			ID:         "pl-1",
			Name:       "Rainy Sunday",
			SpotifyURL: "https://open.spotify.com/playlist/pl-1",
			SpotifyURI: "spotify:playlist:pl-1",
		},
	}
}

// Terminal records one terminal callback.
type Terminal struct {
	Status  models.WorkflowStatus
	Results *models.WorkflowResults
}

// Recorder collects subscription callbacks. Its methods match the callback signatures.
type Recorder struct {
	mu         sync.Mutex
	statuses   []models.WorkflowStatus
	errs       []error
	terminals  []Terminal
	completes  int
	reconnects int
	completeCh chan struct{}
	terminalCh chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{completeCh: make(chan struct{}, 16), terminalCh: make(chan struct{}, 16)}
}

func (r *Recorder) OnStatus(st models.WorkflowStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *Recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *Recorder) OnComplete() {
	r.mu.Lock()
	r.completes++
	r.mu.Unlock()
	r.completeCh <- struct{}{}
}

func (r *Recorder) OnReconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnects++
}

func (r *Recorder) OnTerminal(st models.WorkflowStatus, results *models.WorkflowResults) {
	r.mu.Lock()
	r.terminals = append(r.terminals, Terminal{Status: st, Results: results})
	r.mu.Unlock()
	r.terminalCh <- struct{}{}
}

func (r *Recorder) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.statuses))
	for i, st := range r.statuses {
		out[i] = st.Status
	}
	return out
}

func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *Recorder) Terminals() []Terminal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Terminal(nil), r.terminals...)
}

func (r *Recorder) Completes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completes
}

func (r *Recorder) Reconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnects
}

// WaitComplete waits for OnComplete or fails the test after d.
func (r *Recorder) WaitComplete(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-r.completeCh:
	case <-time.After(d):
		t.Fatalf("timed out waiting for OnComplete")
	}
}

// WaitTerminal waits for OnTerminal or fails the test after d.
func (r *Recorder) WaitTerminal(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-r.terminalCh:
	case <-time.After(d):
		t.Fatalf("timed out waiting for OnTerminal")
	}
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
