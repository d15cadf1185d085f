package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/polling"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	tu "github.com/dennisjooo/moodlist-sub000/internal/testing"
)

func TestSubscriptionTerminal(t *testing.T) {
	t.Run("Double Terminal Delivery", func(t *testing.T) {
		// The stream delivers completed and then closes; the reconcile fetch also sees completed.
		fetcher := tu.NewMockFetcher("s-1", "completed")
		opener := newScriptedOpener(KindWebSocket, send(nil, "creating_playlist", "completed"))
		rec := tu.NewRecorder()

		sub := NewSubscription(opener, fetcher, recorderCallbacks(rec), fastOptions())
		if err := sub.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		sub.Reconcile(context.Background())
		sub.Status(context.Background(), models.WorkflowStatus{SessionID: "s-1", Status: "completed"})

		if fetcher.ResultsCalls() != 1 {
			t.Errorf("expected one results fetch, got %d", fetcher.ResultsCalls())
		}
		if n := len(rec.Terminals()); n != 1 {
			t.Fatalf("expected one terminal callback, got %d", n)
		}
		if rec.Terminals()[0].Results == nil {
			t.Error("expected results on terminal callback")
		}
		if rec.Completes() != 1 {
			t.Errorf("expected one OnComplete, got %d", rec.Completes())
		}
	})

	t.Run("Concurrent Terminal Paths", func(t *testing.T) {
		fetcher := tu.NewMockFetcher("s-1", "completed")
		rec := tu.NewRecorder()
		sub := NewSubscription(newScriptedOpener(KindWebSocket), fetcher, recorderCallbacks(rec), fastOptions())

		ctx := context.Background()
		var wg sync.WaitGroup
		for i := range 9 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if i%3 == 0 {
					sub.Reconcile(ctx)
					return
				}
				sub.Status(ctx, models.WorkflowStatus{SessionID: "s-1", Status: "completed"})
			}()
		}
		wg.Wait()

		if fetcher.ResultsCalls() != 1 {
			t.Errorf("expected one results fetch, got %d", fetcher.ResultsCalls())
		}
		if n := len(rec.Terminals()); n != 1 {
			t.Errorf("expected one terminal callback, got %d", n)
		}
	})

	t.Run("Terminal Found By Reconcile", func(t *testing.T) {
		fetcher := tu.NewMockFetcher("s-1", "completed")
		opener := newScriptedOpener(KindSSE, send(nil, "analyzing_mood", "creating_playlist"))
		rec := tu.NewRecorder()

		sub := NewSubscription(opener, fetcher, recorderCallbacks(rec), fastOptions())
		if err := sub.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if fetcher.StatusCalls() != 1 {
			t.Errorf("expected one reconcile fetch, got %d", fetcher.StatusCalls())
		}
		if fetcher.ResultsCalls() != 1 {
			t.Errorf("expected one results fetch, got %d", fetcher.ResultsCalls())
		}
		if got := join(rec.Statuses()); got != "analyzing_mood,creating_playlist,completed" {
			t.Errorf("unexpected statuses %s", got)
		}
		if opener.Opens() != 1 {
			t.Errorf("expected no reconnect after terminal reconcile, got %d opens", opener.Opens())
		}
	})

	t.Run("Shared Token Across Subscriptions", func(t *testing.T) {
		fetcher := tu.NewMockFetcher("s-1", "completed")
		token := NewCompletionToken()
		opts := fastOptions()
		opts.Token = token

		for range 2 {
			rec := tu.NewRecorder()
			sub := NewSubscription(newScriptedOpener(KindWebSocket, send(nil, "completed")), fetcher, recorderCallbacks(rec), opts)
			if err := sub.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
		}

		if fetcher.ResultsCalls() != 1 {
			t.Errorf("expected a single results fetch for the session, got %d", fetcher.ResultsCalls())
		}
	})

	t.Run("Results Fetch Failure", func(t *testing.T) {
		fetcher := tu.NewMockFetcher("s-1", "completed")
		fetcher.ResultsFn = func(int) (*models.WorkflowResults, error) {
			return nil, shared.ErrResultsUnavailable
		}
		rec := tu.NewRecorder()

		sub := NewSubscription(newScriptedOpener(KindWebSocket, send(nil, "completed")), fetcher, recorderCallbacks(rec), fastOptions())
		if err := sub.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		terminals := rec.Terminals()
		if len(terminals) != 1 {
			t.Fatalf("expected terminal callback despite fetch failure, got %d", len(terminals))
		}
		if terminals[0].Results != nil {
			t.Error("expected nil results")
		}
	})

	t.Run("Failed Status", func(t *testing.T) {
		fetcher := tu.NewMockFetcher("s-1")
		rec := tu.NewRecorder()
		listen := func(ctx context.Context, sink Sink) error {
			sink.Status(ctx, models.WorkflowStatus{Status: "gathering_seeds"})
			sink.Status(ctx, models.WorkflowStatus{Status: "failed", Error: "spotify token expired"})
			return nil
		}

		sub := NewSubscription(newScriptedOpener(KindWebSocket, listen), fetcher, recorderCallbacks(rec), fastOptions())
		if err := sub.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		terminals := rec.Terminals()
		if len(terminals) != 1 || terminals[0].Status.Status != "failed" {
			t.Fatalf("expected failed terminal, got %+v", terminals)
		}
		if terminals[0].Status.Error != "spotify token expired" {
			t.Errorf("expected error to be carried, got %q", terminals[0].Status.Error)
		}
		if fetcher.StatusCalls() != 0 {
			t.Errorf("expected no reconcile after terminal, got %d", fetcher.StatusCalls())
		}
	})

	t.Run("Statuses After Terminal Are Dropped", func(t *testing.T) {
		fetcher := tu.NewMockFetcher("s-1")
		rec := tu.NewRecorder()
		listen := func(ctx context.Context, sink Sink) error {
			if !sink.Status(ctx, models.WorkflowStatus{Status: "completed"}) {
				t.Error("expected sink to report done after terminal")
			}
			sink.Status(ctx, models.WorkflowStatus{Status: "creating_playlist"})
			return nil
		}

		sub := NewSubscription(newScriptedOpener(KindWebSocket, listen), fetcher, recorderCallbacks(rec), fastOptions())
		sub.Run(context.Background())

		if got := join(rec.Statuses()); got != "completed" {
			t.Errorf("expected only the terminal status, got %s", got)
		}
	})
}

func TestSubscriptionOrdering(t *testing.T) {
	fetcher := tu.NewMockFetcher("s-1", "completed")
	rec := tu.NewRecorder()
	listen := func(ctx context.Context, sink Sink) error {
		sink.Status(ctx, models.WorkflowStatus{Status: "generating_recommendations", CurrentStep: "Generating"})
		sink.Status(ctx, models.WorkflowStatus{Status: "analyzing_mood", CurrentStep: "Analyzing", Metadata: map[string]any{"iteration": float64(3)}})
		sink.Status(ctx, models.WorkflowStatus{Status: "gathering_seeds_fetching_top_tracks"})
		sink.Status(ctx, models.WorkflowStatus{Status: "completed"})
		return nil
	}

	sub := NewSubscription(newScriptedOpener(KindWebSocket, listen), fetcher, recorderCallbacks(rec), fastOptions())
	if err := sub.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := "generating_recommendations,generating_recommendations,generating_recommendations,completed"
	if got := join(rec.Statuses()); got != want {
		t.Errorf("statuses = %s, want %s", got, want)
	}
}

func TestSubscriptionSeededWithKnownStatus(t *testing.T) {
	fetcher := tu.NewMockFetcher("s-1", "completed")
	rec := tu.NewRecorder()
	opts := fastOptions()
	opts.LastKnownStatus = "optimizing_recommendations"

	sub := NewSubscription(newScriptedOpener(KindWebSocket, send(nil, "pending", "completed")), fetcher, recorderCallbacks(rec), opts)
	sub.Run(context.Background())

	if got := join(rec.Statuses()); got != "optimizing_recommendations,completed" {
		t.Errorf("unexpected statuses %s", got)
	}
}

func TestSubscriptionReconnect(t *testing.T) {
	t.Run("Dropped Stream Reconnects", func(t *testing.T) {
		fetcher := tu.NewMockFetcher("s-1", "analyzing_mood", "gathering_seeds", "completed")
		opener := newScriptedOpener(KindWebSocket,
			send(io.ErrUnexpectedEOF, "analyzing_mood"),
			nil,
			send(nil, "generating_recommendations", "completed"),
		)
		rec := tu.NewRecorder()

		sub := NewSubscription(opener, fetcher, recorderCallbacks(rec), fastOptions())
		if err := sub.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if rec.Reconnects() != 1 {
			t.Errorf("expected one reconnect, got %d", rec.Reconnects())
		}
		if opener.Opens() != 3 {
			t.Errorf("expected 3 open attempts, got %d", opener.Opens())
		}
		if len(rec.Terminals()) != 1 || fetcher.ResultsCalls() != 1 {
			t.Errorf("expected single terminal, got %d terminals and %d fetches", len(rec.Terminals()), fetcher.ResultsCalls())
		}

		var connErr bool
		for _, err := range rec.Errors() {
			if errors.Is(err, shared.ErrConnection) {
				connErr = true
			}
		}
		if !connErr {
			t.Error("expected a non-fatal connection error to be reported")
		}
	})

	t.Run("Falls Back To Polling", func(t *testing.T) {
		fetcher := tu.NewMockFetcher("s-1", "creating_playlist", "creating_playlist", "completed")
		opts := fastOptions()
		opts.Fallback = NewPollingOpener(fetcher, fastPolling(), nil, nil)
		rec := tu.NewRecorder()

		sub := NewSubscription(newScriptedOpener(KindWebSocket), fetcher, recorderCallbacks(rec), opts)
		if err := sub.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if sub.Kind() != KindPolling {
			t.Errorf("expected polling after fallback, got %s", sub.Kind())
		}
		if len(rec.Terminals()) != 1 {
			t.Errorf("expected terminal via polling, got %d", len(rec.Terminals()))
		}
	})

	t.Run("No Fallback", func(t *testing.T) {
		fetcher := tu.NewMockFetcher("s-1", "pending")
		rec := tu.NewRecorder()

		sub := NewSubscription(newScriptedOpener(KindSSE), fetcher, recorderCallbacks(rec), fastOptions())
		err := sub.Run(context.Background())
		if !errors.Is(err, shared.ErrConnection) {
			t.Fatalf("expected ErrConnection, got %v", err)
		}
		if rec.Completes() != 1 {
			t.Errorf("expected OnComplete after fatal error, got %d", rec.Completes())
		}
	})

	t.Run("Redial Waits After Short Stream", func(t *testing.T) {
		var opens atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			opens.Add(1)
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "event: status\ndata: {\"session_id\":\"s-1\",\"status\":\"generating_recommendations\"}\n\n")
			w.(http.Flusher).Flush()
		}))
		t.Cleanup(srv.Close)

		fetcher := tu.NewMockFetcher("s-1", "generating_recommendations")
		opts := Options{SessionID: "s-1", ReconnectAttempts: 3, ReconnectDelay: 50 * time.Millisecond}
		sub := NewSubscription(NewSSEOpener(srv.Client(), sseURL(srv), true), fetcher, Callbacks{}, opts)

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		if err := sub.Run(ctx); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		// Redials wait 50ms, 100ms, 200ms, so at most four streams fit in the window.
		if n := opens.Load(); n < 2 || n > 4 {
			t.Errorf("expected 2-4 stream opens in 300ms, got %d", n)
		}
		// One reconcile when a stream closes and one after each redial.
		if n := fetcher.StatusCalls(); int64(n) > 2*opens.Load() {
			t.Errorf("expected at most two reconciles per stream, got %d fetches for %d opens", n, opens.Load())
		}
	})

	t.Run("Final Fetch Before Complete", func(t *testing.T) {
		fetcher := tu.NewMockFetcher("s-1", "completed")
		opts := fastOptions()
		opts.FinalFetch = true

		var order []string
		cb := Callbacks{
			OnTerminal: func(st models.WorkflowStatus, _ *models.WorkflowResults) { order = append(order, "terminal:"+st.Status) },
			OnComplete: func() { order = append(order, "complete") },
		}
		sub := NewSubscription(newScriptedOpener(KindSSE), fetcher, cb, opts)
		if err := sub.Run(context.Background()); !errors.Is(err, shared.ErrConnection) {
			t.Fatalf("expected ErrConnection, got %v", err)
		}

		if got := join(order); got != "terminal:completed,complete" {
			t.Errorf("expected terminal before complete, got %s", got)
		}
		if fetcher.StatusCalls() != 1 {
			t.Errorf("expected one final status fetch, got %d", fetcher.StatusCalls())
		}
	})

	t.Run("Repeated Empty Streams", func(t *testing.T) {
		fetcher := tu.NewMockFetcher("s-1", "pending")
		opts := fastOptions()
		opts.ReconnectAttempts = 1
		empty := send(nil)
		opener := newScriptedOpener(KindWebSocket, empty, empty, empty, empty)
		rec := tu.NewRecorder()

		sub := NewSubscription(opener, fetcher, recorderCallbacks(rec), opts)
		if err := sub.Run(context.Background()); !errors.Is(err, shared.ErrConnection) {
			t.Fatalf("expected ErrConnection, got %v", err)
		}
	})
}

func TestSubscriptionPolling(t *testing.T) {
	t.Run("Reaches Terminal", func(t *testing.T) {
		fetcher := tu.NewMockFetcher("s-1", "pending", "analyzing_mood", "analyzing_mood", "completed")
		rec := tu.NewRecorder()

		sub := NewSubscription(NewPollingOpener(fetcher, fastPolling(), nil, nil), fetcher, recorderCallbacks(rec), fastOptions())
		if err := sub.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if fetcher.StatusCalls() != 4 {
			t.Errorf("expected polling to stop at terminal after 4 fetches, got %d", fetcher.StatusCalls())
		}
		if fetcher.ResultsCalls() != 1 {
			t.Errorf("expected one results fetch, got %d", fetcher.ResultsCalls())
		}
	})

	t.Run("Retry Limit Is Fatal", func(t *testing.T) {
		fetcher := tu.NewMockFetcher("s-1")
		fetcher.StatusFn = func(int) (*models.WorkflowStatus, error) {
			return nil, errors.New("503 service unavailable")
		}
		rec := tu.NewRecorder()

		sub := NewSubscription(NewPollingOpener(fetcher, fastPolling(), nil, nil), fetcher, recorderCallbacks(rec), fastOptions())
		err := sub.Run(context.Background())
		if !errors.Is(err, polling.ErrRetryLimitExceeded) {
			t.Fatalf("expected ErrRetryLimitExceeded, got %v", err)
		}
		if !errors.Is(err, shared.ErrPollingFailed) {
			t.Errorf("expected ErrPollingFailed, got %v", err)
		}
		if fetcher.StatusCalls() != 3 {
			t.Errorf("expected 3 attempts with MaxRetries 2, got %d", fetcher.StatusCalls())
		}
		if rec.Completes() != 1 {
			t.Errorf("expected OnComplete once, got %d", rec.Completes())
		}
	})
}

func TestSubscriptionCallbackPanic(t *testing.T) {
	fetcher := tu.NewMockFetcher("s-1", "completed")
	rec := tu.NewRecorder()
	cb := recorderCallbacks(rec)
	calls := 0
	cb.OnStatus = func(st models.WorkflowStatus) {
		calls++
		if calls == 1 {
			panic("render failed")
		}
		rec.OnStatus(st)
	}

	sub := NewSubscription(newScriptedOpener(KindWebSocket, send(nil, "pending", "completed")), fetcher, cb, fastOptions())
	if err := sub.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var panicked bool
	for _, err := range rec.Errors() {
		if errors.Is(err, ErrCallbackPanic) {
			panicked = true
		}
	}
	if !panicked {
		t.Error("expected panic to be reported through OnError")
	}
	if len(rec.Terminals()) != 1 {
		t.Error("expected subscription to keep running after a callback panic")
	}
}

func TestSubscriptionStop(t *testing.T) {
	fetcher := tu.NewMockFetcher("s-1", "pending")
	rec := tu.NewRecorder()

	sub := NewSubscription(newScriptedOpener(KindWebSocket, block), fetcher, recorderCallbacks(rec), fastOptions())
	stop := sub.Start(context.Background())

	time.Sleep(10 * time.Millisecond)
	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("stop did not return")
	}

	if sub.Err() != nil {
		t.Errorf("expected nil error after teardown, got %v", sub.Err())
	}
	if rec.Completes() != 0 {
		t.Errorf("expected no OnComplete on teardown, got %d", rec.Completes())
	}
	if fetcher.StatusCalls() != 0 {
		t.Errorf("expected no reconcile on teardown, got %d", fetcher.StatusCalls())
	}
}
