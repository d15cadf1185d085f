package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sethvargo/go-retry"

	"github.com/dennisjooo/moodlist-sub000/internal/metrics"
	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	"github.com/dennisjooo/moodlist-sub000/internal/status"
)

const (
	defaultReconnectAttempts = 3
	defaultReconnectDelay    = 500 * time.Millisecond
	maxRedialDelay           = 30 * time.Second
	// A stream that stayed open this long resets the redial delay.
	stableStream = 30 * time.Second
)

// Options configures a [Subscription].
type Options struct {
	SessionID       string
	LastKnownStatus string
	// Token is shared by every subscription to the same session. Nil creates a fresh token.
	Token *CompletionToken
	// Fallback is opened once stream reconnects are exhausted. Nil disables fallback.
	Fallback          Opener
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	// FinalFetch reconciles once more when the subscription ends with a fatal error, before
	// OnComplete fires.
	FinalFetch bool
	Logger     *log.Logger
	Metrics    *metrics.Metrics
}

// Subscription follows one session over one transport and owns its terminal handling.
type Subscription struct {
	opener  Opener
	fetcher Fetcher
	cb      Callbacks
	opts    Options
	gate    *status.Gate
	token   *CompletionToken
	logger  *log.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex // serializes delivery
	kind     atomic.Value
	received atomic.Int64
	complete sync.Once

	done chan struct{}
	err  error
}

// NewSubscription builds a Subscription. Run or Start must be called to begin receiving.
func NewSubscription(opener Opener, fetcher Fetcher, cb Callbacks, opts Options) *Subscription {
	if opts.Token == nil {
		opts.Token = NewCompletionToken()
	}
	if opts.ReconnectAttempts < 0 {
		opts.ReconnectAttempts = 0
	} else if opts.ReconnectAttempts == 0 {
		opts.ReconnectAttempts = defaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	s := &Subscription{
		opener:  opener,
		fetcher: fetcher,
		cb:      cb,
		opts:    opts,
		gate:    status.NewGate(opts.LastKnownStatus),
		token:   opts.Token,
		logger:  logger.With("session_id", opts.SessionID),
		metrics: opts.Metrics,
		done:    make(chan struct{}),
	}
	s.kind.Store(opener.Kind())
	return s
}

// Kind returns the transport currently in use.
func (s *Subscription) Kind() Kind { return s.kind.Load().(Kind) }

// Token returns the session's completion token.
func (s *Subscription) Token() *CompletionToken { return s.token }

// Done is closed when a subscription started with Start has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the error Run ended with. Only valid after Done is closed.
func (s *Subscription) Err() error { return s.err }

// Start runs the subscription in its own goroutine. The returned stop func cancels it and waits
// for the goroutine to exit.
func (s *Subscription) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(s.done)
		s.err = s.Run(ctx)
	}()
	return func() {
		cancel()
		<-s.done
	}
}

// Run follows the session until a terminal status is handled, a fatal error occurs or ctx is
// cancelled. Cancellation is not an error and does not fire OnComplete.
func (s *Subscription) Run(ctx context.Context) error {
	defer s.metrics.SubscriptionStarted()()

	if s.token.Done() {
		s.logger.Debug("session already finished", "status", s.token.Status())
		s.finish(ctx)
		return nil
	}

	err := s.run(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("subscription failed", "kind", s.Kind(), "error", err)
		s.emitError(err)
		if s.opts.FinalFetch {
			s.logger.Warn("fetching final status", "error", err)
			s.Reconcile(ctx)
		}
	}
	s.finish(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Subscription) finish(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.complete.Do(func() {
		s.call("OnComplete", func() {
			if s.cb.OnComplete != nil {
				s.cb.OnComplete()
			}
		})
	})
}

func (s *Subscription) run(ctx context.Context) error {
	if s.opener.Kind() == KindPolling {
		return s.poll(ctx, s.opener)
	}

	reconnecting := false
	drops := 0
	redial := s.redialBackoff()
	for {
		if reconnecting {
			delay, _ := redial.Next()
			s.logger.Debug("waiting before redial", "kind", s.opener.Kind(), "delay", delay)
			if !sleep(ctx, delay) {
				return nil
			}
		}

		conn, err := s.open(ctx, s.opener)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return s.fallback(ctx, err)
		}

		if reconnecting {
			s.logger.Info("stream reconnected", "kind", s.opener.Kind())
			s.metrics.Reconnected()
			s.call("OnReconnect", func() {
				if s.cb.OnReconnect != nil {
					s.cb.OnReconnect()
				}
			})
			s.Reconcile(ctx)
			if s.token.Done() {
				conn.Close()
				return nil
			}
		}

		before := s.received.Load()
		opened := time.Now()
		listenErr := conn.Listen(ctx, s)
		conn.Close()
		if time.Since(opened) >= stableStream {
			redial = s.redialBackoff()
		}

		if ctx.Err() != nil || s.token.Done() {
			return nil
		}
		if listenErr != nil {
			s.logger.Warn("stream dropped", "kind", s.opener.Kind(), "error", listenErr)
			s.emitError(fmt.Errorf("%w: %v", shared.ErrConnection, listenErr))
		} else {
			s.logger.Debug("stream closed", "kind", s.opener.Kind())
		}

		s.Reconcile(ctx)
		if s.token.Done() {
			return nil
		}

		if s.received.Load() == before {
			drops++
		} else {
			drops = 0
		}
		if drops > s.opts.ReconnectAttempts {
			return s.fallback(ctx, errors.New("stream closed repeatedly without delivering a status"))
		}
		reconnecting = true
	}
}

// redialBackoff paces reopening a stream that connected and then closed.
func (s *Subscription) redialBackoff() retry.Backoff {
	return retry.WithCappedDuration(maxRedialDelay, retry.NewExponential(s.opts.ReconnectDelay))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// open dials with exponential backoff, making at most ReconnectAttempts extra attempts.
func (s *Subscription) open(ctx context.Context, opener Opener) (Conn, error) {
	var conn Conn
	backoff := retry.WithMaxRetries(uint64(s.opts.ReconnectAttempts), retry.NewExponential(s.opts.ReconnectDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := opener.Open(ctx, s.opts.SessionID)
		if err != nil {
			s.logger.Debug("open failed", "kind", opener.Kind(), "error", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.TransportOpened(opener.Kind().String())
	return conn, nil
}

func (s *Subscription) fallback(ctx context.Context, cause error) error {
	if s.opts.Fallback == nil {
		return fmt.Errorf("%w: %v", shared.ErrConnection, cause)
	}
	s.logger.Warn("falling back to polling", "from", s.opener.Kind(), "cause", cause)
	s.metrics.Fallback()
	s.emitError(fmt.Errorf("%w: %s unavailable, polling instead: %v", shared.ErrConnection, s.opener.Kind(), cause))
	return s.poll(ctx, s.opts.Fallback)
}

func (s *Subscription) poll(ctx context.Context, opener Opener) error {
	s.kind.Store(opener.Kind())
	conn, err := opener.Open(ctx, s.opts.SessionID)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.metrics.TransportOpened(opener.Kind().String())

	if err := conn.Listen(ctx, s); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Status implements [Sink].
func (s *Subscription) Status(ctx context.Context, st models.WorkflowStatus) bool {
	s.received.Add(1)
	s.deliver(ctx, st)
	return s.token.Done()
}

// Error implements [Sink].
func (s *Subscription) Error(err error) {
	s.logger.Warn("transport error", "kind", s.Kind(), "error", err)
	s.emitError(err)
}

// Reconcile fetches the current status once and delivers it like a streamed update.
func (s *Subscription) Reconcile(ctx context.Context) {
	if s.token.Done() {
		return
	}
	st, err := s.fetcher.FetchStatus(ctx, s.opts.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("reconcile fetch failed", "error", err)
		s.emitError(fmt.Errorf("%w: reconcile: %v", shared.ErrConnection, err))
		return
	}
	s.deliver(ctx, *st)
}

func (s *Subscription) deliver(ctx context.Context, st models.WorkflowStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token.Done() {
		return
	}

	out, accepted := s.gate.Filter(st)
	s.metrics.StatusEvent(accepted)
	if !accepted {
		s.logger.Debug("rejected backward status", "status", st.Status, "current", out.Status)
	}

	s.call("OnStatus", func() {
		if s.cb.OnStatus != nil {
			s.cb.OnStatus(out)
		}
	})

	if accepted && status.IsTerminal(out.Status) {
		s.terminal(ctx, out)
	}
}

func (s *Subscription) terminal(ctx context.Context, st models.WorkflowStatus) {
	if !s.token.Claim(st.Status) {
		return
	}
	s.logger.Info("workflow finished", "status", st.Status)
	s.metrics.Terminal(st.Status)

	results, err := s.fetcher.FetchResults(ctx, s.opts.SessionID)
	if err != nil {
		s.logger.Error("results fetch failed", "error", err)
		s.metrics.ResultsFetched("error")
		results = nil
	} else {
		s.metrics.ResultsFetched("ok")
	}

	s.call("OnTerminal", func() {
		if s.cb.OnTerminal != nil {
			s.cb.OnTerminal(st, results)
		}
	})
}

func (s *Subscription) emitError(err error) {
	s.call("OnError", func() {
		if s.cb.OnError != nil {
			s.cb.OnError(err)
		}
	})
}

// call runs a callback, converting a panic into an OnError call.
func (s *Subscription) call(name string, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("%w: %s: %v", ErrCallbackPanic, name, r)
		s.logger.Error("recovered callback panic", "callback", name, "panic", r)
		if name == "OnError" || s.cb.OnError == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("recovered callback panic", "callback", "OnError", "panic", r)
			}
		}()
		s.cb.OnError(err)
	}()
	fn()
}
