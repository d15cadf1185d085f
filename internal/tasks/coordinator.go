package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dennisjooo/moodlist-sub000/internal/metrics"
	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	"github.com/dennisjooo/moodlist-sub000/internal/status"
	"github.com/dennisjooo/moodlist-sub000/internal/transport"
)

const tokenCacheSize = 256

// SubscribeOptions describes the session a [Coordinator] should follow.
type SubscribeOptions struct {
	SessionID string
	// LastKnownStatus seeds the ordering gate. A terminal value means no channel is opened.
	LastKnownStatus string
	Enabled         bool
	Callbacks       transport.Callbacks
}

// CoordinatorOptions tunes the subscriptions a [Coordinator] creates.
type CoordinatorOptions struct {
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Logger            *log.Logger
	Metrics           *metrics.Metrics
}

// Coordinator keeps at most one live status subscription and switches it when the followed
// session changes.
//
// Callbacks run on the subscription goroutine and must not call back into the Coordinator.
type Coordinator struct {
	selector *transport.Selector
	fetcher  transport.Fetcher
	opts     CoordinatorOptions
	logger   *log.Logger
	tokens   *lru.Cache[string, *transport.CompletionToken]

	mu         sync.Mutex
	configured bool
	current    SubscribeOptions
	sub        *transport.Subscription
	stop       func()
	done       chan struct{}

	lastSeen atomic.Pointer[string]
}

// NewCoordinator builds a Coordinator that picks transports with selector and reconciles through
// fetcher.
func NewCoordinator(selector *transport.Selector, fetcher transport.Fetcher, opts CoordinatorOptions) (*Coordinator, error) {
	if selector == nil || fetcher == nil {
		return nil, fmt.Errorf("%w: coordinator needs a selector and a fetcher", shared.ErrInvalidInput)
	}
	tokens, err := lru.New[string, *transport.CompletionToken](tokenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Coordinator{
		selector: selector,
		fetcher:  fetcher,
		opts:     opts,
		logger:   shared.WithLogger(logger, "component", "coordinator"),
		tokens:   tokens,
	}, nil
}

// Subscribe follows opts.SessionID.
//
// Calling it again with the same session and Enabled value is a no-op. Any other change tears the
// running subscription down before the next one starts. An empty session or Enabled=false leaves
// nothing running.
func (c *Coordinator) Subscribe(ctx context.Context, opts SubscribeOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.configured && c.current.SessionID == opts.SessionID && c.current.Enabled == opts.Enabled {
		return nil
	}

	c.teardown()
	c.configured = true
	c.current = opts
	c.lastSeen.Store(nil)

	if opts.SessionID == "" || !opts.Enabled {
		c.logger.Debug("subscription disabled", "session_id", opts.SessionID, "enabled", opts.Enabled)
		return nil
	}

	return c.start(ctx, opts.LastKnownStatus)
}

// Reconnect restarts the current subscription, seeding it with the last status it delivered.
func (c *Coordinator) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.configured || c.current.SessionID == "" || !c.current.Enabled {
		return nil
	}

	known := c.current.LastKnownStatus
	if seen := c.lastSeen.Load(); seen != nil {
		known = *seen
	}
	c.teardown()
	c.logger.Info("reconnecting", "session_id", c.current.SessionID, "last_status", known)
	return c.start(ctx, known)
}

// Stop tears down the running subscription and waits for it to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardown()
	c.configured = false
	c.current = SubscribeOptions{}
}

// Done returns a channel closed when the active subscription has ended. Without an active
// subscription the channel is already closed.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Active returns the followed session and the transport in use. Both are empty when idle.
func (c *Coordinator) Active() (sessionID string, kind transport.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return "", ""
	}
	select {
	case <-c.done:
		return "", ""
	default:
	}
	return c.current.SessionID, c.sub.Kind()
}

// Transport returns the transport of the most recent subscription, even when it has ended.
func (c *Coordinator) Transport() transport.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return ""
	}
	return c.sub.Kind()
}

// Token returns the completion token kept for sessionID, creating it if needed.
func (c *Coordinator) Token(sessionID string) *transport.CompletionToken {
	if tok, ok := c.tokens.Get(sessionID); ok {
		return tok
	}
	tok := transport.NewCompletionToken()
	if prev, ok, _ := c.tokens.PeekOrAdd(sessionID, tok); ok {
		return prev
	}
	return tok
}

// start must be called with c.mu held and no running subscription.
func (c *Coordinator) start(ctx context.Context, known string) error {
	sessionID := c.current.SessionID
	token := c.Token(sessionID)

	if status.IsTerminal(known) {
		token.Claim(known)
		c.logger.Debug("session already finished, not opening a channel", "session_id", sessionID, "status", known)
		return nil
	}

	opener, err := c.selector.Select()
	if err != nil {
		return err
	}

	cb := c.current.Callbacks
	onStatus := cb.OnStatus
	cb.OnStatus = func(st models.WorkflowStatus) {
		s := st.Status
		c.lastSeen.Store(&s)
		if onStatus != nil {
			onStatus(st)
		}
	}

	sub := transport.NewSubscription(opener, c.fetcher, cb, transport.Options{
		SessionID:         sessionID,
		LastKnownStatus:   known,
		Token:             token,
		Fallback:          c.selector.FallbackOpener(),
		ReconnectAttempts: c.opts.ReconnectAttempts,
		ReconnectDelay:    c.opts.ReconnectDelay,
		FinalFetch:        true,
		Logger:            c.opts.Logger,
		Metrics:           c.opts.Metrics,
	})

	subCtx, cancel := context.WithCancel(ctx)
	stopSub := sub.Start(subCtx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		<-sub.Done()
		if err := sub.Err(); err != nil && subCtx.Err() == nil {
			c.logger.Warn("subscription ended with an error", "session_id", sessionID, "error", err)
		}
	}()

	c.logger.Info("subscribed", "session_id", sessionID, "transport", opener.Kind())
	c.sub = sub
	c.done = done
	c.stop = func() {
		cancel()
		stopSub()
		<-done
	}
	return nil
}

// teardown must be called with c.mu held.
func (c *Coordinator) teardown() {
	if c.stop == nil {
		return
	}
	c.logger.Debug("tearing down subscription", "session_id", c.current.SessionID)
	c.stop()
	c.stop = nil
	c.sub = nil
}
