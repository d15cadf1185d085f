package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dennisjooo/moodlist-sub000/internal/metrics"
	"github.com/dennisjooo/moodlist-sub000/internal/polling"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	"github.com/dennisjooo/moodlist-sub000/internal/status"
)

// PollingOpener fetches the status on the schedule computed by [polling.Engine].
type PollingOpener struct {
	fetcher Fetcher
	cfg     polling.Config
	logger  *log.Logger
	metrics *metrics.Metrics
}

// NewPollingOpener creates a polling opener. logger and m may be nil.
func NewPollingOpener(fetcher Fetcher, cfg polling.Config, logger *log.Logger, m *metrics.Metrics) *PollingOpener {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &PollingOpener{fetcher: fetcher, cfg: cfg, logger: logger, metrics: m}
}

func (o *PollingOpener) Kind() Kind { return KindPolling }

func (o *PollingOpener) Supported() bool { return o.fetcher != nil }

// Open never fails; each connection gets its own engine and timer.
func (o *PollingOpener) Open(_ context.Context, sessionID string) (Conn, error) {
	return &pollConn{
		sessionID: sessionID,
		fetcher:   o.fetcher,
		engine:    polling.NewEngine(o.cfg),
		scheduler: &polling.Scheduler{},
		logger:    o.logger.With("session_id", sessionID),
		metrics:   o.metrics,
		tick:      make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}, nil
}

type pollConn struct {
	sessionID string
	fetcher   Fetcher
	engine    *polling.Engine
	scheduler *polling.Scheduler
	logger    *log.Logger
	metrics   *metrics.Metrics

	tick      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *pollConn) fire() {
	select {
	case c.tick <- struct{}{}:
	default:
	}
}

// Listen polls until a terminal status, a retry-limit failure, Close or ctx cancellation.
func (c *pollConn) Listen(ctx context.Context, sink Sink) error {
	defer c.scheduler.Cancel()
	c.fire()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case <-c.tick:
		}

		st, err := c.fetcher.FetchStatus(ctx, c.sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.metrics.PollFailed()
			delay, limitErr := c.engine.RecordFailure()
			if limitErr != nil {
				c.logger.Error("polling stopped", "failures", c.engine.Failures(), "error", err)
				return fmt.Errorf("%w: %v", limitErr, err)
			}
			c.logger.Warn("poll failed", "retry_in", delay, "error", err)
			sink.Error(fmt.Errorf("%w: %v", shared.ErrConnection, err))
			c.scheduler.Schedule(delay, c.fire)
			continue
		}

		if sink.Status(ctx, *st) || status.IsTerminal(st.Status) {
			return nil
		}

		delay := c.engine.RecordSuccess(*st)
		c.metrics.PollScheduled(delay)
		c.logger.Debug("next poll", "status", st.Status, "in", delay)
		c.scheduler.Schedule(delay, c.fire)
	}
}

func (c *pollConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.scheduler.Cancel()
	})
	return nil
}
