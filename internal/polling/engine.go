package polling

import (
	"fmt"
	"sync"
	"time"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	"github.com/dennisjooo/moodlist-sub000/internal/status"
)

// ErrRetryLimitExceeded is returned once consecutive failures pass the configured retry cap.
var ErrRetryLimitExceeded = fmt.Errorf("%w: retry limit exceeded", shared.ErrPollingFailed)

const (
	relaxAfter       = 5
	relaxFurther     = 10
	relaxFactor      = 1.25
	relaxMoreFactor  = 1.5
	defaultInterval  = 3 * time.Second
	awaitingInterval = 10 * time.Second
	defaultBackoff   = 30 * time.Second
	defaultRetries   = 5
)

// Config holds the polling schedule.
type Config struct {
	DefaultInterval       time.Duration
	AwaitingInputInterval time.Duration
	MaxBackoff            time.Duration
	MaxRetries            int
	Intervals             map[string]time.Duration // keyed by status or canonical stage
}

// DefaultConfig returns the built-in schedule.
func DefaultConfig() Config {
	return Config{
		DefaultInterval:       defaultInterval,
		AwaitingInputInterval: awaitingInterval,
		MaxBackoff:            defaultBackoff,
		MaxRetries:            defaultRetries,
		Intervals: map[string]time.Duration{
			models.StatusPending:                   5 * time.Second,
			models.StatusAnalyzingMood:             2 * time.Second,
			models.StatusGatheringSeeds:            2 * time.Second,
			models.StatusGeneratingRecommendations: 2 * time.Second,
			models.StatusEvaluatingQuality:         2 * time.Second,
			models.StatusOptimizingRecommendations: 2 * time.Second,
			models.StatusCreatingPlaylist:          1 * time.Second,
		},
	}
}

// ConfigFromShared converts the TOML polling section, filling unset values from [DefaultConfig].
func ConfigFromShared(c shared.PollingConfig) Config {
	cfg := DefaultConfig()
	if c.DefaultInterval > 0 {
		cfg.DefaultInterval = c.DefaultInterval
	}
	if c.AwaitingInputInterval > 0 {
		cfg.AwaitingInputInterval = c.AwaitingInputInterval
	}
	if c.MaxBackoff > 0 {
		cfg.MaxBackoff = c.MaxBackoff
	}
	if c.MaxRetries > 0 {
		cfg.MaxRetries = c.MaxRetries
	}
	for k, v := range c.Intervals {
		if v > 0 {
			cfg.Intervals[k] = v
		}
	}
	return cfg
}

// Engine tracks poll outcomes for a single session. It is safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	last      models.WorkflowStatus
	successes int
	failures  int
	delay     time.Duration
}

// NewEngine creates an Engine. Zero values in cfg fall back to [DefaultConfig].
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = def.DefaultInterval
	}
	if cfg.AwaitingInputInterval <= 0 {
		cfg.AwaitingInputInterval = def.AwaitingInputInterval
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Intervals == nil {
		cfg.Intervals = def.Intervals
	}
	return &Engine{cfg: cfg}
}

// BaseInterval returns the unrelaxed interval for st.
//
// Awaiting input wins over the status table. Sub-steps use the interval of the stage they contain.
func (e *Engine) BaseInterval(st models.WorkflowStatus) time.Duration {
	if st.AwaitingInput {
		return e.cfg.AwaitingInputInterval
	}
	if d, ok := e.cfg.Intervals[st.Status]; ok {
		return d
	}
	if d, ok := e.cfg.Intervals[status.Stage(st.Status)]; ok {
		return d
	}
	return e.cfg.DefaultInterval
}

// RecordSuccess records a successful poll and returns the delay before the next one.
func (e *Engine) RecordSuccess(st models.WorkflowStatus) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.last.Status != "" && st.Status != e.last.Status {
		e.successes = 0
	} else {
		e.successes++
	}
	e.failures = 0
	e.last = st

	d := e.BaseInterval(st)
	switch {
	case e.successes > relaxFurther:
		d = time.Duration(float64(d) * relaxMoreFactor)
	case e.successes > relaxAfter:
		d = time.Duration(float64(d) * relaxFactor)
	}
	e.delay = e.clamp(d)
	return e.delay
}

// RecordFailure records a failed poll. It returns the backoff delay, or [ErrRetryLimitExceeded]
// when the failure count passes MaxRetries.
func (e *Engine) RecordFailure() (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.failures++
	if e.failures > e.cfg.MaxRetries {
		e.delay = 0
		return 0, fmt.Errorf("%w after %d attempts", ErrRetryLimitExceeded, e.failures)
	}

	d := e.BaseInterval(e.last)
	for range e.failures {
		if d >= e.cfg.MaxBackoff {
			break
		}
		d *= 2
	}
	e.delay = e.clamp(d)
	return e.delay, nil
}

func (e *Engine) clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > e.cfg.MaxBackoff {
		return e.cfg.MaxBackoff
	}
	return d
}

// Reset clears all counters and the last observed status.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = models.WorkflowStatus{}
	e.successes, e.failures, e.delay = 0, 0, 0
}

// Successes returns the number of consecutive successful polls with an unchanged status.
func (e *Engine) Successes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.successes
}

// Failures returns the number of consecutive failed polls.
func (e *Engine) Failures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

// Delay returns the last computed delay.
func (e *Engine) Delay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delay
}
