package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/polling"
	tu "github.com/dennisjooo/moodlist-sub000/internal/testing"
)

const waitFor = 2 * time.Second

// scriptedOpener hands out one scripted connection per Open call. Once the script runs out,
// Open fails.
type scriptedOpener struct {
	kind      Kind
	supported bool

	mu    sync.Mutex
	opens int
	conns []func(ctx context.Context, sink Sink) error
}

func newScriptedOpener(kind Kind, conns ...func(ctx context.Context, sink Sink) error) *scriptedOpener {
	return &scriptedOpener{kind: kind, supported: true, conns: conns}
}

func (o *scriptedOpener) Kind() Kind      { return o.kind }
func (o *scriptedOpener) Supported() bool { return o.supported }

func (o *scriptedOpener) Open(ctx context.Context, sessionID string) (Conn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if len(o.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	listen := o.conns[0]
	o.conns = o.conns[1:]
	if listen == nil {
		return nil, errors.New("connection refused")
	}
	return &scriptedConn{listen: listen}, nil
}

func (o *scriptedOpener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

type scriptedConn struct {
	listen func(ctx context.Context, sink Sink) error
}

func (c *scriptedConn) Listen(ctx context.Context, sink Sink) error { return c.listen(ctx, sink) }
func (c *scriptedConn) Close() error                                { return nil }

// send delivers statuses in order, then ends the stream with err.
func send(err error, statuses ...string) func(ctx context.Context, sink Sink) error {
	return func(ctx context.Context, sink Sink) error {
		for _, s := range statuses {
			if sink.Status(ctx, models.WorkflowStatus{SessionID: "s-1", Status: s}) {
				return nil
			}
		}
		return err
	}
}

// block waits for cancellation.
func block(ctx context.Context, _ Sink) error {
	<-ctx.Done()
	return ctx.Err()
}

func recorderCallbacks(r *tu.Recorder) Callbacks {
	return Callbacks{
		OnStatus:    r.OnStatus,
		OnError:     r.OnError,
		OnComplete:  r.OnComplete,
		OnReconnect: r.OnReconnect,
		OnTerminal:  r.OnTerminal,
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

func fastOptions() Options {
	return Options{SessionID: "s-1", ReconnectAttempts: 2, ReconnectDelay: time.Millisecond}
}

func join(s []string) string { return strings.Join(s, ",") }
