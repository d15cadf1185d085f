package transport

import (
	"context"
	"errors"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
)

// ErrCallbackPanic wraps a panic recovered from a subscriber callback.
var ErrCallbackPanic = errors.New("callback panicked")

// Kind names a transport.
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindSSE       Kind = "sse"
	KindPolling   Kind = "polling"
)

func (k Kind) String() string { return string(k) }

// ParseKind converts a configured transport name. "" and "auto" return "".
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "", "auto":
		return "", true
	case string(KindWebSocket), "ws":
		return KindWebSocket, true
	case string(KindSSE):
		return KindSSE, true
	case string(KindPolling), "poll":
		return KindPolling, true
	default:
		return "", false
	}
}

// Callbacks receives subscription events. Nil fields are skipped.
type Callbacks struct {
	OnStatus    func(models.WorkflowStatus)
	OnError     func(error)
	OnComplete  func()
	OnReconnect func()
	// OnTerminal fires once per session. Results are nil when the fetch failed.
	OnTerminal func(models.WorkflowStatus, *models.WorkflowResults)
}

// Fetcher reads status snapshots and results from the workflow API.
type Fetcher interface {
	FetchStatus(ctx context.Context, sessionID string) (*models.WorkflowStatus, error)
	FetchResults(ctx context.Context, sessionID string) (*models.WorkflowResults, error)
}

// Opener opens status connections of one kind.
type Opener interface {
	Kind() Kind
	Supported() bool
	Open(ctx context.Context, sessionID string) (Conn, error)
}

// Conn is an open status connection.
type Conn interface {
	// Listen delivers statuses to sink until the stream ends, sink reports done or ctx is cancelled.
	// A nil error means the remote side finished the stream cleanly.
	Listen(ctx context.Context, sink Sink) error
	Close() error
}

// Sink consumes what a Conn receives.
type Sink interface {
	// Status handles one status and reports whether the subscription is finished.
	Status(ctx context.Context, st models.WorkflowStatus) (done bool)
	// Error reports a non-fatal problem such as an undecodable message.
	Error(err error)
}
