package transport

import (
	"fmt"

	"github.com/dennisjooo/moodlist-sub000/internal/shared"
)

// Selector picks the transport for a new subscription.
type Selector struct {
	WebSocket Opener
	SSE       Opener
	Polling   Opener
	// Fallback allows polling when no stream transport is available.
	Fallback bool
	// Preferred forces a transport. "" cascades WebSocket, SSE, polling.
	Preferred Kind
}

// NewSelector creates a Selector from the transport configuration.
func NewSelector(cfg shared.TransportConfig, ws, sse, poll Opener) (*Selector, error) {
	kind, ok := ParseKind(cfg.Preferred)
	if !ok {
		return nil, fmt.Errorf("%w: unknown transport %q", shared.ErrInvalidConfig, cfg.Preferred)
	}
	return &Selector{WebSocket: ws, SSE: sse, Polling: poll, Fallback: cfg.Fallback, Preferred: kind}, nil
}

// Select returns the opener to use.
//
// When Fallback is off and neither stream transport is supported it returns [shared.ErrNoTransport]
// instead of polling.
func (s *Selector) Select() (Opener, error) {
	if s.Preferred != "" {
		o := s.byKind(s.Preferred)
		if !supported(o) {
			return nil, fmt.Errorf("%w: %s is not available", shared.ErrNoTransport, s.Preferred)
		}
		return o, nil
	}

	if supported(s.WebSocket) {
		return s.WebSocket, nil
	}
	if supported(s.SSE) {
		return s.SSE, nil
	}
	if s.Fallback && supported(s.Polling) {
		return s.Polling, nil
	}
	return nil, fmt.Errorf("%w: websocket and sse are unavailable and polling fallback is disabled", shared.ErrNoTransport)
}

// FallbackOpener returns the opener a dropped stream may switch to, or nil.
func (s *Selector) FallbackOpener() Opener {
	if s.Fallback && supported(s.Polling) {
		return s.Polling
	}
	return nil
}

func (s *Selector) byKind(k Kind) Opener {
	switch k {
	case KindWebSocket:
		return s.WebSocket
	case KindSSE:
		return s.SSE
	case KindPolling:
		return s.Polling
	default:
		return nil
	}
}

func supported(o Opener) bool {
	return o != nil && o.Supported()
}
