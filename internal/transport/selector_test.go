package transport

import (
	"errors"
	"testing"

	"github.com/dennisjooo/moodlist-sub000/internal/shared"
)

func TestSelector(t *testing.T) {
	ws := newScriptedOpener(KindWebSocket)
	sse := newScriptedOpener(KindSSE)
	poll := newScriptedOpener(KindPolling)
	off := func(k Kind) *scriptedOpener { o := newScriptedOpener(k); o.supported = false; return o }

	tests := []struct {
		name     string
		selector Selector
		want     Kind
		wantErr  error
	}{
		{name: "websocket first", selector: Selector{WebSocket: ws, SSE: sse, Polling: poll, Fallback: true}, want: KindWebSocket},
		{name: "sse when websocket unsupported", selector: Selector{WebSocket: off(KindWebSocket), SSE: sse, Polling: poll, Fallback: true}, want: KindSSE},
		{name: "polling fallback", selector: Selector{WebSocket: off(KindWebSocket), SSE: off(KindSSE), Polling: poll, Fallback: true}, want: KindPolling},
		{name: "fallback disabled", selector: Selector{WebSocket: off(KindWebSocket), SSE: off(KindSSE), Polling: poll}, wantErr: shared.ErrNoTransport},
		{name: "missing openers", selector: Selector{Fallback: true}, wantErr: shared.ErrNoTransport},
		{name: "preferred sse", selector: Selector{WebSocket: ws, SSE: sse, Polling: poll, Preferred: KindSSE}, want: KindSSE},
		{name: "preferred polling without fallback", selector: Selector{WebSocket: ws, Polling: poll, Preferred: KindPolling}, want: KindPolling},
		{name: "preferred unavailable", selector: Selector{WebSocket: off(KindWebSocket), Preferred: KindWebSocket}, wantErr: shared.ErrNoTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.selector.Select()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Kind() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got.Kind())
			}
		})
	}

	t.Run("FallbackOpener", func(t *testing.T) {
		s := Selector{Polling: poll, Fallback: true}
		if s.FallbackOpener() == nil {
			t.Error("expected polling fallback")
		}
		s.Fallback = false
		if s.FallbackOpener() != nil {
			t.Error("expected no fallback when disabled")
		}
	})

	t.Run("NewSelector", func(t *testing.T) {
		s, err := NewSelector(shared.TransportConfig{Preferred: "ws", Fallback: true}, ws, sse, poll)
		if err != nil {
			t.Fatalf("NewSelector() error = %v", err)
		}
		if s.Preferred != KindWebSocket {
			t.Errorf("expected websocket preference, got %q", s.Preferred)
		}

		if _, err := NewSelector(shared.TransportConfig{Preferred: "smoke-signals"}, ws, sse, poll); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}
