package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dennisjooo/moodlist-sub000/internal/shared"
)

// URLFunc builds the endpoint URL for a session.
type URLFunc func(sessionID string) string

// WebSocketOpener opens status streams over WebSocket.
type WebSocketOpener struct {
	url     URLFunc
	header  func() http.Header
	dialer  *websocket.Dialer
	enabled bool
}

// NewWebSocketOpener creates an opener dialing url(sessionID). header is called for every dial and may be nil.
func NewWebSocketOpener(url URLFunc, header func() http.Header, enabled bool) *WebSocketOpener {
	return &WebSocketOpener{
		url:     url,
		header:  header,
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		enabled: enabled,
	}
}

func (o *WebSocketOpener) Kind() Kind { return KindWebSocket }

func (o *WebSocketOpener) Supported() bool { return o.enabled && o.url != nil }

func (o *WebSocketOpener) Open(ctx context.Context, sessionID string) (Conn, error) {
	var header http.Header
	if o.header != nil {
		header = o.header()
	}

	conn, resp, err := o.dialer.DialContext(ctx, o.url(sessionID), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: websocket handshake failed with status %d: %v", shared.ErrConnection, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: websocket dial: %v", shared.ErrConnection, err)
	}
	return &wsConn{conn: conn, closed: make(chan struct{})}, nil
}

type wsConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *wsConn) Listen(ctx context.Context, sink Sink) error {
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.closed:
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			sink.Error(err)
			continue
		}

		switch msg.Type {
		case MessageStatus:
			if sink.Status(ctx, *msg.Data) {
				return nil
			}
		case MessageError:
			sink.Error(fmt.Errorf("%w: %s", shared.ErrAPIRequest, msg.ErrorText()))
		case MessagePing:
			pong, _ := json.Marshal(Message{Type: MessagePong})
			if err := c.conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				return err
			}
		case MessageComplete:
			return nil
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}
