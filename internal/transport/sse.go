package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
)

const maxEventSize = 1 << 20

// SSEOpener opens status streams over Server-Sent Events.
type SSEOpener struct {
	client  *http.Client
	url     URLFunc
	enabled bool
}

// NewSSEOpener creates an opener streaming from url(sessionID). The client carries authentication.
func NewSSEOpener(client *http.Client, url URLFunc, enabled bool) *SSEOpener {
	if client == nil {
		client = http.DefaultClient
	}
	return &SSEOpener{client: client, url: url, enabled: enabled}
}

func (o *SSEOpener) Kind() Kind { return KindSSE }

func (o *SSEOpener) Supported() bool { return o.enabled && o.url != nil }

func (o *SSEOpener) Open(ctx context.Context, sessionID string) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url(sessionID), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to establish SSE connection: %v", shared.ErrConnection, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: SSE connection failed with status %d", shared.ErrConnection, resp.StatusCode)
	}
	return &sseConn{body: resp.Body}, nil
}

type sseConn struct {
	body      io.ReadCloser
	closeOnce sync.Once
}

// event is one parsed Server-Sent Event.
type event struct {
	name string
	data strings.Builder
}

func (c *sseConn) Listen(ctx context.Context, sink Sink) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	scanner := bufio.NewScanner(c.body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var ev event
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			done, finished := c.dispatch(ctx, &ev, sink)
			ev = event{}
			if done || finished {
				return nil
			}
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.name = value
		case "data":
			if ev.data.Len() > 0 {
				ev.data.WriteByte('\n')
			}
			ev.data.WriteString(value)
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

// dispatch handles a complete event. done reports that the subscription is finished and
// finished that the server ended the stream.
func (c *sseConn) dispatch(ctx context.Context, ev *event, sink Sink) (done, finished bool) {
	if ev.data.Len() == 0 && ev.name == "" {
		return false, false
	}
	data := ev.data.String()

	switch ev.name {
	case "", MessageStatus, "message":
		msg, err := DecodeMessage([]byte(data))
		if err != nil {
			sink.Error(err)
			return false, false
		}
		switch msg.Type {
		case MessageStatus:
			return sink.Status(ctx, *msg.Data), false
		case MessageError:
			sink.Error(fmt.Errorf("%w: %s", shared.ErrAPIRequest, msg.ErrorText()))
		case MessageComplete:
			return false, true
		}
	case MessageError:
		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil || (msg.Error == "" && msg.Message == "") {
			msg = Message{Error: data}
		}
		sink.Error(fmt.Errorf("%w: %s", shared.ErrAPIRequest, msg.ErrorText()))
	case MessageComplete, "done":
		if data != "" {
			var st models.WorkflowStatus
			if err := json.Unmarshal([]byte(data), &st); err == nil && st.Status != "" {
				return sink.Status(ctx, st), true
			}
		}
		return false, true
	}
	return false, false
}

func (c *sseConn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.body.Close() })
	return err
}
