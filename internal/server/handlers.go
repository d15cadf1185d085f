package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	"github.com/dennisjooo/moodlist-sub000/internal/status"
	"github.com/dennisjooo/moodlist-sub000/internal/transport"
)

// DefaultPrefix is the path under which the workflow endpoints are mounted.
const DefaultPrefix = "/api/agents/recommendations"

const (
	defaultPingInterval = 20 * time.Second
	writeWait           = 5 * time.Second
	closeWait           = time.Second
)

// WorkflowHandler serves the workflow REST endpoints and both push channels from a [Simulator].
type WorkflowHandler struct {
	sim          *Simulator
	prefix       string
	pingInterval time.Duration
	upgrader     websocket.Upgrader
	logger       *log.Logger
}

// NewWorkflowHandler creates a WorkflowHandler mounted at prefix ([DefaultPrefix] when empty).
func NewWorkflowHandler(sim *Simulator, prefix string, logger *log.Logger) *WorkflowHandler {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &WorkflowHandler{
		sim:          sim,
		prefix:       prefix,
		pingInterval: defaultPingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Register mounts every workflow endpoint on r.
func (h *WorkflowHandler) Register(r Router) {
	r.Handle(http.MethodPost, joinPath(h.prefix, "/start"), http.HandlerFunc(h.handleStart))
	r.Handle(http.MethodGet, joinPath(h.prefix, "/status/{id}"), http.HandlerFunc(h.handleStatus))
	r.Handle(http.MethodGet, joinPath(h.prefix, "/results/{id}"), http.HandlerFunc(h.handleResults))
	r.Handle(http.MethodGet, joinPath(h.prefix, "/stream/{id}"), http.HandlerFunc(h.handleStream))
	r.Handle(http.MethodGet, joinPath(h.prefix, "/ws/{id}"), http.HandlerFunc(h.handleSocket))
	r.Handle(http.MethodDelete, joinPath(h.prefix, "/{id}"), http.HandlerFunc(h.handleCancel))
}

func (h *WorkflowHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req models.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.MoodPrompt) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "mood_prompt is required")
		return
	}
	writeJSON(w, http.StatusOK, h.sim.Start(req.MoodPrompt))
}

func (h *WorkflowHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.sim.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *WorkflowHandler) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := h.sim.Results(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *WorkflowHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sim.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": models.StatusCancelled})
}

// handleStream pushes every status change as a server-sent event and finishes with a complete event.
func (h *WorkflowHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, changed, err := h.sim.Watch(id)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	logger := shared.WithLogger(h.logger, "session_id", id, "channel", "sse")
	logger.Debug("stream opened")

	for {
		if err := writeEvent(w, transport.MessageStatus, st); err != nil {
			logger.Debug("stream write failed", "error", err)
			return
		}
		if status.IsTerminal(st.Status) {
			writeEvent(w, transport.MessageComplete, st)
			flusher.Flush()
			logger.Debug("stream completed", "status", st.Status)
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			logger.Debug("stream closed by client")
			return
		case <-changed:
		}

		if st, changed, err = h.sim.Watch(id); err != nil {
			return
		}
	}
}

// handleSocket pushes status envelopes until the workflow is terminal, pinging the client while idle.
func (h *WorkflowHandler) handleSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, changed, err := h.sim.Watch(id)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	logger := shared.WithLogger(h.logger, "session_id", id, "channel", "websocket")
	logger.Debug("socket opened")

	// Only this goroutine reads; pong replies and the client's close frame end up here.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	send := func(msg transport.Message) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}

	for {
		data := st
		if err := send(transport.Message{Type: transport.MessageStatus, Data: &data}); err != nil {
			logger.Debug("socket write failed", "error", err)
			return
		}
		if status.IsTerminal(st.Status) {
			send(transport.Message{Type: transport.MessageComplete})
			closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "workflow "+st.Status)
			conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(writeWait))
			select {
			case <-gone:
			case <-time.After(closeWait):
			}
			logger.Debug("socket completed", "status", st.Status)
			return
		}

	wait:
		for {
			select {
			case <-gone:
				logger.Debug("socket closed by client")
				return
			case <-r.Context().Done():
				return
			case <-ping.C:
				if err := send(transport.Message{Type: transport.MessagePing}); err != nil {
					return
				}
			case <-changed:
				break wait
			}
		}

		if st, changed, err = h.sim.Watch(id); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, st models.WorkflowStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeDetail writes an error body in the backend's {"detail": ...} shape.
func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrSessionNotFound):
		writeDetail(w, http.StatusNotFound, "Workflow not found")
	case errors.Is(err, shared.ErrResultsUnavailable):
		writeDetail(w, http.StatusBadRequest, "Workflow is not completed yet")
	case errors.Is(err, ErrAlreadyFinished):
		writeDetail(w, http.StatusConflict, err.Error())
	default:
		writeDetail(w, http.StatusInternalServerError, err.Error())
	}
}
