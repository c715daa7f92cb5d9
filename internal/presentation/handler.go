// Package presentation is the thin UI layer described in §1/§6: a single
// WebSocket per caller carrying the tagged-union command envelope in
// (§6.1) and the typed event stream out (§6.2). It holds no pipeline
// semantics of its own — every command is a direct pass-through to the
// orchestrator.
package presentation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lectervox/lecturepipe/internal/event"
	"github.com/lectervox/lecturepipe/internal/eventbus"
	"github.com/lectervox/lecturepipe/internal/orchestrator"
	"github.com/lectervox/lecturepipe/internal/persistence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves one command/event WebSocket per connection over the
// core orchestrator.
type Handler struct {
	orch *orchestrator.Orchestrator
}

// NewHandler creates a presentation Handler bound to orch.
func NewHandler(orch *orchestrator.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// ServeHTTP upgrades the connection and runs the command/event loop for
// its lifetime.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.runSession(conn)
}

// commandEnvelope is the tagged union described in §6.1: { command,
// params }.
type commandEnvelope struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params"`
}

// errorReply is the reply to a rejected command: kind "error" with
// event.Error's code and message at the top level. It is not wrapped in
// the event envelope (no correlation_id, seq, ts or payload).
type errorReply struct {
	V       int    `json:"v"`
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newErrorReply(message string) errorReply {
	return errorReply{V: event.SchemaVersion, Kind: "error", Code: "bad_request", Message: message}
}

// ackReply acknowledges a command that has no richer response payload.
type ackReply struct {
	V       int    `json:"v"`
	Kind    string `json:"kind"`
	Command string `json:"command"`
}

type startAck struct {
	V             int    `json:"v"`
	Kind          string `json:"kind"`
	Command       string `json:"command"`
	CorrelationID string `json:"correlation_id"`
}

type historyReply struct {
	V    int                     `json:"v"`
	Kind string                  `json:"kind"`
	Page persistence.HistoryPage `json:"page"`
}

type sessionReply struct {
	V    int                     `json:"v"`
	Kind string                  `json:"kind"`
	Meta persistence.SessionMeta `json:"meta"`
	Page persistence.HistoryPage `json:"page"`
}

func (h *Handler) runSession(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	send := newEventSender(conn)
	var subMu sync.Mutex
	var sub *eventbus.Subscription
	defer func() {
		subMu.Lock()
		if sub != nil {
			sub.Close()
		}
		subMu.Unlock()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("presentation: connection closed", "error", err)
			return
		}
		if msgType == websocket.BinaryMessage {
			if err := h.orch.SendAudioChunk(data); err != nil {
				send(newErrorReply(err.Error()))
			}
			continue
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var env commandEnvelope
		if !decodeStrict(data, &env, send) {
			continue
		}

		h.dispatch(ctx, env, send, &subMu, &sub)
	}
}

func (h *Handler) dispatch(ctx context.Context, env commandEnvelope, send func(any), subMu *sync.Mutex, subOut **eventbus.Subscription) {
	switch env.Command {
	case "start_listening":
		var p struct {
			SourceLang string `json:"source_lang"`
			TargetLang string `json:"target_lang"`
		}
		if !decodeStrict(env.Params, &p, send) {
			return
		}
		corrID, newSub, err := h.orch.StartListening(ctx, p.SourceLang, p.TargetLang)
		if err != nil {
			send(newErrorReply(err.Error()))
			return
		}
		subMu.Lock()
		*subOut = newSub
		subMu.Unlock()
		go pumpEvents(newSub, send)
		send(startAck{event.SchemaVersion, "ack", env.Command, corrID})

	case "stop_listening":
		if err := h.orch.StopListening(); err != nil {
			send(newErrorReply(err.Error()))
			return
		}
		send(ackReply{event.SchemaVersion, "ack", env.Command})

	case "pause_listening":
		if err := h.orch.PauseListening(); err != nil {
			send(newErrorReply(err.Error()))
			return
		}
		send(ackReply{event.SchemaVersion, "ack", env.Command})

	case "resume_listening":
		if err := h.orch.ResumeListening(); err != nil {
			send(newErrorReply(err.Error()))
			return
		}
		send(ackReply{event.SchemaVersion, "ack", env.Command})

	case "clear_history":
		if err := h.orch.ClearHistory(); err != nil {
			send(newErrorReply(err.Error()))
			return
		}
		send(ackReply{event.SchemaVersion, "ack", env.Command})

	case "generate_vocabulary":
		if err := h.orch.GenerateVocabulary(); err != nil {
			send(newErrorReply(err.Error()))
			return
		}
		send(ackReply{event.SchemaVersion, "ack", env.Command})

	case "generate_final_report":
		if err := h.orch.GenerateFinalReport(); err != nil {
			send(newErrorReply(err.Error()))
			return
		}
		send(ackReply{event.SchemaVersion, "ack", env.Command})

	case "get_history":
		var p struct {
			SessionID string `json:"session_id"`
			Limit     int    `json:"limit"`
			Offset    int    `json:"offset"`
		}
		if !decodeStrict(env.Params, &p, send) {
			return
		}
		page, err := h.orch.GetHistory(p.SessionID, p.Limit, p.Offset)
		if err != nil {
			send(newErrorReply(err.Error()))
			return
		}
		send(historyReply{event.SchemaVersion, "history", page})

	case "load_session":
		var p struct {
			SessionID string `json:"session_id"`
		}
		if !decodeStrict(env.Params, &p, send) {
			return
		}
		meta, page, err := h.orch.LoadSession(p.SessionID)
		if err != nil {
			send(newErrorReply(err.Error()))
			return
		}
		send(sessionReply{event.SchemaVersion, "session", meta, page})

	default:
		send(newErrorReply(fmt.Sprintf("unknown command %q", env.Command)))
	}
}

func decodeStrict(raw []byte, v any, send func(any)) bool {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		send(newErrorReply(err.Error()))
		return false
	}
	return true
}

func pumpEvents(sub *eventbus.Subscription, send func(any)) {
	for ev := range sub.Events() {
		send(ev)
	}
}

func newEventSender(conn *websocket.Conn) func(any) {
	var mu sync.Mutex
	return func(v any) {
		mu.Lock()
		defer mu.Unlock()
		data, err := json.Marshal(v)
		if err != nil {
			slog.Error("presentation: marshal outbound message", "error", err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Error("presentation: write outbound message", "error", err)
		}
	}
}
