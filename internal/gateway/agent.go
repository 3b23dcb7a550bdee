package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/interviewd/interviewd/internal/agent"
	"github.com/interviewd/interviewd/internal/external"
	"github.com/interviewd/interviewd/internal/session"
)

// agentQueueSize bounds the internal producer/consumer queue between the
// answer agent's token callback and the network writer, per spec §4.6.
const agentQueueSize = 50

// AgentHandler serves the answer-agent's two equivalent streaming surfaces
// (spec §4.6): SSE over HTTP POST and a second WebSocket.
type AgentHandler struct {
	registry *session.Registry
	agent    *agent.Agent
	accessor external.Accessor
}

// NewAgentHandler returns an [AgentHandler] backed by registry, ag, and
// accessor. accessor populates a session's CV/JD context on first use
// (spec §2: Browser → C9 → C7 → C10 for CV/JD → C8).
func NewAgentHandler(registry *session.Registry, ag *agent.Agent, accessor external.Accessor) *AgentHandler {
	return &AgentHandler{registry: registry, agent: ag, accessor: accessor}
}

// Register adds the SSE and WebSocket answer-agent routes to mux.
func (h *AgentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/gpt", h.handleSSE)
	mux.HandleFunc("GET /ws/agent/{sid}", h.handleWS)
}

// gptRequest is the POST /api/gpt request body.
type gptRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	Brief     bool   `json:"brief"`
}

// sseEvent is one `data: ...` line on the SSE stream.
type sseEvent struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Error   bool   `json:"error,omitempty"`
}

func (h *AgentHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	var req gptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text must not be empty", http.StatusBadRequest)
		return
	}

	if req.SessionID == "" {
		http.Error(w, "session_id must not be empty", http.StatusBadRequest)
		return
	}

	sess, ok := h.registry.Get(req.SessionID)
	if !ok {
		slog.Info("agent sse: no live session, using an ephemeral one", "session_id", req.SessionID)
		sess = h.registry.Ephemeral(req.SessionID, session.SourceMic)
	}
	if err := external.Populate(r.Context(), h.accessor, sess, ""); err != nil {
		slog.Warn("agent sse: populate cv/jd failed", "session_id", req.SessionID, "error", err)
	}

	mode := agent.ModeFull
	if req.Brief {
		mode = agent.ModeBrief
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	chunks := make(chan string, agentQueueSize)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		_, err := h.agent.Answer(ctx, sess, req.Text, mode, func(delta string) error {
			select {
			case chunks <- delta:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		errc <- err
	}()

	for delta := range chunks {
		writeSSE(w, flusher, sseEvent{Content: delta, Done: false})
	}

	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		writeSSE(w, flusher, sseEvent{Content: err.Error(), Done: true, Error: true})
		return
	}
	writeSSE(w, flusher, sseEvent{Content: "", Done: true})
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev sseEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
	flusher.Flush()
}

// agentEvent is the shared envelope for every message on the answer-agent
// WebSocket, in both directions.
type agentEvent struct {
	Type  string `json:"type"`
	Mode  string `json:"mode,omitempty"`
	Text  string `json:"text,omitempty"`
	Role  string `json:"role,omitempty"`
	Delta string `json:"delta,omitempty"`
	Done  bool   `json:"done,omitempty"`
}

func (h *AgentHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("agent ws: accept failed", "session_id", sid, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sess, ok := h.registry.Get(sid)
	if !ok {
		writeAgentEvent(ctx, conn, agentEvent{Type: "error", Text: "session not found, establish the audio websocket first"})
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	if err := external.Populate(ctx, h.accessor, sess, ""); err != nil {
		slog.Warn("agent ws: populate cv/jd failed", "session_id", sid, "error", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg agentEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			writeAgentEvent(ctx, conn, agentEvent{Type: "error", Text: "invalid JSON message"})
			continue
		}

		if msg.Type != "answer" {
			writeAgentEvent(ctx, conn, agentEvent{Type: "error", Text: "unknown message type: " + msg.Type})
			continue
		}
		if msg.Text == "" {
			writeAgentEvent(ctx, conn, agentEvent{Type: "error", Text: "question text must not be empty"})
			continue
		}

		mode := agent.ModeFull
		if msg.Mode == string(agent.ModeBrief) {
			mode = agent.ModeBrief
		}

		h.streamAnswer(ctx, conn, sess, msg.Text, mode)
	}
}

// streamAnswer runs one answer-agent call, relaying stream frames through
// the connection's bounded internal queue and finishing with a final frame
// (or an error frame on failure), per spec §4.6.
func (h *AgentHandler) streamAnswer(ctx context.Context, conn *websocket.Conn, sess *session.Session, question string, mode agent.Mode) {
	deltas := make(chan string, agentQueueSize)
	errc := make(chan error, 1)

	go func() {
		defer close(deltas)
		_, err := h.agent.Answer(ctx, sess, question, mode, func(delta string) error {
			select {
			case deltas <- delta:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		errc <- err
	}()

	for delta := range deltas {
		writeAgentEvent(ctx, conn, agentEvent{Type: "stream", Role: "assistant", Delta: delta})
	}

	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		writeAgentEvent(ctx, conn, agentEvent{Type: "error", Text: err.Error()})
		return
	}
	writeAgentEvent(ctx, conn, agentEvent{Type: "final", Role: "assistant", Done: true})
}

func writeAgentEvent(ctx context.Context, conn *websocket.Conn, ev agentEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = conn.Write(writeCtx, websocket.MessageText, b)
}
