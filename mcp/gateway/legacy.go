package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tikaszar/playground-fabric/internal/defaults"
	"github.com/tikaszar/playground-fabric/packet"
)

// This file carries the pre-streamable-http surface: a plain SSE GET
// endpoint, a JSON POST endpoint for LLM-originated messages, session
// CRUD, and tool/health discovery. It is grounded on the same
// session store and tool registry as ServeSSE/ServeRPC and exists
// alongside them for clients that haven't moved to the single
// streamable-http endpoint.

// ServeSSELegacy handles GET /sse: it always mints a fresh session,
// regardless of any Mcp-Session-Id header.
func (g *Gateway) ServeSSELegacy(w http.ResponseWriter, r *http.Request) {
	g.serveSSEStream(w, r, "")
}

// ServeSSESession handles GET /sse/{session_id}: it creates a session
// under the id named in the path when that id is free. An id that is
// already in use is not reattached: a fresh id is minted instead.
func (g *Gateway) ServeSSESession(w http.ResponseWriter, r *http.Request) {
	g.serveSSEStream(w, r, r.PathValue("session_id"))
}

func (g *Gateway) serveSSEStream(w http.ResponseWriter, r *http.Request, preferred string) {
	if !g.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := g.sessions.Create(preferred)
	ch := make(chan any, 16)
	_ = g.sessions.AttachSSE(sess.ID, ch)

	channelID, _ := g.allocateSessionChannel(sess.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSEEvent(w, "session", map[string]any{"session_id": sess.ID, "channel_id": channelID})
	flusher.Flush()

	keepalive := time.NewTicker(defaults.MCPKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, "message", v)
			flusher.Flush()
		case <-keepalive.C:
			writeSSEComment(w, "heartbeat")
			flusher.Flush()
		case <-r.Context().Done():
			if channelID != 0 && g.allocator != nil {
				g.allocator.Release(channelID)
			}
			g.sessions.Remove(sess.ID)
			return
		}
	}
}

func (g *Gateway) allocateSessionChannel(sessionID string) (uint16, error) {
	if g.allocator == nil {
		return 0, nil
	}
	id, err := g.allocator.Allocate()
	if err != nil {
		return 0, err
	}
	return id, nil
}

func writeSSEEvent(w http.ResponseWriter, event string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
}

func writeSSEComment(w http.ResponseWriter, comment string) {
	fmt.Fprintf(w, ": %s\n\n", comment)
}

type legacyMessage struct {
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// ServeMessage handles POST /message: the pre-JSON-RPC envelope for
// tool calls and LLM responses, forwarded to the plugin side the same
// way tools/call forwards them.
func (g *Gateway) ServeMessage(w http.ResponseWriter, r *http.Request) {
	var msg legacyMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request body"})
		return
	}
	if _, ok := g.sessions.Get(msg.SessionID); !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}

	switch msg.Type {
	case "tool_call":
		desc, ok := g.toolsReg.Lookup(msg.Tool)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown tool: " + msg.Tool})
			return
		}
		callID := msg.ID
		if callID == "" {
			callID = uuid.NewString()
		}
		event := map[string]any{
			"type":       "tool_call",
			"tool":       msg.Tool,
			"arguments":  msg.Arguments,
			"session_id": msg.SessionID,
			"call_id":    callID,
		}
		if err := g.forwardToolCall(desc.HandlerChannel, event, msg.SessionID, callID); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "tool channel overloaded"})
			return
		}
		g.obs.ToolCallForwarded(msg.Tool)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "Tool call forwarded to plugins"})
	case "response":
		g.sessions.Broadcast(map[string]any{
			"type":       "llm_response",
			"session_id": msg.SessionID,
			"response_id": msg.ID,
			"content":     msg.Content,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "Response forwarded to plugins"})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported message type: " + msg.Type})
	}
}

func (g *Gateway) forwardToolCall(handlerChannel uint16, event map[string]any, sessionID, callID string) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if g.enqueue != nil {
		pkt := packet.New(handlerChannel, toolCallPacketType, packet.High, b)
		if err := g.enqueue.Enqueue(pkt); err != nil {
			return err
		}
	}
	g.pendingMu.Lock()
	g.pending[callID] = pendingCall{sessionID: sessionID, expiresAt: time.Now().Add(defaults.ToolCallTimeout)}
	g.pendingMu.Unlock()
	return nil
}

type promptRequest struct {
	SessionID    string   `json:"session_id,omitempty"`
	Content      string   `json:"content"`
	ContextFiles []string `json:"context_files,omitempty"`
}

// ServePrompt handles POST /prompt: push a prompt to one session (if
// session_id is given) or broadcast it to every connected LLM client.
func (g *Gateway) ServePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request body"})
		return
	}

	prompt := map[string]any{
		"type":          "prompt",
		"id":            uuid.NewString(),
		"content":       req.Content,
		"context_files": req.ContextFiles,
	}

	if req.SessionID != "" {
		if err := g.sessions.SendTo(req.SessionID, prompt); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found or not connected"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "Prompt sent to session"})
		return
	}

	g.sessions.Broadcast(prompt)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "Prompt broadcast to all sessions"})
}

type sessionSummary struct {
	ID string `json:"id"`
}

// ServeSessionsList handles GET /sessions.
func (g *Gateway) ServeSessionsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"count": g.sessions.Count()})
}

// ServeSessionsCreate handles POST /sessions.
func (g *Gateway) ServeSessionsCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	sess := g.sessions.Create(req.ID)
	writeJSON(w, http.StatusOK, sessionSummary{ID: sess.ID})
}

// ServeSessionsDelete handles DELETE /sessions/{id}.
func (g *Gateway) ServeSessionsDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := g.sessions.Get(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}
	g.sessions.Remove(id)
	g.obs.SessionCount(g.sessions.Count())
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ServeTools handles GET /tools.
func (g *Gateway) ServeTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": g.toolsReg.List()})
}

// ServeHealth handles GET /health.
func (g *Gateway) ServeHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": g.sessions.Count(),
	})
}
