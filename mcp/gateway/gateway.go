// Package gateway implements the MCP JSON-RPC gateway: the
// "streamable-http" transport, combining an SSE bootstrap (GET) and a
// JSON-RPC 2.0 dispatch endpoint (POST) over one session store.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tikaszar/playground-fabric/channel"
	"github.com/tikaszar/playground-fabric/internal/defaults"
	"github.com/tikaszar/playground-fabric/internal/version"
	"github.com/tikaszar/playground-fabric/mcp/jsonrpc"
	"github.com/tikaszar/playground-fabric/mcp/session"
	"github.com/tikaszar/playground-fabric/mcp/tools"
	"github.com/tikaszar/playground-fabric/observability"
	"github.com/tikaszar/playground-fabric/packet"
	"github.com/tikaszar/playground-fabric/realtime/ws"
)

const sessionHeader = "Mcp-Session-Id"

// ChannelEnqueuer hands a packet to the batcher for delivery; satisfied
// by batcher.Batcher.
type ChannelEnqueuer interface {
	Enqueue(p packet.Packet) error
}

// ChannelDirectory is the read side of the channel registry, used by
// the list_channels and get_status built-in tools.
type ChannelDirectory interface {
	List() []channel.Info
	Count() int
}

// SessionAllocator allocates and releases per-session channel ids from
// the 2002..2999 pool.
type SessionAllocator interface {
	Allocate() (uint16, error)
	Release(id uint16)
}

// Gateway serves the streamable-http MCP transport.
type Gateway struct {
	sessions  *session.Store
	toolsReg  *tools.Registry
	enqueue   ChannelEnqueuer
	channels  ChannelDirectory
	allocator SessionAllocator
	obs       observability.MCPObserver

	allowedOrigins []string

	router *jsonrpc.Router

	pendingMu sync.Mutex
	pending   map[string]pendingCall
}

// pendingCall correlates a forwarded tool call to the session waiting
// on its result, per Open Question #3: the gateway's own placeholder
// acknowledgement is not the real answer, so a call_id -> session_id
// entry is kept until the result arrives or it times out.
type pendingCall struct {
	sessionID string
	expiresAt time.Time
}

// Options configures a Gateway.
type Options struct {
	Sessions       *session.Store
	Tools          *tools.Registry
	Enqueue        ChannelEnqueuer
	Channels       ChannelDirectory
	Allocator      SessionAllocator
	Observer       observability.MCPObserver
	AllowedOrigins []string
}

// New returns a Gateway with its JSON-RPC method table wired.
func New(opts Options) *Gateway {
	if opts.Observer == nil {
		opts.Observer = observability.NoopMCPObserver
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"localhost", "127.0.0.1"}
	}
	g := &Gateway{
		sessions:       opts.Sessions,
		toolsReg:       opts.Tools,
		enqueue:        opts.Enqueue,
		channels:       opts.Channels,
		allocator:      opts.Allocator,
		obs:            opts.Observer,
		allowedOrigins: opts.AllowedOrigins,
		pending:        make(map[string]pendingCall),
	}
	g.router = g.buildRouter()
	return g
}

// SweepPending discards pending tool-call correlations older than
// defaults.ToolCallTimeout. Intended to run on a periodic tick
// alongside the session store's idle sweep.
func (g *Gateway) SweepPending() {
	now := time.Now()
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	for id, p := range g.pending {
		if now.After(p.expiresAt) {
			delete(g.pending, id)
		}
	}
}

// DeliverToolResult routes a tool-call result keyed by call_id back to
// the session that issued the call, as a separate SSE message. It is
// invoked by the conn.Manager subscriber listening on channel 2001.
func (g *Gateway) DeliverToolResult(callID string, result json.RawMessage) error {
	g.pendingMu.Lock()
	p, ok := g.pending[callID]
	if ok {
		delete(g.pending, callID)
	}
	g.pendingMu.Unlock()
	if !ok {
		return nil
	}
	return g.sessions.SendTo(p.sessionID, map[string]any{
		"type":    "tool_result",
		"call_id": callID,
		"result":  result,
	})
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	return ws.IsOriginAllowed(r, g.allowedOrigins, true)
}

// ServeSSE implements the GET half of the streamable-http transport: it
// creates a session (under the Mcp-Session-Id header value when that id
// is free), emits an endpoint-ready frame, then streams JSON values
// pushed to the session until the client disconnects. An id that is
// already in use is not reattached: a fresh id is minted instead.
func (g *Gateway) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if !g.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	preferred := r.Header.Get(sessionHeader)
	sess := g.sessions.Create(preferred)
	ch := make(chan any, 16)
	_ = g.sessions.AttachSSE(sess.ID, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(sessionHeader, sess.ID)
	w.WriteHeader(http.StatusOK)

	writeSSE(w, map[string]any{"type": "endpoint-ready", "sessionId": sess.ID})
	flusher.Flush()

	keepalive := time.NewTicker(defaults.MCPKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, v)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			g.sessions.Remove(sess.ID)
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
}

// ServeRPC implements the POST half of the streamable-http transport:
// JSON-RPC 2.0 dispatch, with response routing per the Accept header
// and session SSE attachment.
func (g *Gateway) ServeRPC(w http.ResponseWriter, r *http.Request) {
	if !g.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	accept := r.Header.Get("Accept")
	if !strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/event-stream") {
		http.Error(w, "Accept header must include application/json or text/event-stream", http.StatusBadRequest)
		return
	}

	var req jsonrpc.Request
	dec := json.NewDecoder(bufio.NewReader(r.Body))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, jsonrpc.Fail(req, jsonrpc.NewError(jsonrpc.CodeParseError, "parse error")))
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	ctx := context.WithValue(r.Context(), ctxKeySession, sessionID)

	resp := g.router.Dispatch(ctx, req)

	if req.Method == "initialize" {
		if resp.Error == nil {
			var result struct {
				SessionID string `json:"sessionId"`
			}
			if err := json.Unmarshal(resp.Result, &result); err == nil && result.SessionID != "" {
				w.Header().Set(sessionHeader, result.SessionID)
			}
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	wantsSSE := strings.Contains(accept, "text/event-stream")
	if wantsSSE && sessionID != "" {
		if err := g.sessions.SendTo(sessionID, resp); err == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type ctxKey int

const ctxKeySession ctxKey = iota

func (g *Gateway) buildRouter() *jsonrpc.Router {
	r := jsonrpc.NewRouter()

	r.Register("initialize", g.handleInitialize)
	r.Register("initialized", func(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
		return map[string]any{}, nil
	})
	r.Register("ping", func(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
		return map[string]any{}, nil
	})
	r.Register("tools/list", g.handleToolsList)
	r.Register("tools/call", g.handleToolsCall)
	r.Register("prompts/list", func(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
		return map[string]any{"prompts": []any{}}, nil
	})
	r.Register("resources/list", func(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
		return map[string]any{"resources": []any{}}, nil
	})
	r.Register("completion/complete", func(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
		return map[string]any{"completion": map[string]any{"values": []any{}}}, nil
	})
	return r
}

func (g *Gateway) handleInitialize(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	tempID, _ := ctx.Value(ctxKeySession).(string)
	newID := uuid.NewString()

	if tempID != "" {
		if _, err := g.sessions.Rebind(tempID, newID); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "session rebind failed")
		}
	} else {
		g.sessions.Create(newID)
	}

	g.obs.SessionCount(g.sessions.Count())
	g.obs.RPCRequest("initialize", observability.RPCResultOK)
	g.emitLifecycleEvent("llm_connected", newID)

	return map[string]any{
		"protocolVersion": "2024-11-05",
		"serverInfo": map[string]any{
			"name":    "playground-fabric",
			"version": version.String("", "", ""),
		},
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"sessionId": newID,
	}, nil
}

// mcpLifecycleEventPacketType is the packet_type used for the MCP
// lifecycle/event stream published on channel.MCPToolCall (2000):
// llm_connected, llm_reconnected, llm_disconnected, and similar
// session-level notices a plugin on that channel can subscribe to.
const mcpLifecycleEventPacketType uint16 = 201

// emitLifecycleEvent publishes a {type, data} notice on the fixed MCP
// event channel. Enqueue failures are swallowed: a dropped lifecycle
// notice must never fail the RPC call that triggered it.
func (g *Gateway) emitLifecycleEvent(eventType, sessionID string) {
	if g.enqueue == nil {
		return
	}
	b, err := json.Marshal(map[string]any{
		"type": eventType,
		"data": map[string]any{"session_id": sessionID},
	})
	if err != nil {
		return
	}
	_ = g.enqueue.Enqueue(packet.New(channel.MCPToolCall, mcpLifecycleEventPacketType, packet.High, b))
}

func (g *Gateway) handleToolsList(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	list := g.toolsReg.List()
	out := make([]tools.Descriptor, len(list))
	copy(out, list)
	return map[string]any{"tools": out}, nil
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (g *Gateway) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	var p toolCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid params")
	}

	if tools.IsBuiltIn(p.Name) {
		return g.callBuiltIn(p.Name, p.Arguments)
	}

	desc, ok := g.toolsReg.Lookup(p.Name)
	if !ok {
		g.obs.RPCRequest("tools/call", observability.RPCResultError)
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "unknown tool: "+p.Name)
	}

	sessionID, _ := ctx.Value(ctxKeySession).(string)
	callID := uuid.NewString()

	event := map[string]any{
		"type":       "tool_call",
		"tool":       p.Name,
		"arguments":  json.RawMessage(p.Arguments),
		"session_id": sessionID,
		"call_id":    callID,
	}
	b, err := json.Marshal(event)
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "internal error")
	}

	pkt := packet.New(desc.HandlerChannel, toolCallPacketType, packet.High, b)
	if g.enqueue != nil {
		if err := g.enqueue.Enqueue(pkt); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "tool channel overloaded")
		}
	}

	g.pendingMu.Lock()
	g.pending[callID] = pendingCall{sessionID: sessionID, expiresAt: time.Now().Add(defaults.ToolCallTimeout)}
	g.pendingMu.Unlock()

	g.obs.ToolCallForwarded(p.Name)
	return map[string]any{"call_id": callID, "status": "forwarded"}, nil
}

// toolCallPacketType is the packet_type used for tool-call events
// forwarded to a handler_channel.
const toolCallPacketType uint16 = 200

func (g *Gateway) callBuiltIn(name string, args json.RawMessage) (any, *jsonrpc.Error) {
	switch name {
	case "ping":
		return map[string]any{"pong": true}, nil
	case "echo":
		var p struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(args, &p)
		return map[string]any{"text": p.Text}, nil
	case "get_status":
		status := map[string]any{"channel_count": 0}
		if g.channels != nil {
			status["channel_count"] = g.channels.Count()
		}
		status["session_count"] = g.sessions.Count()
		return status, nil
	case "list_channels":
		var list []channel.Info
		if g.channels != nil {
			list = g.channels.List()
		}
		return map[string]any{"channels": list}, nil
	default:
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "unhandled built-in tool: "+name)
	}
}
