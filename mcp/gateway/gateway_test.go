package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tikaszar/playground-fabric/channel"
	"github.com/tikaszar/playground-fabric/mcp/gateway"
	"github.com/tikaszar/playground-fabric/mcp/session"
	"github.com/tikaszar/playground-fabric/mcp/tools"
	"github.com/tikaszar/playground-fabric/packet"
)

type recordingEnqueuer struct {
	last packet.Packet
	ok   bool
}

func (r *recordingEnqueuer) Enqueue(p packet.Packet) error {
	r.last = p
	r.ok = true
	return nil
}

func newGateway(enq *recordingEnqueuer) *gateway.Gateway {
	return gateway.New(gateway.Options{
		Sessions: session.New(),
		Tools:    tools.New(),
		Enqueue:  enq,
	})
}

func postRPC(g *gateway.Gateway, body string, sessionID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Accept", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	rec := httptest.NewRecorder()
	g.ServeRPC(rec, req)
	return rec
}

func TestServeRPC_InitializeReturnsSessionHeaderAndID(t *testing.T) {
	g := newGateway(&recordingEnqueuer{})
	rec := postRPC(g, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	header := rec.Header().Get("Mcp-Session-Id")
	if header == "" {
		t.Fatal("expected Mcp-Session-Id response header")
	}

	var resp struct {
		Result struct {
			SessionID string `json:"sessionId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Result.SessionID != header {
		t.Fatalf("got body sessionId %q, want header %q", resp.Result.SessionID, header)
	}
}

func TestServeRPC_InitializeEmitsLLMConnectedOnMCPEventChannel(t *testing.T) {
	enq := &recordingEnqueuer{}
	g := newGateway(enq)
	rec := postRPC(g, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, "")

	var resp struct {
		Result struct {
			SessionID string `json:"sessionId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !enq.ok {
		t.Fatal("expected a packet to be enqueued for the llm_connected event")
	}
	if enq.last.ChannelID != channel.MCPToolCall {
		t.Fatalf("got channel %d, want %d", enq.last.ChannelID, channel.MCPToolCall)
	}
	var event struct {
		Type string `json:"type"`
		Data struct {
			SessionID string `json:"session_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(enq.last.Payload, &event); err != nil {
		t.Fatalf("Unmarshal event payload: %v", err)
	}
	if event.Type != "llm_connected" {
		t.Fatalf("got type %q, want llm_connected", event.Type)
	}
	if event.Data.SessionID != resp.Result.SessionID {
		t.Fatalf("got data.session_id %q, want %q", event.Data.SessionID, resp.Result.SessionID)
	}
}

func TestServeRPC_NotificationReturns202(t *testing.T) {
	g := newGateway(&recordingEnqueuer{})
	rec := postRPC(g, `{"jsonrpc":"2.0","method":"initialized"}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("got status %d, want 202", rec.Code)
	}
}

func TestServeRPC_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	g := newGateway(&recordingEnqueuer{})
	rec := postRPC(g, `{"jsonrpc":"2.0","id":1,"method":"nope"}`, "")
	var resp struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("got %+v, want MethodNotFound", resp.Error)
	}
}

func TestServeRPC_ToolsCallBuiltinEcho(t *testing.T) {
	g := newGateway(&recordingEnqueuer{})
	rec := postRPC(g, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`, "")

	var resp struct {
		Result struct {
			Text string `json:"text"`
		} `json:"result"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Result.Text != "hi" {
		t.Fatalf("got %q, want hi", resp.Result.Text)
	}
}

func TestServeRPC_ToolsCallForwardsDynamicTool(t *testing.T) {
	enq := &recordingEnqueuer{}
	toolsReg := tools.New()
	_ = toolsReg.Register("say", "say something", json.RawMessage(`{}`), 1234)

	g := gateway.New(gateway.Options{
		Sessions: session.New(),
		Tools:    toolsReg,
		Enqueue:  enq,
	})

	rec := postRPC(g, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"say","arguments":{}}}`, "")

	if !enq.ok {
		t.Fatal("expected a packet to be enqueued for the dynamic tool call")
	}
	if enq.last.ChannelID != 1234 {
		t.Fatalf("got channel %d, want 1234", enq.last.ChannelID)
	}
	var payload struct {
		Type string `json:"type"`
		Tool string `json:"tool"`
	}
	if err := json.Unmarshal(enq.last.Payload, &payload); err != nil {
		t.Fatalf("Unmarshal forwarded payload: %v", err)
	}
	if payload.Type != "tool_call" || payload.Tool != "say" {
		t.Fatalf("got %+v, want type=tool_call tool=say", payload)
	}

	var resp struct {
		Result struct {
			CallID string `json:"call_id"`
		} `json:"result"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Result.CallID == "" {
		t.Fatal("expected a call_id in the placeholder acknowledgement")
	}
}

func TestDeliverToolResult_RoutesToPendingSession(t *testing.T) {
	enq := &recordingEnqueuer{}
	toolsReg := tools.New()
	_ = toolsReg.Register("say", "say something", json.RawMessage(`{}`), 1234)
	store := session.New()
	sess := store.Create("")
	ch := make(chan any, 1)
	_ = store.AttachSSE(sess.ID, ch)

	g := gateway.New(gateway.Options{Sessions: store, Tools: toolsReg, Enqueue: enq})

	rec := postRPC(g, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"say","arguments":{}}}`, sess.ID)
	var resp struct {
		Result struct {
			CallID string `json:"call_id"`
		} `json:"result"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)

	if err := g.DeliverToolResult(resp.Result.CallID, json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("DeliverToolResult: %v", err)
	}

	select {
	case got := <-ch:
		m, ok := got.(map[string]any)
		if !ok || m["call_id"] != resp.Result.CallID {
			t.Fatalf("got %+v, want tool_result keyed by call_id", got)
		}
	default:
		t.Fatal("expected the tool result to be delivered through SSE")
	}
}
