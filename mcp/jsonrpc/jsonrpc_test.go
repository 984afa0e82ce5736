package jsonrpc_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tikaszar/playground-fabric/mcp/jsonrpc"
)

func TestDispatch_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	r := jsonrpc.NewRouter()
	resp := r.Dispatch(context.Background(), jsonrpc.Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "nope"})
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeMethodNotFound {
		t.Fatalf("got %+v, want MethodNotFound", resp.Error)
	}
}

type pingReq struct{}
type pingResp struct {
	Pong bool `json:"pong"`
}

func TestCall_RegistersTypedHandler(t *testing.T) {
	r := jsonrpc.NewRouter()
	jsonrpc.Call(r, "ping", func(ctx context.Context, req *pingReq) (*pingResp, *jsonrpc.Error) {
		return &pingResp{Pong: true}, nil
	})

	resp := r.Dispatch(context.Background(), jsonrpc.Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "ping"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	var got pingResp
	if err := json.Unmarshal(resp.Result, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.Pong {
		t.Fatal("expected pong true")
	}
}

func TestCall_InvalidParamsReturnsInvalidParams(t *testing.T) {
	type echoReq struct {
		Text string `json:"text"`
	}
	r := jsonrpc.NewRouter()
	jsonrpc.Call(r, "echo", func(ctx context.Context, req *echoReq) (*echoReq, *jsonrpc.Error) {
		return req, nil
	})

	resp := r.Dispatch(context.Background(), jsonrpc.Request{
		JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "echo", Params: json.RawMessage("not json"),
	})
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeInvalidParams {
		t.Fatalf("got %+v, want InvalidParams", resp.Error)
	}
}

func TestRequest_IsNotificationWhenIDMissing(t *testing.T) {
	req := jsonrpc.Request{JSONRPC: "2.0", Method: "initialized"}
	if !req.IsNotification() {
		t.Fatal("expected request with no id to be a notification")
	}
}
