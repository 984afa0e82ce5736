package main

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/tikaszar/playground-fabric/conn"
	"github.com/tikaszar/playground-fabric/feed"
	"github.com/tikaszar/playground-fabric/mcp/gateway"
	"github.com/tikaszar/playground-fabric/mcp/session"
	"github.com/tikaszar/playground-fabric/mcp/tools"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(nil)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.listen != ":8808" {
		t.Fatalf("got listen %q, want :8808", cfg.listen)
	}
	if cfg.wsPath != "/ws" {
		t.Fatalf("got wsPath %q, want /ws", cfg.wsPath)
	}
	if len(cfg.allowOrigin) == 0 {
		t.Fatal("expected a non-empty default allow-origin list")
	}
}

func TestParseConfig_AllowOriginFlagOverridesEnv(t *testing.T) {
	t.Setenv("PGF_ALLOW_ORIGIN", "env.example.com")
	cfg, err := parseConfig([]string{"-allow-origin", "flag.example.com,other.example.com"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	want := []string{"flag.example.com", "other.example.com"}
	if !reflect.DeepEqual(cfg.allowOrigin, want) {
		t.Fatalf("got %v, want %v", cfg.allowOrigin, want)
	}
}

func TestParseConfig_RejectsMalformedEnvDuration(t *testing.T) {
	t.Setenv("PGF_CONN_IDLE_TIMEOUT", "not-a-duration")
	if _, err := parseConfig(nil); err == nil {
		t.Fatal("expected an error for a malformed PGF_CONN_IDLE_TIMEOUT")
	}
}

func TestSplitCSV_TrimsAndDropsEmpty(t *testing.T) {
	got := splitCSV("a, b ,,c")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRegisterRoutes_HealthAndToolsServeOverHTTP(t *testing.T) {
	cfg, err := parseConfig(nil)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	mgr := conn.NewManager(conn.Options{})
	defer mgr.Stop()
	gw := gateway.New(gateway.Options{Sessions: session.New(), Tools: tools.New()})

	mux := http.NewServeMux()
	registerRoutes(mux, cfg, mgr, gw, feed.New(), nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200 from /health", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/tools", nil))
	if rec2.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200 from /tools", rec2.Code)
	}
}
