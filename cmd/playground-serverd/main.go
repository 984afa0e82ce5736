// Command playground-serverd runs the Android Playground packet
// fabric: the multi-channel websocket transport, its frame batcher,
// the channel-0 control plane, and the MCP JSON-RPC gateway, all
// behind a single HTTP listener.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tikaszar/playground-fabric/batcher"
	"github.com/tikaszar/playground-fabric/channel"
	"github.com/tikaszar/playground-fabric/conn"
	"github.com/tikaszar/playground-fabric/control"
	"github.com/tikaszar/playground-fabric/feed"
	"github.com/tikaszar/playground-fabric/internal/cmdutil"
	"github.com/tikaszar/playground-fabric/internal/version"
	"github.com/tikaszar/playground-fabric/mcp/gateway"
	"github.com/tikaszar/playground-fabric/mcp/session"
	"github.com/tikaszar/playground-fabric/mcp/tools"
	"github.com/tikaszar/playground-fabric/observability"
	"github.com/tikaszar/playground-fabric/packet"
	"github.com/tikaszar/playground-fabric/realtime/ws"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

type ready struct {
	Version    string `json:"version"`
	Listen     string `json:"listen"`
	WSURL      string `json:"ws_url"`
	HTTPURL    string `json:"http_url"`
	MCPURL     string `json:"mcp_url"`
	HealthURL  string `json:"health_url"`
	MetricsURL string `json:"metrics_url,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	logger := log.New(stderr, "", log.LstdFlags)

	cfg, err := parseConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	registry := channel.NewWithLimit(cfg.maxChannels)
	sessionPool := channel.NewSessionChannelPool()
	toolsReg := tools.New()
	sessionStore := session.New()
	lifecycle := feed.New()

	fabricObs := observability.NewAtomicFabricObserver()
	mcpObs := observability.NewAtomicMCPObserver()

	controlHandler := control.New(registry, toolsReg)

	onControl := func(c *conn.Connection, p packet.Packet) {
		for _, resp := range controlHandler.Handle(p) {
			enc, err := packet.Encode(resp)
			if err != nil {
				continue
			}
			c.WriteBatch(resp.ChannelID, enc)
		}
	}
	mgr := conn.NewManager(conn.Options{
		IdleTimeout: cfg.connIdleTimeout,
		Observer:    fabricObs,
		Feed:        lifecycle,
		OnControl:   onControl,
		OnDecodeError: func(c *conn.Connection, err error) {
			if cfg.verbose {
				logger.Printf("conn %d: decode error: %v", c.ID, err)
			}
		},
	})
	defer mgr.Stop()

	frameBatcher := batcher.New(batcher.Config{
		FrameRateHz: cfg.frameRateHz,
		SoftLimit:   cfg.softQueueLimit,
		HardLimit:   cfg.hardQueueLimit,
	}, mgr, fabricObs)
	go frameBatcher.Run()
	defer frameBatcher.Stop()

	mcpGateway := gateway.New(gateway.Options{
		Sessions:       sessionStore,
		Tools:          toolsReg,
		Enqueue:        frameBatcher,
		Channels:       registry,
		Allocator:      sessionPool,
		Observer:       mcpObs,
		AllowedOrigins: cfg.allowOrigin,
	})

	toolResults := make(chan packet.Packet, 64)
	unsubscribeToolResults := mgr.Subscribe(channel.MCPToolResult, toolResults)
	defer unsubscribeToolResults()
	go deliverToolResults(mcpGateway, toolResults, logger, cfg.verbose)

	sweepStop := make(chan struct{})
	go sweepLoop(sessionStore, mcpGateway, cfg.sessionIdleTimeout, sweepStop)
	defer close(sweepStop)

	mux := http.NewServeMux()
	registerRoutes(mux, cfg, mgr, mcpGateway, lifecycle, logger)

	ln, err := net.Listen("tcp", cfg.listen)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	srv := newHTTPServer(mux)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(err)
		}
	}()

	var metricsSrv *http.Server
	var metricsLn net.Listener
	var metrics *metricsController
	if cfg.metricsListen != "" {
		metricsHandler := newSwitchHandler()
		metrics = newMetricsController(metricsHandler, fabricObs, mcpObs)
		metrics.Enable()

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})

		metricsLn, err = net.Listen("tcp", cfg.metricsListen)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		metricsSrv = newMetricsServer(metricsMux)
		go func() {
			if err := metricsSrv.Serve(metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal(err)
			}
		}()
	}

	bindAddr := ln.Addr().String()
	out := ready{
		Version:   version.String(buildVersion, buildCommit, buildDate),
		Listen:    bindAddr,
		WSURL:     "ws://" + bindAddr + cfg.wsPath,
		HTTPURL:   "http://" + bindAddr,
		MCPURL:    "http://" + bindAddr + "/mcp",
		HealthURL: "http://" + bindAddr + "/health",
	}
	if metricsLn != nil {
		out.MetricsURL = "http://" + metricsLn.Addr().String() + "/metrics"
	}
	_ = cmdutil.WriteJSON(stdout, out, false)

	shutdownCh := make(chan struct{})
	go watchSignals(logger, fabricObs, mcpObs, func() (observability.FabricObserver, observability.MCPObserver) {
		if metrics == nil {
			logger.Print("SIGUSR1 received but --metrics-listen is not set; ignoring")
			return observability.NoopFabricObserver, observability.NoopMCPObserver
		}
		return metrics.Enable()
	}, shutdownCh)

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	close(shutdownCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
	return 0
}

func sweepLoop(sessions *session.Store, gw *gateway.Gateway, idleTimeout time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sessions.SweepIdle(idleTimeout)
			gw.SweepPending()
		case <-stop:
			return
		}
	}
}

func deliverToolResults(gw *gateway.Gateway, results <-chan packet.Packet, logger *log.Logger, verbose bool) {
	for p := range results {
		var msg struct {
			CallID string          `json:"call_id"`
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(p.Payload, &msg); err != nil {
			if verbose {
				logger.Printf("tool result channel: malformed payload: %v", err)
			}
			continue
		}
		if err := gw.DeliverToolResult(msg.CallID, msg.Result); err != nil && verbose {
			logger.Printf("tool result channel: deliver failed: %v", err)
		}
	}
}

func registerRoutes(mux *http.ServeMux, cfg config, mgr *conn.Manager, gw *gateway.Gateway, lifecycle *feed.Feed, logger *log.Logger) {
	checkOrigin := ws.NewOriginChecker(cfg.allowOrigin, true)

	mux.HandleFunc(cfg.wsPath, func(w http.ResponseWriter, r *http.Request) {
		c, err := ws.Upgrade(w, r, ws.UpgraderOptions{CheckOrigin: checkOrigin})
		if err != nil {
			if cfg.verbose {
				logger.Printf("websocket upgrade failed: %v", err)
			}
			return
		}
		mgr.Accept(r.Context(), c, r.RemoteAddr)
	})

	mux.HandleFunc("GET /mcp", gw.ServeSSE)
	mux.HandleFunc("POST /mcp", gw.ServeRPC)

	mux.HandleFunc("GET /sse", gw.ServeSSELegacy)
	mux.HandleFunc("GET /sse/{session_id}", gw.ServeSSESession)
	mux.HandleFunc("POST /message", gw.ServeMessage)
	mux.HandleFunc("POST /prompt", gw.ServePrompt)
	mux.HandleFunc("GET /sessions", gw.ServeSessionsList)
	mux.HandleFunc("POST /sessions", gw.ServeSessionsCreate)
	mux.HandleFunc("DELETE /sessions/{id}", gw.ServeSessionsDelete)
	mux.HandleFunc("GET /tools", gw.ServeTools)
	mux.HandleFunc("GET /health", gw.ServeHealth)

	mux.HandleFunc("GET /dashboard/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		ch, cancel := lifecycle.Subscribe()
		defer cancel()

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		enc := json.NewEncoder(w)
		for {
			select {
			case e, ok := <-ch:
				if !ok {
					return
				}
				if err := enc.Encode(e); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
