package main

import (
	"net/http"
	"sync"

	"github.com/tikaszar/playground-fabric/observability"
	"github.com/tikaszar/playground-fabric/observability/prom"
)

// switchHandler lets the /metrics route be swapped at runtime between
// the real Prometheus handler and 404, without restarting the listener.
type switchHandler struct {
	mu      sync.RWMutex
	handler http.Handler
}

func newSwitchHandler() *switchHandler {
	return &switchHandler{handler: http.NotFoundHandler()}
}

func (h *switchHandler) Set(next http.Handler) {
	if next == nil {
		next = http.NotFoundHandler()
	}
	h.mu.Lock()
	h.handler = next
	h.mu.Unlock()
}

func (h *switchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	handler.ServeHTTP(w, r)
}

// metricsController enables or disables Prometheus export for both the
// fabric and MCP observers together. Enable runs at startup and on
// SIGUSR1. SIGUSR2 is handled in watchSignals, which swaps both
// observers to no-ops without calling Disable, so /metrics keeps
// serving the last registry's values.
type metricsController struct {
	mu      sync.Mutex
	enabled bool
	handler *switchHandler

	fabric *observability.AtomicFabricObserver
	mcp    *observability.AtomicMCPObserver
}

func newMetricsController(handler *switchHandler, fabric *observability.AtomicFabricObserver, mcp *observability.AtomicMCPObserver) *metricsController {
	return &metricsController{handler: handler, fabric: fabric, mcp: mcp}
}

func (c *metricsController) Enable() (observability.FabricObserver, observability.MCPObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reg := prom.NewRegistry()
	fabricObs := prom.NewFabricObserver(reg)
	mcpObs := prom.NewMCPObserver(reg)
	c.handler.Set(prom.Handler(reg))
	c.fabric.Set(fabricObs)
	c.mcp.Set(mcpObs)
	c.enabled = true
	return fabricObs, mcpObs
}

func (c *metricsController) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.handler.Set(nil)
	c.fabric.Set(observability.NoopFabricObserver)
	c.mcp.Set(observability.NoopMCPObserver)
	c.enabled = false
}
