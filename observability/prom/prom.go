// Package prom wires the fabric's observer interfaces to Prometheus.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tikaszar/playground-fabric/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// FabricObserver exports packet-fabric metrics to Prometheus.
type FabricObserver struct {
	connGauge    prometheus.Gauge
	channelGauge prometheus.Gauge
	batchFlushed prometheus.Counter
	batchBytes   prometheus.Counter
	dropTotal    *prometheus.CounterVec
	overloaded   prometheus.Counter
}

// NewFabricObserver registers fabric metrics on the registry.
func NewFabricObserver(reg *prometheus.Registry) *FabricObserver {
	o := &FabricObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playground_fabric_connections",
			Help: "Current websocket connection count.",
		}),
		channelGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playground_fabric_channels",
			Help: "Current registered channel count.",
		}),
		batchFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playground_fabric_batches_flushed_total",
			Help: "Per-channel batches flushed by the batcher (one per non-empty channel per tick).",
		}),
		batchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playground_fabric_batch_bytes_total",
			Help: "Total bytes written across all flushed batches.",
		}),
		dropTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playground_fabric_packets_dropped_total",
			Help: "Packets dropped by the batcher under backpressure.",
		}, []string{"reason"}),
		overloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playground_fabric_overloaded_total",
			Help: "Enqueue calls that failed with Overloaded.",
		}),
	}
	reg.MustRegister(o.connGauge, o.channelGauge, o.batchFlushed, o.batchBytes, o.dropTotal, o.overloaded)
	return o
}

func (o *FabricObserver) ConnCount(n int64)  { o.connGauge.Set(float64(n)) }
func (o *FabricObserver) ChannelCount(n int) { o.channelGauge.Set(float64(n)) }

func (o *FabricObserver) BatchFlushed(channelID uint16, packets int, bytes int) {
	_ = channelID
	_ = packets
	o.batchFlushed.Inc()
	o.batchBytes.Add(float64(bytes))
}

func (o *FabricObserver) PacketDropped(reason observability.DropReason) {
	o.dropTotal.WithLabelValues(string(reason)).Inc()
}

func (o *FabricObserver) Overloaded() { o.overloaded.Inc() }

// MCPObserver exports MCP-gateway metrics to Prometheus.
type MCPObserver struct {
	sessionGauge  prometheus.Gauge
	rpcRequests   *prometheus.CounterVec
	toolForwarded *prometheus.CounterVec
	sseSent       prometheus.Counter
}

// NewMCPObserver registers MCP gateway metrics on the registry.
func NewMCPObserver(reg *prometheus.Registry) *MCPObserver {
	o := &MCPObserver{
		sessionGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playground_mcp_sessions",
			Help: "Current active MCP session count.",
		}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playground_mcp_rpc_requests_total",
			Help: "JSON-RPC requests handled, by method and result.",
		}, []string{"method", "result"}),
		toolForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playground_mcp_tool_calls_forwarded_total",
			Help: "tools/call requests forwarded to a handler channel, by tool.",
		}, []string{"tool"}),
		sseSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playground_mcp_sse_messages_total",
			Help: "JSON messages pushed over an SSE stream.",
		}),
	}
	reg.MustRegister(o.sessionGauge, o.rpcRequests, o.toolForwarded, o.sseSent)
	return o
}

func (o *MCPObserver) SessionCount(n int) { o.sessionGauge.Set(float64(n)) }

func (o *MCPObserver) RPCRequest(method string, result observability.RPCResult) {
	o.rpcRequests.WithLabelValues(method, string(result)).Inc()
}

func (o *MCPObserver) ToolCallForwarded(tool string) {
	o.toolForwarded.WithLabelValues(tool).Inc()
}

func (o *MCPObserver) SSESent() { o.sseSent.Inc() }
