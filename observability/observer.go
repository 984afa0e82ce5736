// Package observability defines metric-observer interfaces for the
// fabric and the MCP gateway. Every interface has a zero-cost no-op
// implementation so instrumentation can be wired in only when a
// Prometheus registry is configured.
package observability

import (
	"sync"
	"sync/atomic"
)

// DropReason classifies why a batcher enqueue dropped a packet.
type DropReason string

const (
	DropReasonSoftLimit DropReason = "soft_limit"
	DropReasonHardLimit DropReason = "hard_limit"
)

// RPCResult classifies the outcome of a JSON-RPC method dispatch.
type RPCResult string

const (
	RPCResultOK             RPCResult = "ok"
	RPCResultError          RPCResult = "error"
	RPCResultMethodNotFound RPCResult = "method_not_found"
	RPCResultParseError     RPCResult = "parse_error"
)

// FabricObserver receives packet-fabric metric events: connections,
// channels, batching, and backpressure.
type FabricObserver interface {
	ConnCount(n int64)
	ChannelCount(n int)
	BatchFlushed(channelID uint16, packets int, bytes int)
	PacketDropped(reason DropReason)
	Overloaded()
}

// MCPObserver receives MCP-gateway metric events: sessions, RPC
// dispatch, tool forwarding, and SSE delivery.
type MCPObserver interface {
	SessionCount(n int)
	RPCRequest(method string, result RPCResult)
	ToolCallForwarded(tool string)
	SSESent()
}

type noopFabricObserver struct{}

func (noopFabricObserver) ConnCount(int64)                      {}
func (noopFabricObserver) ChannelCount(int)                     {}
func (noopFabricObserver) BatchFlushed(uint16, int, int)        {}
func (noopFabricObserver) PacketDropped(DropReason)             {}
func (noopFabricObserver) Overloaded()                          {}

type noopMCPObserver struct{}

func (noopMCPObserver) SessionCount(int)             {}
func (noopMCPObserver) RPCRequest(string, RPCResult) {}
func (noopMCPObserver) ToolCallForwarded(string)     {}
func (noopMCPObserver) SSESent()                     {}

// NoopFabricObserver is a zero-cost observer used when metrics are disabled.
var NoopFabricObserver FabricObserver = noopFabricObserver{}

// NoopMCPObserver is a zero-cost observer used when metrics are disabled.
var NoopMCPObserver MCPObserver = noopMCPObserver{}

// AtomicFabricObserver swaps its delegate at runtime, so metrics can be
// enabled/disabled without restarting the process.
type AtomicFabricObserver struct {
	once sync.Once
	v    atomic.Value
}

type fabricObserverHolder struct{ obs FabricObserver }

func NewAtomicFabricObserver() *AtomicFabricObserver {
	a := &AtomicFabricObserver{}
	a.init()
	return a
}

func (a *AtomicFabricObserver) init() {
	a.once.Do(func() { a.v.Store(&fabricObserverHolder{obs: NoopFabricObserver}) })
}

func (a *AtomicFabricObserver) Set(obs FabricObserver) {
	if obs == nil {
		obs = NoopFabricObserver
	}
	a.init()
	a.v.Store(&fabricObserverHolder{obs: obs})
}

func (a *AtomicFabricObserver) load() FabricObserver {
	a.init()
	return a.v.Load().(*fabricObserverHolder).obs
}

func (a *AtomicFabricObserver) ConnCount(n int64)  { a.load().ConnCount(n) }
func (a *AtomicFabricObserver) ChannelCount(n int) { a.load().ChannelCount(n) }
func (a *AtomicFabricObserver) BatchFlushed(channelID uint16, packets int, bytes int) {
	a.load().BatchFlushed(channelID, packets, bytes)
}
func (a *AtomicFabricObserver) PacketDropped(reason DropReason) { a.load().PacketDropped(reason) }
func (a *AtomicFabricObserver) Overloaded()                     { a.load().Overloaded() }

// AtomicMCPObserver swaps its delegate at runtime.
type AtomicMCPObserver struct {
	once sync.Once
	v    atomic.Value
}

type mcpObserverHolder struct{ obs MCPObserver }

func NewAtomicMCPObserver() *AtomicMCPObserver {
	a := &AtomicMCPObserver{}
	a.init()
	return a
}

func (a *AtomicMCPObserver) init() {
	a.once.Do(func() { a.v.Store(&mcpObserverHolder{obs: NoopMCPObserver}) })
}

func (a *AtomicMCPObserver) Set(obs MCPObserver) {
	if obs == nil {
		obs = NoopMCPObserver
	}
	a.init()
	a.v.Store(&mcpObserverHolder{obs: obs})
}

func (a *AtomicMCPObserver) load() MCPObserver {
	a.init()
	return a.v.Load().(*mcpObserverHolder).obs
}

func (a *AtomicMCPObserver) SessionCount(n int) { a.load().SessionCount(n) }
func (a *AtomicMCPObserver) RPCRequest(method string, result RPCResult) {
	a.load().RPCRequest(method, result)
}
func (a *AtomicMCPObserver) ToolCallForwarded(tool string) { a.load().ToolCallForwarded(tool) }
func (a *AtomicMCPObserver) SSESent()                      { a.load().SSESent() }
