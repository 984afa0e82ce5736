// Package defaults centralizes the tunable constants for the fabric so a
// single file documents every default that configuration can override.
package defaults

import "time"

const (
	// FrameRateHz is the default batcher tick rate.
	FrameRateHz = 60
	// MaxChannels bounds the total number of registrable channels.
	MaxChannels = 2000
	// SoftQueueLimit is the per-channel queue depth, counted across all
	// priorities, above which Low- then Medium-priority packets are dropped.
	SoftQueueLimit = 1024
	// HardQueueLimit is the per-channel Critical-priority queue depth
	// beyond which enqueue fails with Overloaded.
	HardQueueLimit = 4096
	// ConnIdleTimeout is how long a connection may go without activity
	// before it is considered Idle.
	ConnIdleTimeout = 30 * time.Second
	// SessionIdleTimeout is how long an MCP session may go without
	// activity before the idle sweep removes it.
	SessionIdleTimeout = 5 * time.Minute
	// MCPKeepalive is the interval between SSE keep-alive comments.
	MCPKeepalive = 30 * time.Second
	// ToolCallTimeout bounds how long a forwarded tools/call waits for a
	// result on the tool-result channel before giving up.
	ToolCallTimeout = 30 * time.Second
	// MaxFrameReadBytes is a size bound for a single packet payload. The
	// packet decoder and the websocket read path do not apply it.
	MaxFrameReadBytes = 16 << 20
)

// TickInterval converts a frame rate in Hz to a ticker interval.
func TickInterval(frameRateHz int) time.Duration {
	if frameRateHz <= 0 {
		frameRateHz = FrameRateHz
	}
	return time.Second / time.Duration(frameRateHz)
}
