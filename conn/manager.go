// Package conn implements the per-socket connection lifecycle: accept,
// dispatch inbound packets, drive outbound batches, and teardown. It is
// grounded on the reader/writer goroutine-pair-per-connection pattern
// used throughout the teacher's tunnel server.
package conn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tikaszar/playground-fabric/feed"
	"github.com/tikaszar/playground-fabric/internal/defaults"
	"github.com/tikaszar/playground-fabric/observability"
	"github.com/tikaszar/playground-fabric/packet"
	"github.com/tikaszar/playground-fabric/realtime/ws"
)

// State is a connection's position in the lifecycle state machine.
type State int32

const (
	Connecting State = iota
	Connected
	Idle
	Disconnecting
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Idle:
		return "idle"
	case Disconnecting:
		return "disconnecting"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Socket is the minimal transport Connection drives; realtime/ws.Conn
// satisfies it.
type Socket interface {
	ReadMessage(ctx context.Context) (int, []byte, error)
	WriteMessage(ctx context.Context, messageType int, data []byte) error
	Close() error
}

const outboundQueueDepth = 256

// Connection is one accepted WebSocket, with its own reader and writer
// goroutine and a bounded outbound message queue.
type Connection struct {
	ID         uint64
	RemoteAddr string

	sock Socket
	mgr  *Manager

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos
	bytesIn      atomic.Uint64
	bytesOut     atomic.Uint64
	msgsIn       atomic.Uint64
	msgsOut      atomic.Uint64

	outbound chan []byte

	closeOnce sync.Once
}

func newConnection(id uint64, sock Socket, remoteAddr string, mgr *Manager) *Connection {
	c := &Connection{
		ID:         id,
		RemoteAddr: remoteAddr,
		sock:       sock,
		mgr:        mgr,
		outbound:   make(chan []byte, outboundQueueDepth),
	}
	c.state.Store(int32(Connecting))
	c.touch()
	return c
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// LastActivity returns the time of the connection's most recent frame.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// WriteBatch implements batcher.Sink by enqueueing the already-encoded
// wire bytes for delivery on this connection's writer goroutine. It
// never blocks: an unresponsive socket that can't drain its queue is
// torn down rather than stalling the shared batcher tick.
func (c *Connection) WriteBatch(channelID uint16, message []byte) {
	_ = channelID
	select {
	case c.outbound <- message:
	default:
		go c.teardown(nil)
	}
}

func (c *Connection) readLoop(ctx context.Context) {
	for {
		mt, data, err := c.sock.ReadMessage(ctx)
		if err != nil {
			c.teardown(err)
			return
		}
		if mt != websocketBinaryMessage {
			continue
		}
		c.msgsIn.Add(1)
		c.bytesIn.Add(uint64(len(data)))
		c.touch()
		if c.State() == Connecting {
			c.setState(Connected)
		}

		packets, err := packet.DecodeAll(data)
		if err != nil {
			// Decode failure: logged by the caller-supplied hook, packet
			// dropped, connection continues.
			if c.mgr.onDecodeError != nil {
				c.mgr.onDecodeError(c, err)
			}
			continue
		}
		for _, p := range packets {
			c.mgr.dispatch(c, p)
		}
	}
}

func (c *Connection) writeLoop(ctx context.Context) {
	for msg := range c.outbound {
		if err := c.sock.WriteMessage(ctx, websocketBinaryMessage, msg); err != nil {
			c.teardown(err)
			return
		}
		c.msgsOut.Add(1)
		c.bytesOut.Add(uint64(len(msg)))
	}
}

func (c *Connection) teardown(cause error) {
	c.closeOnce.Do(func() {
		c.setState(Disconnecting)
		_ = c.sock.Close()
		c.mgr.remove(c)
		c.setState(Disconnected)
		kind := feed.ConnDisconnected
		if cause != nil {
			kind = feed.ConnError
		}
		c.mgr.feed.Publish(feed.Event{Kind: kind, At: time.Now(), ConnID: c.ID})
	})
}

// websocketBinaryMessage mirrors gorilla/websocket.BinaryMessage so this
// package does not need to import gorilla/websocket directly for a
// single constant.
const websocketBinaryMessage = 2

// DecodeErrorFunc observes a per-packet decode failure without tearing
// the connection down.
type DecodeErrorFunc func(c *Connection, err error)

// DispatchFunc routes one decoded packet arriving on a connection.
type DispatchFunc func(c *Connection, p packet.Packet)

// Manager tracks every live Connection and fans inbound packets out to
// registered subscribers (the control-plane handler, MCP bridges). It
// also implements batcher.Sink by broadcasting each flushed batch to
// every live connection.
type Manager struct {
	mu     sync.Mutex
	conns  map[uint64]*Connection
	nextID uint64

	subsMu sync.RWMutex
	subs   map[uint16][]chan packet.Packet

	idleTimeout time.Duration
	obs         observability.FabricObserver
	feed        *feed.Feed

	onDecodeError DecodeErrorFunc
	onControl     DispatchFunc // invoked for channel 0 in addition to subscribers

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Options configures a Manager.
type Options struct {
	IdleTimeout   time.Duration
	Observer      observability.FabricObserver
	Feed          *feed.Feed
	OnDecodeError DecodeErrorFunc
	OnControl     DispatchFunc
}

// NewManager returns a Manager and starts its idle-sweep background task.
func NewManager(opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaults.ConnIdleTimeout
	}
	if opts.Observer == nil {
		opts.Observer = observability.NoopFabricObserver
	}
	if opts.Feed == nil {
		opts.Feed = feed.New()
	}
	m := &Manager{
		conns:       make(map[uint64]*Connection),
		subs:        make(map[uint16][]chan packet.Packet),
		idleTimeout: opts.IdleTimeout,
		obs:         opts.Observer,
		feed:        opts.Feed,

		onDecodeError: opts.OnDecodeError,
		onControl:     opts.OnControl,
		sweepStop:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Accept registers a new socket, starts its reader/writer goroutines,
// and returns the tracked Connection.
func (m *Manager) Accept(ctx context.Context, sock Socket, remoteAddr string) *Connection {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	c := newConnection(id, sock, remoteAddr, m)

	m.mu.Lock()
	m.conns[id] = c
	n := len(m.conns)
	m.mu.Unlock()
	m.obs.ConnCount(int64(n))
	m.feed.Publish(feed.Event{Kind: feed.ConnConnected, At: time.Now(), ConnID: id})

	go c.readLoop(ctx)
	go c.writeLoop(ctx)
	return c
}

func (m *Manager) remove(c *Connection) {
	m.mu.Lock()
	delete(m.conns, c.ID)
	n := len(m.conns)
	m.mu.Unlock()
	m.obs.ConnCount(int64(n))
}

// Snapshot returns every live connection.
func (m *Manager) Snapshot() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

// WriteBatch implements batcher.Sink by broadcasting message to every
// live connection's outbound queue.
func (m *Manager) WriteBatch(channelID uint16, message []byte) {
	for _, c := range m.Snapshot() {
		c.WriteBatch(channelID, message)
	}
}

// Subscribe registers ch to receive every packet decoded on channelID
// across all connections, matching the reserved-channel fan-out §4.D
// describes for the control plane and MCP bridges.
func (m *Manager) Subscribe(channelID uint16, ch chan packet.Packet) func() {
	m.subsMu.Lock()
	m.subs[channelID] = append(m.subs[channelID], ch)
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		list := m.subs[channelID]
		for i, existing := range list {
			if existing == ch {
				m.subs[channelID] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) dispatch(c *Connection, p packet.Packet) {
	if p.ChannelID == 0 && m.onControl != nil {
		m.onControl(c, p)
	}
	m.subsMu.RLock()
	subs := append([]chan packet.Packet(nil), m.subs[p.ChannelID]...)
	m.subsMu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// Stop ends the idle sweep loop.
func (m *Manager) Stop() {
	close(m.sweepStop)
	<-m.sweepDone
}

func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepIdle()
		case <-m.sweepStop:
			return
		}
	}
}

func (m *Manager) sweepIdle() {
	now := time.Now()
	for _, c := range m.Snapshot() {
		switch c.State() {
		case Connected:
			if now.Sub(c.LastActivity()) > m.idleTimeout {
				c.setState(Idle)
				m.feed.Publish(feed.Event{Kind: feed.ConnIdle, At: now, ConnID: c.ID})
			}
		case Idle:
			if now.Sub(c.LastActivity()) <= m.idleTimeout {
				c.setState(Connected)
			}
		}
	}
}

// Ensure ws.Conn satisfies Socket.
var _ Socket = (*ws.Conn)(nil)
