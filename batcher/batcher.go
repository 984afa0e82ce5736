// Package batcher coalesces outbound packets per channel into
// fixed-tick-rate, priority-ordered binary messages.
package batcher

import (
	"sync"
	"time"

	"github.com/tikaszar/playground-fabric/fserrors"
	"github.com/tikaszar/playground-fabric/internal/defaults"
	"github.com/tikaszar/playground-fabric/observability"
	"github.com/tikaszar/playground-fabric/packet"
)

// Sink receives one flushed batch per non-empty channel per tick. The
// binary message is the concatenation of each packet's wire encoding,
// in priority-then-FIFO order, ready to hand to a connection's writer.
type Sink interface {
	WriteBatch(channelID uint16, message []byte)
}

// Config configures a Batcher's tick rate and per-channel queue limits.
type Config struct {
	FrameRateHz int
	SoftLimit   int
	HardLimit   int
}

// DefaultConfig returns the spec's default tick rate and queue limits.
func DefaultConfig() Config {
	return Config{
		FrameRateHz: defaults.FrameRateHz,
		SoftLimit:   defaults.SoftQueueLimit,
		HardLimit:   defaults.HardQueueLimit,
	}
}

func (c Config) withDefaults() Config {
	if c.FrameRateHz <= 0 {
		c.FrameRateHz = defaults.FrameRateHz
	}
	if c.SoftLimit <= 0 {
		c.SoftLimit = defaults.SoftQueueLimit
	}
	if c.HardLimit <= 0 {
		c.HardLimit = defaults.HardQueueLimit
	}
	return c
}

// channelQueue is a priority-segmented FIFO for one channel. Each
// priority class is its own slice so within-class FIFO order and
// drop-oldest-low-first backpressure are both O(1) amortized.
type channelQueue struct {
	mu    sync.Mutex
	lanes [4][]packet.Packet // indexed by packet.Priority
}

func (q *channelQueue) total() int {
	return len(q.lanes[packet.Low]) + len(q.lanes[packet.Medium]) + len(q.lanes[packet.High]) + len(q.lanes[packet.Critical])
}

// Batcher drains per-channel priority queues on a fixed tick and hands
// the concatenated wire bytes to a Sink.
type Batcher struct {
	cfg Config
	obs observability.FabricObserver

	mu     sync.Mutex
	queues map[uint16]*channelQueue

	sink Sink

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Batcher that flushes into sink on every tick. Call Run
// in its own goroutine to start the tick loop; call Stop to end it.
func New(cfg Config, sink Sink, obs observability.FabricObserver) *Batcher {
	if obs == nil {
		obs = observability.NoopFabricObserver
	}
	cfg = cfg.withDefaults()
	return &Batcher{
		cfg:    cfg,
		obs:    obs,
		queues: make(map[uint16]*channelQueue),
		sink:   sink,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (b *Batcher) queueFor(channelID uint16) *channelQueue {
	b.mu.Lock()
	q, ok := b.queues[channelID]
	if !ok {
		q = &channelQueue{}
		b.queues[channelID] = q
	}
	b.mu.Unlock()
	return q
}

// Enqueue appends p to its channel's priority lane. It never blocks.
// It fails with CodeOverloaded only when p.Priority is Critical and the
// channel's Critical lane is already at the hard limit; Critical
// packets are never dropped silently.
func (b *Batcher) Enqueue(p packet.Packet) error {
	q := b.queueFor(p.ChannelID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if p.Priority == packet.Critical {
		if len(q.lanes[packet.Critical]) >= b.cfg.HardLimit {
			b.obs.Overloaded()
			return fserrors.Wrap(fserrors.ConcernBatcher, fserrors.StageEnqueue, fserrors.CodeOverloaded, nil)
		}
	}
	q.lanes[p.Priority] = append(q.lanes[p.Priority], p)

	for q.total() > b.cfg.SoftLimit && len(q.lanes[packet.Low]) > 0 {
		q.lanes[packet.Low] = q.lanes[packet.Low][1:]
		b.obs.PacketDropped(observability.DropReasonSoftLimit)
	}
	for q.total() > b.cfg.SoftLimit && len(q.lanes[packet.Medium]) > 0 {
		q.lanes[packet.Medium] = q.lanes[packet.Medium][1:]
		b.obs.PacketDropped(observability.DropReasonSoftLimit)
	}
	return nil
}

// Run drives the tick loop until Stop is called. It is intended to be
// run in its own goroutine.
func (b *Batcher) Run() {
	defer close(b.doneCh)
	b.ticker = time.NewTicker(defaults.TickInterval(b.cfg.FrameRateHz))
	defer b.ticker.Stop()
	for {
		select {
		case <-b.ticker.C:
			b.flush()
		case <-b.stopCh:
			return
		}
	}
}

// Stop ends the tick loop and waits for Run to return.
func (b *Batcher) Stop() {
	close(b.stopCh)
	<-b.doneCh
}

// Flush drains and dispatches every non-empty channel once, outside of
// the normal tick cadence. It is exported for deterministic tests.
func (b *Batcher) Flush() {
	b.flush()
}

func (b *Batcher) flush() {
	b.mu.Lock()
	channelIDs := make([]uint16, 0, len(b.queues))
	for id := range b.queues {
		channelIDs = append(channelIDs, id)
	}
	b.mu.Unlock()

	for _, id := range channelIDs {
		q := b.queueFor(id)
		q.mu.Lock()
		ordered := make([]packet.Packet, 0, q.total())
		ordered = append(ordered, q.lanes[packet.Critical]...)
		ordered = append(ordered, q.lanes[packet.High]...)
		ordered = append(ordered, q.lanes[packet.Medium]...)
		ordered = append(ordered, q.lanes[packet.Low]...)
		q.lanes = [4][]packet.Packet{}
		q.mu.Unlock()

		if len(ordered) == 0 {
			continue
		}
		size := 0
		for _, p := range ordered {
			size += p.EncodedLen()
		}
		msg := make([]byte, 0, size)
		for _, p := range ordered {
			enc, err := packet.Encode(p)
			if err != nil {
				continue
			}
			msg = append(msg, enc...)
		}
		if b.sink != nil {
			b.sink.WriteBatch(id, msg)
		}
		b.obs.BatchFlushed(id, len(ordered), len(msg))
	}
}
