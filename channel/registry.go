// Package channel implements the numeric channel registry: name-to-id
// allocation, reserved-range enforcement, and deterministic listing.
package channel

import (
	"sort"
	"sync"

	"github.com/tikaszar/playground-fabric/fserrors"
	"github.com/tikaszar/playground-fabric/internal/channelid"
)

// Owner classifies who registered a channel.
type Owner string

const (
	OwnerSystem Owner = "System"
	OwnerPlugin Owner = "Plugin"
)

const (
	// Control is the reserved control-plane channel; never allocatable.
	Control uint16 = 0

	systemRangeStart = 1
	systemRangeEnd   = 999

	pluginRangeStart = 1000
	pluginRangeEnd   = 1999

	// MCPToolCall and MCPToolResult are the two fixed MCP fan-out channels.
	MCPToolCall   uint16 = 2000
	MCPToolResult uint16 = 2001

	sessionRangeStart = 2002
	sessionRangeEnd   = 2999
)

// Info is the public, immutable view of a registered channel.
type Info struct {
	ID    uint16
	Name  string
	Owner Owner
}

// Registry allocates and looks up numeric channel ids from names under
// a single exclusive lock; reads are short and never await I/O.
type Registry struct {
	mu         sync.Mutex
	byName     map[string]Info
	byID       map[uint16]Info
	nextPlug   uint16
	maxEntries int
}

// New returns an empty Registry with no registration cap beyond the
// system/plugin range sizes themselves.
func New() *Registry {
	return &Registry{
		byName:   make(map[string]Info),
		byID:     make(map[uint16]Info),
		nextPlug: pluginRangeStart,
	}
}

// NewWithLimit returns an empty Registry that additionally refuses new
// registrations once it holds max entries, regardless of range
// availability.
func NewWithLimit(max int) *Registry {
	r := New()
	r.maxEntries = max
	return r
}

func (r *Registry) atCapacity() bool {
	return r.maxEntries > 0 && len(r.byID) >= r.maxEntries
}

func normalize(name string) (string, error) {
	n := channelid.Normalize(name)
	if err := channelid.Validate(n); err != nil {
		return "", fserrors.Wrap(fserrors.ConcernRegistry, fserrors.StageValidate, fserrors.CodeBadPayload, err)
	}
	return n, nil
}

// RegisterSystem assigns name to requestedID within the system range
// (1..999). Re-registering the same (name, id) pair is a no-op that
// returns the existing id. A different name already holding that id,
// or an id outside the system range (including 0), fails.
func (r *Registry) RegisterSystem(name string, requestedID uint16) (uint16, error) {
	name, err := normalize(name)
	if err != nil {
		return 0, err
	}
	if requestedID < systemRangeStart || requestedID > systemRangeEnd {
		return 0, fserrors.Wrap(fserrors.ConcernRegistry, fserrors.StageRegister, fserrors.CodeRangeViolation, nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		if existing.ID == requestedID {
			return existing.ID, nil
		}
		return 0, fserrors.Wrap(fserrors.ConcernRegistry, fserrors.StageRegister, fserrors.CodeNameConflict, nil)
	}
	if existing, ok := r.byID[requestedID]; ok && existing.Name != name {
		return 0, fserrors.Wrap(fserrors.ConcernRegistry, fserrors.StageRegister, fserrors.CodeNameConflict, nil)
	}
	if r.atCapacity() {
		return 0, fserrors.Wrap(fserrors.ConcernRegistry, fserrors.StageRegister, fserrors.CodeRangeExhausted, nil)
	}

	info := Info{ID: requestedID, Name: name, Owner: OwnerSystem}
	r.byName[name] = info
	r.byID[requestedID] = info
	return requestedID, nil
}

// RegisterPlugin assigns name the lowest unused id in the plugin range
// (1000..1999). Re-registering the same name is idempotent.
func (r *Registry) RegisterPlugin(name string) (uint16, error) {
	name, err := normalize(name)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		return existing.ID, nil
	}
	if r.atCapacity() {
		return 0, fserrors.Wrap(fserrors.ConcernRegistry, fserrors.StageRegister, fserrors.CodeRangeExhausted, nil)
	}

	for id := pluginRangeStart; id <= pluginRangeEnd; id++ {
		if _, taken := r.byID[uint16(id)]; !taken {
			info := Info{ID: uint16(id), Name: name, Owner: OwnerPlugin}
			r.byName[name] = info
			r.byID[uint16(id)] = info
			return uint16(id), nil
		}
	}
	return 0, fserrors.Wrap(fserrors.ConcernRegistry, fserrors.StageRegister, fserrors.CodeRangeExhausted, nil)
}

// QueryByName returns the registered Info for name, if any.
func (r *Registry) QueryByName(name string) (Info, bool) {
	name = channelid.Normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.byName[name]
	return info, ok
}

// QueryByID returns the registered Info for id, if any.
func (r *Registry) QueryByID(id uint16) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.byID[id]
	return info, ok
}

// List returns every registered channel ordered by ascending id.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.byID))
	for _, info := range r.byID {
		out = append(out, info)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// IsReserved reports whether id falls in a range the registry itself
// manages (control, MCP fan-out, or per-session pool) rather than the
// system/plugin registration ranges.
func IsReserved(id uint16) bool {
	switch {
	case id == Control:
		return true
	case id == MCPToolCall || id == MCPToolResult:
		return true
	case id >= sessionRangeStart && id <= sessionRangeEnd:
		return true
	default:
		return false
	}
}

// SessionChannelPool tracks the 2002..2999 per-session allocation pool
// with a monotonically increasing counter plus an occupancy map,
// avoiding the hash-based collision risk left open by the source.
type SessionChannelPool struct {
	mu       sync.Mutex
	next     uint16
	occupied map[uint16]struct{}
}

// NewSessionChannelPool returns an empty pool.
func NewSessionChannelPool() *SessionChannelPool {
	return &SessionChannelPool{next: sessionRangeStart, occupied: make(map[uint16]struct{})}
}

// Allocate returns the next free channel id in the pool.
func (p *SessionChannelPool) Allocate() (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < int(sessionRangeEnd-sessionRangeStart)+1; i++ {
		id := p.next
		p.next++
		if p.next > sessionRangeEnd {
			p.next = sessionRangeStart
		}
		if _, taken := p.occupied[id]; !taken {
			p.occupied[id] = struct{}{}
			return id, nil
		}
	}
	return 0, fserrors.Wrap(fserrors.ConcernRegistry, fserrors.StageRegister, fserrors.CodeRangeExhausted, nil)
}

// Release frees id back into the pool.
func (p *SessionChannelPool) Release(id uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.occupied, id)
}
