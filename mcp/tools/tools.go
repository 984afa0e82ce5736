// Package tools is the MCP tool registry: the four built-in diagnostic
// tools plus dynamic tools registered over the control plane. Lookup is
// O(1); listing is deterministic (built-ins in a fixed order, then
// dynamic tools by insertion).
package tools

import (
	"encoding/json"
	"sync"

	"github.com/tikaszar/playground-fabric/fserrors"
)

// Descriptor is a tool's public shape as advertised to tools/list.
type Descriptor struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	InputSchema    json.RawMessage `json:"inputSchema"`
	HandlerChannel uint16          `json:"-"`
	BuiltIn        bool            `json:"-"`
}

var builtins = []Descriptor{
	{Name: "ping", Description: "Check that the gateway is responsive.", InputSchema: json.RawMessage(`{"type":"object","properties":{}}`), BuiltIn: true},
	{Name: "echo", Description: "Echo back the given text.", InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`), BuiltIn: true},
	{Name: "get_status", Description: "Report channel and session counts.", InputSchema: json.RawMessage(`{"type":"object","properties":{}}`), BuiltIn: true},
	{Name: "list_channels", Description: "List every registered channel.", InputSchema: json.RawMessage(`{"type":"object","properties":{}}`), BuiltIn: true},
}

// Registry is the name -> Descriptor map guarded by a single writer
// lock; register overwrites on a duplicate name.
type Registry struct {
	mu      sync.Mutex
	dynamic map[string]Descriptor
	order   []string
}

// New returns a Registry seeded with the built-in diagnostic tools.
func New() *Registry {
	return &Registry{dynamic: make(map[string]Descriptor)}
}

// Register inserts or overwrites a dynamic tool.
func (r *Registry) Register(name, description string, inputSchema json.RawMessage, handlerChannel uint16) error {
	if name == "" {
		return fserrors.Wrap(fserrors.ConcernTool, fserrors.StageRegister, fserrors.CodeBadPayload, nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.dynamic[name]; !exists {
		r.order = append(r.order, name)
	}
	r.dynamic[name] = Descriptor{
		Name:           name,
		Description:    description,
		InputSchema:    inputSchema,
		HandlerChannel: handlerChannel,
	}
	return nil
}

// Unregister removes a dynamic tool by name. Removing an unknown or
// built-in tool is a no-op.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.dynamic[name]; !exists {
		return nil
	}
	delete(r.dynamic, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Lookup resolves name against built-ins first, then dynamic tools.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	for _, b := range builtins {
		if b.Name == name {
			return b, true
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dynamic[name]
	return d, ok
}

// List returns built-in tools in their fixed order, followed by
// dynamic tools in insertion order.
func (r *Registry) List() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, 0, len(builtins)+len(r.order))
	out = append(out, builtins...)
	for _, name := range r.order {
		out = append(out, r.dynamic[name])
	}
	return out
}

// IsBuiltIn reports whether name is one of the four diagnostic tools
// answered inline by the gateway rather than forwarded to a handler
// channel.
func IsBuiltIn(name string) bool {
	for _, b := range builtins {
		if b.Name == name {
			return true
		}
	}
	return false
}
