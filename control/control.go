// Package control implements the channel-0 control-plane handler:
// channel registration, querying, listing, and dynamic tool
// registration, all addressed over the packet protocol itself rather
// than a side-channel HTTP API.
package control

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tikaszar/playground-fabric/channel"
	"github.com/tikaszar/playground-fabric/fserrors"
	"github.com/tikaszar/playground-fabric/packet"
)

// Subtype is a channel-0 packet_type value.
type Subtype uint16

const (
	RegisterSystem Subtype = 1
	RegisterPlugin Subtype = 2
	QueryChannel   Subtype = 3
	ListChannels   Subtype = 4

	RegisterResponse Subtype = 10
	QueryResponse    Subtype = 11
	ListResponse     Subtype = 12
	ErrorResponse    Subtype = 13

	// ToolRegister and ToolUnregister are fixed at 100/101 per the wire
	// contract; every other subtype is free for the handler to assign.
	ToolRegister   Subtype = 100
	ToolUnregister Subtype = 101
)

// ToolRegistrar is the subset of the MCP tool registry the control
// handler needs; implemented by mcp/tools.Registry.
type ToolRegistrar interface {
	Register(name, description string, inputSchema json.RawMessage, handlerChannel uint16) error
	Unregister(name string) error
}

// Handler interprets channel-0 packets and returns the response packets
// to enqueue back through the batcher, at High priority (Critical for
// errors) as the wire contract requires.
type Handler struct {
	registry *channel.Registry
	tools    ToolRegistrar
}

// New returns a Handler bound to registry and tools.
func New(registry *channel.Registry, tools ToolRegistrar) *Handler {
	return &Handler{registry: registry, tools: tools}
}

// Handle interprets one channel-0 packet and returns the response
// packet(s) to send back on channel 0.
func (h *Handler) Handle(p packet.Packet) []packet.Packet {
	switch Subtype(p.Type) {
	case RegisterSystem:
		return h.handleRegisterSystem(p.Payload)
	case RegisterPlugin:
		return h.handleRegisterPlugin(p.Payload)
	case QueryChannel:
		return h.handleQueryChannel(p.Payload)
	case ListChannels:
		return h.handleListChannels()
	case ToolRegister:
		return h.handleToolRegister(p.Payload)
	case ToolUnregister:
		return h.handleToolUnregister(p.Payload)
	default:
		return []packet.Packet{errorPacket(fserrors.Wrap(fserrors.ConcernControl, fserrors.StageDispatch, fserrors.CodeUnknownSubtype, nil))}
	}
}

func (h *Handler) handleRegisterSystem(payload []byte) []packet.Packet {
	name, id, err := parseNameID(payload)
	if err != nil {
		return []packet.Packet{errorPacket(err)}
	}
	assigned, err := h.registry.RegisterSystem(name, id)
	if err != nil {
		return []packet.Packet{errorPacket(err)}
	}
	return []packet.Packet{registerResponsePacket(assigned)}
}

func (h *Handler) handleRegisterPlugin(payload []byte) []packet.Packet {
	name := strings.TrimSpace(string(payload))
	assigned, err := h.registry.RegisterPlugin(name)
	if err != nil {
		return []packet.Packet{errorPacket(err)}
	}
	return []packet.Packet{registerResponsePacket(assigned)}
}

func (h *Handler) handleQueryChannel(payload []byte) []packet.Packet {
	name := strings.TrimSpace(string(payload))
	info, ok := h.registry.QueryByName(name)
	if !ok {
		return []packet.Packet{errorPacket(fserrors.Wrap(fserrors.ConcernControl, fserrors.StageQuery, fserrors.CodeBadPayload, nil))}
	}
	return []packet.Packet{queryResponsePacket(info)}
}

func (h *Handler) handleListChannels() []packet.Packet {
	return []packet.Packet{listResponsePacket(h.registry.List())}
}

func (h *Handler) handleToolRegister(payload []byte) []packet.Packet {
	var req struct {
		Name           string          `json:"name"`
		Description    string          `json:"description"`
		InputSchema    json.RawMessage `json:"input_schema"`
		HandlerChannel uint16          `json:"handler_channel"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return []packet.Packet{errorPacket(fserrors.Wrap(fserrors.ConcernControl, fserrors.StageDecode, fserrors.CodeBadPayload, err))}
	}
	if err := h.tools.Register(req.Name, req.Description, req.InputSchema, req.HandlerChannel); err != nil {
		return []packet.Packet{errorPacket(err)}
	}
	return []packet.Packet{registerResponsePacket(req.HandlerChannel)}
}

func (h *Handler) handleToolUnregister(payload []byte) []packet.Packet {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return []packet.Packet{errorPacket(fserrors.Wrap(fserrors.ConcernControl, fserrors.StageDecode, fserrors.CodeBadPayload, err))}
	}
	if err := h.tools.Unregister(req.Name); err != nil {
		return []packet.Packet{errorPacket(err)}
	}
	return []packet.Packet{registerResponsePacket(0)}
}

func parseNameID(payload []byte) (string, uint16, error) {
	s := string(payload)
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", 0, fserrors.Wrap(fserrors.ConcernControl, fserrors.StageDecode, fserrors.CodeBadPayload, fmt.Errorf("missing ':' separator in %q", s))
	}
	name, idStr := s[:idx], s[idx+1:]
	id, err := strconv.ParseUint(idStr, 10, 16)
	if err != nil {
		return "", 0, fserrors.Wrap(fserrors.ConcernControl, fserrors.StageDecode, fserrors.CodeBadPayload, err)
	}
	return name, uint16(id), nil
}

func registerResponsePacket(id uint16) packet.Packet {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, id)
	return packet.New(channel.Control, uint16(RegisterResponse), packet.High, payload)
}

func queryResponsePacket(info channel.Info) packet.Packet {
	nameBytes := []byte(info.Name)
	payload := make([]byte, 4+len(nameBytes))
	binary.BigEndian.PutUint16(payload[0:2], info.ID)
	binary.BigEndian.PutUint16(payload[2:4], uint16(len(nameBytes)))
	copy(payload[4:], nameBytes)
	return packet.New(channel.Control, uint16(QueryResponse), packet.High, payload)
}

func listResponsePacket(list []channel.Info) packet.Packet {
	var payload []byte
	count := make([]byte, 2)
	binary.BigEndian.PutUint16(count, uint16(len(list)))
	payload = append(payload, count...)
	for _, info := range list {
		nameBytes := []byte(info.Name)
		ownerBytes := []byte(info.Owner)

		entry := make([]byte, 2+2+len(nameBytes)+2+len(ownerBytes))
		binary.BigEndian.PutUint16(entry[0:2], info.ID)
		binary.BigEndian.PutUint16(entry[2:4], uint16(len(nameBytes)))
		copy(entry[4:4+len(nameBytes)], nameBytes)
		off := 4 + len(nameBytes)
		binary.BigEndian.PutUint16(entry[off:off+2], uint16(len(ownerBytes)))
		copy(entry[off+2:], ownerBytes)

		payload = append(payload, entry...)
	}
	return packet.New(channel.Control, uint16(ListResponse), packet.High, payload)
}

func errorPacket(err error) packet.Packet {
	return packet.New(channel.Control, uint16(ErrorResponse), packet.Critical, []byte(err.Error()))
}
