// Package packet implements the bit-exact wire frame shared by every
// channel multiplexed over the fabric's single WebSocket connection.
package packet

import (
	"encoding/binary"

	"github.com/tikaszar/playground-fabric/fserrors"
)

// Priority orders packets within a channel's batcher queue.
type Priority uint8

const (
	Low Priority = iota
	Medium
	High
	Critical
)

func (p Priority) valid() bool { return p <= Critical }

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// headerSize is the fixed prefix before the payload: channel_id(2) +
// packet_type(2) + priority(1) + payload_len(4).
const headerSize = 9

// Packet is the unit of transport: a channel-addressed, typed,
// prioritized, immutable byte payload.
type Packet struct {
	ChannelID uint16
	Type      uint16
	Priority  Priority
	Payload   []byte
}

// New builds a Packet, copying payload so the caller's slice can be
// reused after the call returns.
func New(channelID, packetType uint16, priority Priority, payload []byte) Packet {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return Packet{ChannelID: channelID, Type: packetType, Priority: priority, Payload: cp}
}

// EncodedLen returns the size of Encode(p) in bytes.
func (p Packet) EncodedLen() int {
	return headerSize + len(p.Payload)
}

// Encode serializes p into the bit-exact wire frame. It never fails for
// a valid Priority and a payload length that fits in a uint32.
func Encode(p Packet) ([]byte, error) {
	if !p.Priority.valid() {
		return nil, fserrors.Wrap(fserrors.ConcernCodec, fserrors.StageEncode, fserrors.CodeMalformedFrame, nil)
	}
	buf := make([]byte, p.EncodedLen())
	EncodeInto(buf, p)
	return buf, nil
}

// EncodeInto writes the wire frame for p into dst, which must be at
// least p.EncodedLen() bytes.
func EncodeInto(dst []byte, p Packet) {
	binary.LittleEndian.PutUint16(dst[0:2], p.ChannelID)
	binary.LittleEndian.PutUint16(dst[2:4], p.Type)
	dst[4] = byte(p.Priority)
	binary.LittleEndian.PutUint32(dst[5:9], uint32(len(p.Payload)))
	copy(dst[9:], p.Payload)
}

// Decode parses a single frame from the head of b and returns the
// decoded Packet plus the number of bytes consumed. It fails with
// CodeMalformedFrame on a short header, an unknown priority encoding,
// or a declared payload length that exceeds the remaining buffer.
func Decode(b []byte) (Packet, int, error) {
	if len(b) < headerSize {
		return Packet{}, 0, fserrors.Wrap(fserrors.ConcernCodec, fserrors.StageDecode, fserrors.CodeMalformedFrame, nil)
	}
	priority := Priority(b[4])
	if !priority.valid() {
		return Packet{}, 0, fserrors.Wrap(fserrors.ConcernCodec, fserrors.StageDecode, fserrors.CodeMalformedFrame, nil)
	}
	payloadLen := binary.LittleEndian.Uint32(b[5:9])
	total := headerSize + int(payloadLen)
	if total < headerSize || len(b) < total {
		return Packet{}, 0, fserrors.Wrap(fserrors.ConcernCodec, fserrors.StageDecode, fserrors.CodeMalformedFrame, nil)
	}
	// Always allocate, even for payloadLen == 0: make([]byte, 0) is a
	// non-nil empty slice, matching New/Encode's representation of an
	// empty payload so a zero-length frame round-trips byte-for-byte
	// and DeepEqual-clean.
	payload := make([]byte, payloadLen)
	copy(payload, b[9:total])
	p := Packet{
		ChannelID: binary.LittleEndian.Uint16(b[0:2]),
		Type:      binary.LittleEndian.Uint16(b[2:4]),
		Priority:  priority,
		Payload:   payload,
	}
	return p, total, nil
}

// DecodeAll parses every concatenated frame in b. It fails with
// CodeMalformedFrame if any frame is truncated or malformed, and
// otherwise returns exactly the packets encoded, in order, with no
// residue.
func DecodeAll(b []byte) ([]Packet, error) {
	var out []Packet
	for len(b) > 0 {
		p, n, err := Decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		b = b[n:]
	}
	return out, nil
}
