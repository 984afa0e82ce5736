package packet_test

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/tikaszar/playground-fabric/packet"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []packet.Packet{
		packet.New(0, 1, packet.Low, []byte("hello")),
		packet.New(65535, 65535, packet.Critical, nil),
		packet.New(1000, 2, packet.Medium, bytes.Repeat([]byte{0xAB}, 300)),
	}
	for _, p := range cases {
		b, err := packet.Encode(p)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, n, err := packet.Decode(b)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if n != len(b) {
			t.Fatalf("consumed %d bytes, want %d", n, len(b))
		}
		if got.ChannelID != p.ChannelID || got.Type != p.Type || got.Priority != p.Priority {
			t.Fatalf("field mismatch: got %+v, want %+v", got, p)
		}
		if !bytes.Equal(got.Payload, p.Payload) {
			t.Fatalf("payload mismatch: got %x, want %x", got.Payload, p.Payload)
		}
	}
}

func TestEncodeDecode_ZeroLengthPayload(t *testing.T) {
	p := packet.New(5, 9, packet.High, nil)
	b, err := packet.Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, n, err := packet.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != 9 {
		t.Fatalf("consumed %d bytes, want 9", n)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("expected empty payload, got %x", got.Payload)
	}
	if got.Payload == nil {
		t.Fatal("expected a non-nil empty payload, got nil")
	}
	if !reflect.DeepEqual(got, p) {
		t.Fatalf("DeepEqual mismatch: got %+v, want %+v", got, p)
	}
}

func TestDecode_ShortHeaderFails(t *testing.T) {
	if _, _, err := packet.Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error on short header")
	}
}

func TestDecode_TruncatedPayloadFails(t *testing.T) {
	p := packet.New(1, 1, packet.Low, []byte("12345"))
	b, _ := packet.Encode(p)
	if _, _, err := packet.Decode(b[:len(b)-2]); err == nil {
		t.Fatal("expected error on truncated payload")
	}
}

func TestDecode_UnknownPriorityFails(t *testing.T) {
	b, _ := packet.Encode(packet.New(1, 1, packet.Low, nil))
	b[4] = 200 // out of range priority byte
	if _, _, err := packet.Decode(b); err == nil {
		t.Fatal("expected error on unknown priority")
	}
}

func TestDecodeAll_ConcatenatedFramesNoResidue(t *testing.T) {
	want := []packet.Packet{
		packet.New(1, 1, packet.Low, []byte("a")),
		packet.New(2, 2, packet.High, []byte("bb")),
		packet.New(3, 3, packet.Critical, nil),
	}
	var buf bytes.Buffer
	for _, p := range want {
		b, err := packet.Encode(p)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		buf.Write(b)
	}
	got, err := packet.DecodeAll(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d packets, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ChannelID != want[i].ChannelID || !bytes.Equal(got[i].Payload, want[i].Payload) {
			t.Fatalf("packet %d mismatch: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDecodeAll_TruncatedTrailingFrameFails(t *testing.T) {
	b, _ := packet.Encode(packet.New(1, 1, packet.Low, []byte("abcdef")))
	b2, _ := packet.Encode(packet.New(2, 1, packet.Low, []byte("xyz")))
	buf := append(b, b2[:len(b2)-1]...)
	if _, err := packet.DecodeAll(buf); err == nil {
		t.Fatal("expected error on truncated trailing frame")
	}
}
