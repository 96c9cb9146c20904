package serlink

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	codec := NewCodec(1024)

	tests := []struct {
		name  string
		frame Frame
	}{
		{"data", Frame{Seq: 0, Kind: KindData, Payload: []byte("hello over the wire")}},
		{"data seq1", Frame{Seq: 1, Kind: KindData, Payload: bytes.Repeat([]byte{0xAA}, 1024)}},
		{"empty data", Frame{Seq: 0, Kind: KindData, Payload: []byte{}}},
		{"ack", Frame{Seq: 1, Kind: KindAck}},
		{"nak", Frame{Seq: 0, Kind: KindNak}},
		{"eot", Frame{Seq: 0, Kind: KindEOT}},
		{"flag bytes in payload", Frame{Seq: 1, Kind: KindData, Payload: []byte{frameFlag, frameFlag, 0x00, frameFlag}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := codec.Encode(tt.frame)
			got, err := codec.Decode(wire)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got.Seq != tt.frame.Seq {
				t.Errorf("Seq = %d, want %d", got.Seq, tt.frame.Seq)
			}
			if got.Kind != tt.frame.Kind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.frame.Kind)
			}
			if !bytes.Equal(got.Payload, tt.frame.Payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(got.Payload), len(tt.frame.Payload))
			}
		})
	}
}

func TestFrameWireLayout(t *testing.T) {
	codec := NewCodec(1024)
	wire := codec.Encode(Frame{Seq: 1, Kind: KindData, Payload: []byte{0x10, 0x20, 0x30}})

	if len(wire) != frameOverhead+3 {
		t.Fatalf("frame length = %d, want %d", len(wire), frameOverhead+3)
	}
	if wire[0] != frameFlag || wire[len(wire)-1] != frameFlag {
		t.Error("frame is not delimited by flag bytes")
	}
	if wire[1] != 1 {
		t.Errorf("sequence byte = %d, want 1", wire[1])
	}
	if wire[2] != byte(KindData) {
		t.Errorf("kind byte = 0x%02x, want 0x%02x", wire[2], byte(KindData))
	}
	if got := binary.LittleEndian.Uint16(wire[3:5]); got != 3 {
		t.Errorf("length field = %d, want 3", got)
	}

	// The checksum covers seq, kind, len and payload, not the flags.
	want := NewCRC32().Sum(wire[1 : frameHeaderSize+3])
	if got := binary.LittleEndian.Uint32(wire[frameHeaderSize+3:]); got != want {
		t.Errorf("checksum field = 0x%08X, want 0x%08X", got, want)
	}
}

func TestFrameDecodeErrors(t *testing.T) {
	codec := NewCodec(64)
	good := codec.Encode(Frame{Seq: 0, Kind: KindData, Payload: []byte("payload")})

	corrupt := func(index int, value byte) []byte {
		wire := append([]byte(nil), good...)
		wire[index] = value
		return wire
	}

	tests := []struct {
		name   string
		wire   []byte
		reason FormatReason
	}{
		{"truncated", good[:frameOverhead-1], FormatTruncated},
		{"empty", nil, FormatTruncated},
		{"bad leading marker", corrupt(0, 0x00), FormatBadMarker},
		{"bad trailing marker", corrupt(len(good)-1, 0x00), FormatBadMarker},
		{"bad sequence bit", corrupt(1, 0x02), FormatBadSequence},
		{"bad kind", corrupt(2, 0x7F), FormatBadKind},
		{"length over bound", corrupt(4, 0xFF), FormatLengthMismatch},
		{"length off by one", corrupt(3, byte(len("payload")+1)), FormatLengthMismatch},
		{"corrupted payload", corrupt(frameHeaderSize+2, 'X'), FormatChecksumMismatch},
		{"corrupted checksum", corrupt(len(good)-2, 0x00), FormatChecksumMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.wire)
			if err == nil {
				t.Fatal("Decode accepted a malformed frame")
			}
			fe, ok := err.(*FormatError)
			if !ok {
				t.Fatalf("error type = %T, want *FormatError", err)
			}
			if fe.Reason != tt.reason {
				t.Errorf("reason = %v, want %v", fe.Reason, tt.reason)
			}
		})
	}
}

func TestFrameDecodeCopiesPayload(t *testing.T) {
	codec := NewCodec(64)
	wire := codec.Encode(Frame{Seq: 0, Kind: KindData, Payload: []byte("immutable")})

	frame, err := codec.Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	wire[frameHeaderSize] = 'X'
	if frame.Payload[0] != 'i' {
		t.Error("decoded payload aliases the wire buffer")
	}
}

func TestFrameEncodeOversizePanics(t *testing.T) {
	codec := NewCodec(8)
	defer func() {
		if recover() == nil {
			t.Error("Encode accepted a payload over the bound")
		}
	}()
	codec.Encode(Frame{Seq: 0, Kind: KindData, Payload: make([]byte, 9)})
}
