package serlink

import (
	"encoding/binary"
	"fmt"
)

// Frame is the unit exchanged over the transport.
type Frame struct {
	// Seq is the alternating sequence bit, 0 or 1. Control frames echo the
	// bit of the DATA frame they respond to.
	Seq byte

	// Kind is the frame role.
	Kind FrameKind

	// Payload is the data block. Empty for control frames. The codec copies
	// it on decode; it never aliases the wire buffer.
	Payload []byte
}

// FormatReason classifies why a byte sequence failed to decode.
type FormatReason int

const (
	// FormatTruncated - fewer bytes than the minimum frame.
	FormatTruncated FormatReason = iota

	// FormatBadMarker - a flag byte is missing where one belongs.
	FormatBadMarker

	// FormatLengthMismatch - declared payload length does not match the
	// bytes actually present, or exceeds the payload bound.
	FormatLengthMismatch

	// FormatBadKind - the kind byte is not a known frame kind.
	FormatBadKind

	// FormatBadSequence - the sequence byte is neither 0 nor 1.
	FormatBadSequence

	// FormatChecksumMismatch - the recomputed CRC does not equal the
	// transmitted one.
	FormatChecksumMismatch
)

func (r FormatReason) String() string {
	switch r {
	case FormatTruncated:
		return "truncated"
	case FormatBadMarker:
		return "bad frame marker"
	case FormatLengthMismatch:
		return "length mismatch"
	case FormatBadKind:
		return "bad frame kind"
	case FormatBadSequence:
		return "bad sequence bit"
	case FormatChecksumMismatch:
		return "checksum mismatch"
	default:
		return "malformed"
	}
}

// FormatError reports a malformed frame. It is a single-frame condition:
// the link engine answers it with a NAK and a retransmission, it never
// aborts a session by itself.
type FormatError struct {
	Reason FormatReason
	Detail string
}

func (e *FormatError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("frame %s: %s", e.Reason, e.Detail)
	}
	return "frame " + e.Reason.String()
}

// IsFormat reports whether err is a codec-level frame error.
func IsFormat(err error) bool {
	_, ok := err.(*FormatError)
	return ok
}

// Codec encodes and decodes frames in the fixed wire layout. It owns the
// checksum engine and the payload bound; one codec serves a whole session.
type Codec struct {
	crc        *CRC32
	maxPayload int
}

// NewCodec creates a codec bounded to maxPayload-byte payloads. A
// non-positive bound selects DefaultMaxPayload.
func NewCodec(maxPayload int) *Codec {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Codec{
		crc:        NewCRC32(),
		maxPayload: maxPayload,
	}
}

// MaxPayload returns the payload bound.
func (c *Codec) MaxPayload() int {
	return c.maxPayload
}

// MaxFrameSize returns the encoded size of a full DATA frame.
func (c *Codec) MaxFrameSize() int {
	return frameOverhead + c.maxPayload
}

// Encode serializes f into a self-contained byte sequence. It panics if the
// payload exceeds the codec's bound; callers slice blocks to MaxPayload
// before building frames.
func (c *Codec) Encode(f Frame) []byte {
	if len(f.Payload) > c.maxPayload {
		panic(fmt.Sprintf("serlink: payload %d exceeds bound %d", len(f.Payload), c.maxPayload))
	}

	buf := make([]byte, frameOverhead+len(f.Payload))
	buf[0] = frameFlag
	buf[1] = f.Seq & 1
	buf[2] = byte(f.Kind)
	binary.LittleEndian.PutUint16(buf[3:5], uint16(len(f.Payload)))
	copy(buf[frameHeaderSize:], f.Payload)

	// CRC over seq, kind, len and payload as one contiguous record.
	sum := c.crc.Sum(buf[1 : frameHeaderSize+len(f.Payload)])
	binary.LittleEndian.PutUint32(buf[frameHeaderSize+len(f.Payload):], sum)
	buf[len(buf)-1] = frameFlag
	return buf
}

// Decode parses a complete encoded frame. The buffer must contain exactly
// one frame: any surplus or deficit is a FormatError. Decode validates shape
// and integrity only; an unexpected sequence bit on a well-formed frame is a
// link-engine concern and decodes successfully.
func (c *Codec) Decode(buf []byte) (Frame, error) {
	if len(buf) < frameOverhead {
		return Frame{}, &FormatError{
			Reason: FormatTruncated,
			Detail: fmt.Sprintf("%d bytes, need at least %d", len(buf), frameOverhead),
		}
	}
	if buf[0] != frameFlag || buf[len(buf)-1] != frameFlag {
		return Frame{}, &FormatError{Reason: FormatBadMarker}
	}

	seq := buf[1]
	if seq != 0 && seq != 1 {
		return Frame{}, &FormatError{
			Reason: FormatBadSequence,
			Detail: fmt.Sprintf("sequence byte 0x%02x", seq),
		}
	}

	kind := FrameKind(buf[2])
	switch kind {
	case KindData, KindAck, KindNak, KindEOT:
	default:
		return Frame{}, &FormatError{
			Reason: FormatBadKind,
			Detail: fmt.Sprintf("kind byte 0x%02x", buf[2]),
		}
	}

	payloadLen := int(binary.LittleEndian.Uint16(buf[3:5]))
	if payloadLen > c.maxPayload {
		return Frame{}, &FormatError{
			Reason: FormatLengthMismatch,
			Detail: fmt.Sprintf("declared %d exceeds bound %d", payloadLen, c.maxPayload),
		}
	}
	if len(buf) != frameOverhead+payloadLen {
		return Frame{}, &FormatError{
			Reason: FormatLengthMismatch,
			Detail: fmt.Sprintf("declared %d, have %d frame bytes", payloadLen, len(buf)),
		}
	}

	want := binary.LittleEndian.Uint32(buf[frameHeaderSize+payloadLen:])
	got := c.crc.Sum(buf[1 : frameHeaderSize+payloadLen])
	if got != want {
		return Frame{}, &FormatError{
			Reason: FormatChecksumMismatch,
			Detail: fmt.Sprintf("computed 0x%08x, transmitted 0x%08x", got, want),
		}
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[frameHeaderSize:frameHeaderSize+payloadLen])

	return Frame{Seq: seq, Kind: kind, Payload: payload}, nil
}
