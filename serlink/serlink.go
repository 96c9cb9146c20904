// Package serlink implements a reliable byte-stream file transfer protocol
// for unreliable, ordered, byte-oriented transports such as serial lines.
//
// The protocol is a classic stop-and-wait ARQ: exactly one DATA frame is
// outstanding at a time, acknowledged with an alternating sequence bit,
// retransmitted on timeout or NAK, and bounded by a retry limit. Frames are
// integrity-checked with CRC-32/IEEE-802.3 so that peers implemented in
// other languages interoperate.
//
// On top of the link layer, a line-oriented resume handshake lets an
// interrupted transfer continue from the last durably written byte of the
// receiver's partial output file instead of restarting. The partial file
// itself is the checkpoint: the receiver syncs every accepted block to disk
// before acknowledging it, so its on-disk length is always a valid resume
// offset.
//
// The package is transport-agnostic. Anything satisfying Transport works;
// ready-made adapters exist for serial ports (OpenSerial), SSH sessions
// (NewSSHTransport) and plain reader/writer pairs (NewPipeTransport).
package serlink

// FrameKind identifies the role of a frame on the wire.
type FrameKind byte

const (
	// KindData carries a payload block.
	KindData FrameKind = 0x01

	// KindAck acknowledges the DATA frame whose sequence bit it echoes.
	KindAck FrameKind = 0x02

	// KindNak reports a corrupt frame and requests retransmission.
	KindNak FrameKind = 0x03

	// KindEOT terminates the data-block loop. It carries no payload and is
	// not acknowledged.
	KindEOT FrameKind = 0x04
)

func (k FrameKind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindAck:
		return "ACK"
	case KindNak:
		return "NAK"
	case KindEOT:
		return "EOT"
	default:
		return "UNKNOWN"
	}
}

// Wire layout constants. Both peers must agree on these; they are fixed.
//
//	[frameFlag][seq:1][kind:1][len:2 LE][payload][crc:4 LE][frameFlag]
//
// The CRC covers seq, kind, the little-endian length and the payload, in
// that order. The flag bytes exist only for resynchronization after line
// noise; payload bytes are never escaped because every field is
// length-prefixed.
const (
	// frameFlag marks the first and last byte of every frame.
	frameFlag = 0x7E

	// frameHeaderSize is flag + seq + kind + len.
	frameHeaderSize = 5

	// frameTrailerSize is crc + flag.
	frameTrailerSize = 5

	// frameOverhead is the encoded size of a frame with an empty payload.
	frameOverhead = frameHeaderSize + frameTrailerSize
)

// DefaultMaxPayload is the default payload bound for DATA frames.
const DefaultMaxPayload = 1024

// maxLineLen bounds a single handshake line on the wire.
const maxLineLen = 512
