package serlink

import (
	"context"
	"fmt"
	"time"
)

// LinkConfig holds the link engine's tunables. Timeouts and the retry bound
// are policy, not mechanism: the engine never hard-codes them.
type LinkConfig struct {
	// MaxPayload bounds DATA frame payloads.
	MaxPayload int

	// AckTimeout is the per-read window while awaiting an acknowledgement.
	// Every retransmission gets a fresh window.
	AckTimeout time.Duration

	// IdleTimeout is the receiver's per-frame wait. It is longer than
	// AckTimeout because the sender may be between blocks; expiry is fatal,
	// the sender is presumed gone.
	IdleTimeout time.Duration

	// MaxRetries is the total number of transmission attempts per block.
	MaxRetries int

	Context context.Context
	Logger  Logger
}

// DefaultLinkConfig returns the default link policy.
func DefaultLinkConfig() *LinkConfig {
	return &LinkConfig{
		MaxPayload:  DefaultMaxPayload,
		AckTimeout:  3 * time.Second,
		IdleTimeout: 30 * time.Second,
		MaxRetries:  5,
	}
}

// Link is the stop-and-wait ARQ engine. It owns the alternating sequence
// bits for both roles and the retry policy. Exactly one goroutine drives a
// Link; the session state is never shared.
type Link struct {
	io    *linkIO
	codec *Codec

	ackTimeout  time.Duration
	idleTimeout time.Duration
	maxRetries  int

	// sendSeq is the bit the next outgoing DATA frame carries; recvSeq is
	// the bit the next accepted DATA frame must carry. Both start at 0 and
	// flip on every acknowledged/accepted block.
	sendSeq byte
	recvSeq byte

	ctx    context.Context
	logger Logger
}

// NewLink creates a link engine over transport. A nil config selects
// DefaultLinkConfig.
func NewLink(transport Transport, config *LinkConfig) *Link {
	if config == nil {
		config = DefaultLinkConfig()
	}
	def := DefaultLinkConfig()
	if config.MaxPayload <= 0 {
		config.MaxPayload = def.MaxPayload
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = def.AckTimeout
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.Context == nil {
		config.Context = context.Background()
	}
	if config.Logger == nil {
		config.Logger = NoopLogger{}
	}

	codec := NewCodec(config.MaxPayload)
	return &Link{
		io:          newLinkIO(transport, codec.MaxFrameSize()),
		codec:       codec,
		ackTimeout:  config.AckTimeout,
		idleTimeout: config.IdleTimeout,
		maxRetries:  config.MaxRetries,
		ctx:         config.Context,
		logger:      config.Logger,
	}
}

func (l *Link) cancelled() bool {
	select {
	case <-l.ctx.Done():
		return true
	default:
		return false
	}
}

// SendBlock transmits one payload block and blocks until it is acknowledged
// or the retry bound is exhausted. A zero-length payload is a legitimate
// block. On success the sequence bit has flipped and the next block may be
// sent; on any error the bit is unchanged, so an aborted session resumes
// cleanly.
func (l *Link) SendBlock(payload []byte) error {
	if len(payload) > l.codec.MaxPayload() {
		return NewError(ErrProtocol, fmt.Sprintf("block of %d bytes exceeds payload bound %d", len(payload), l.codec.MaxPayload()))
	}

	frame := l.codec.Encode(Frame{Seq: l.sendSeq, Kind: KindData, Payload: payload})

	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		if l.cancelled() {
			return NewError(ErrCancelled, "send cancelled")
		}

		l.logger.Debug("send DATA seq=%d len=%d attempt=%d/%d", l.sendSeq, len(payload), attempt, l.maxRetries)
		if err := l.io.write(frame); err != nil {
			return err
		}

		ok, err := l.awaitAck()
		if err != nil {
			return err
		}
		if ok {
			l.sendSeq ^= 1
			return nil
		}
	}

	l.logger.Error("DATA seq=%d unacknowledged after %d attempts, wire tail: % x",
		l.sendSeq, l.maxRetries, l.io.traceTail())
	return NewError(ErrRetryExceeded, fmt.Sprintf("no acknowledgement after %d attempts", l.maxRetries))
}

// awaitAck waits one AckTimeout window for the acknowledgement of the bit
// just sent. Returns (true, nil) on a matching ACK; (false, nil) when the
// attempt should be retried (timeout, malformed frame, NAK, or a stale ACK
// bit); a non-nil error only for fatal conditions.
func (l *Link) awaitAck() (bool, error) {
	f, err := l.readFrame(time.Now().Add(l.ackTimeout))
	if err != nil {
		if IsFormat(err) {
			l.logger.Debug("malformed response, retrying: %v", err)
			return false, nil
		}
		if IsTimeout(err) {
			l.logger.Debug("ack timeout for seq=%d", l.sendSeq)
			return false, nil
		}
		return false, err
	}

	switch f.Kind {
	case KindAck:
		if f.Seq == l.sendSeq {
			return true, nil
		}
		l.logger.Debug("stale ACK seq=%d, want %d", f.Seq, l.sendSeq)
		return false, nil
	case KindNak:
		l.logger.Debug("NAK received, retransmitting seq=%d", l.sendSeq)
		return false, nil
	default:
		l.logger.Debug("unexpected %s frame while awaiting ACK", f.Kind)
		return false, nil
	}
}

// SendEOT emits the end-of-transmission frame. EOT carries no payload and
// is not acknowledged; a lost EOT surfaces as the receiver's idle timeout,
// after which its artifact is still complete and the handshake of a retried
// session reports it as such.
func (l *Link) SendEOT() error {
	l.logger.Debug("send EOT")
	return l.io.write(l.codec.Encode(Frame{Seq: l.sendSeq, Kind: KindEOT}))
}

// ReceiveBlock waits for the next new DATA block or EOT and returns
// (blockLen, eot, err). deliver is invoked with the payload of a new block
// and must complete (including any durable write) before the ACK is sent;
// if deliver fails no ACK goes out, the frame stays unacknowledged and the
// returned error aborts the session with the artifact still block-aligned.
//
// Corrupt frames are answered with a NAK carrying the expected bit and do
// not terminate the wait. Duplicates of the previous block are re-ACKed
// under their own bit without re-delivery.
func (l *Link) ReceiveBlock(deliver func([]byte) error) (int, bool, error) {
	for {
		if l.cancelled() {
			return 0, false, NewError(ErrCancelled, "receive cancelled")
		}

		f, err := l.readFrame(time.Now().Add(l.idleTimeout))
		if err != nil {
			if IsFormat(err) {
				l.logger.Debug("corrupt frame, sending NAK: %v", err)
				if nerr := l.sendControl(KindNak, l.recvSeq); nerr != nil {
					return 0, false, nerr
				}
				continue
			}
			return 0, false, err
		}

		switch f.Kind {
		case KindEOT:
			l.logger.Debug("EOT received")
			return 0, true, nil

		case KindData:
			if f.Seq != l.recvSeq {
				// Duplicate: our previous ACK was lost. Re-ACK the old bit,
				// never re-deliver.
				l.logger.Debug("duplicate DATA seq=%d, re-sending ACK", f.Seq)
				if err := l.sendControl(KindAck, f.Seq); err != nil {
					return 0, false, err
				}
				continue
			}

			if err := deliver(f.Payload); err != nil {
				return 0, false, err
			}
			if err := l.sendControl(KindAck, l.recvSeq); err != nil {
				return 0, false, err
			}
			l.logger.Debug("accepted DATA seq=%d len=%d", l.recvSeq, len(f.Payload))
			l.recvSeq ^= 1
			return len(f.Payload), false, nil

		default:
			// A stray control frame, likely our own reflection on a looped
			// line. Ignore and keep waiting.
			l.logger.Debug("ignoring stray %s frame", f.Kind)
			continue
		}
	}
}

func (l *Link) sendControl(kind FrameKind, seq byte) error {
	return l.io.write(l.codec.Encode(Frame{Seq: seq, Kind: kind}))
}

// maxGarbage bounds how many junk bytes a single frame read will scan past
// before giving up on resynchronization.
const maxGarbage = 4096

// readFrame scans to the next frame flag, reads one complete frame and
// decodes it. Malformed frames surface as FormatError with the stream
// position left at the junk that follows, so the next call resynchronizes
// on the next flag byte.
func (l *Link) readFrame(deadline time.Time) (Frame, error) {
	garbage := 0
	for {
		b, err := l.io.readByte(deadline)
		if err != nil {
			return Frame{}, err
		}
		if b == frameFlag {
			break
		}
		if garbage++; garbage > maxGarbage {
			return Frame{}, &FormatError{Reason: FormatBadMarker, Detail: "no frame flag found"}
		}
	}

	// A frame has begun; bound the rest of it by the ack window rather
	// than the outer deadline. A junk header declaring a length under the
	// payload bound must not hold the read on bytes that never arrive for
	// a whole idle window.
	frameDeadline := time.Now().Add(l.ackTimeout)
	if frameDeadline.After(deadline) {
		frameDeadline = deadline
	}

	// The flag just consumed may have been the trailing flag of the
	// previous frame; skip any run of flags to the real header.
	var hdr [frameHeaderSize - 1]byte
	for {
		b, err := l.io.readByte(frameDeadline)
		if err != nil {
			return Frame{}, asStalledFrame(err)
		}
		if b != frameFlag {
			hdr[0] = b
			break
		}
		if garbage++; garbage > maxGarbage {
			return Frame{}, &FormatError{Reason: FormatBadMarker, Detail: "flag run too long"}
		}
	}
	if err := l.io.readFull(hdr[1:], frameDeadline); err != nil {
		return Frame{}, asStalledFrame(err)
	}

	// Sanity-check the header before committing to a payload-sized read:
	// a corrupt length must not stall the window on bytes that will never
	// arrive.
	seq, kind := hdr[0], FrameKind(hdr[1])
	payloadLen := int(hdr[2]) | int(hdr[3])<<8
	if seq > 1 {
		return Frame{}, &FormatError{Reason: FormatBadSequence, Detail: fmt.Sprintf("sequence byte 0x%02x", seq)}
	}
	switch kind {
	case KindData, KindAck, KindNak, KindEOT:
	default:
		return Frame{}, &FormatError{Reason: FormatBadKind, Detail: fmt.Sprintf("kind byte 0x%02x", hdr[1])}
	}
	if payloadLen > l.codec.MaxPayload() {
		return Frame{}, &FormatError{Reason: FormatLengthMismatch, Detail: fmt.Sprintf("declared %d exceeds bound %d", payloadLen, l.codec.MaxPayload())}
	}

	buf := make([]byte, frameOverhead+payloadLen)
	buf[0] = frameFlag
	copy(buf[1:frameHeaderSize], hdr[:])
	if err := l.io.readFull(buf[frameHeaderSize:], frameDeadline); err != nil {
		return Frame{}, asStalledFrame(err)
	}

	return l.codec.Decode(buf)
}

// asStalledFrame reclassifies a timeout inside a started frame as a
// truncation. The line went quiet mid-frame, which is a single-frame
// condition to NAK and rescan, not peer silence.
func asStalledFrame(err error) error {
	if IsTimeout(err) {
		return &FormatError{Reason: FormatTruncated, Detail: "frame stalled mid-read"}
	}
	return err
}
