package serlink

import (
	"io"
	"time"

	"github.com/armon/circbuf"
)

// Transport is the duplex byte channel the protocol runs over.
//
// Read must honor the timeout set by SetReadTimeout and return (0, nil)
// when it expires with nothing received; that is the timeout signal. A
// non-nil error from Read or Write is a fatal transport failure and aborts
// the session. go.bug.st/serial ports satisfy this interface natively.
type Transport interface {
	io.ReadWriter
	SetReadTimeout(time.Duration) error
}

// traceSize is how many received bytes the diagnostic ring retains.
const traceSize = 256

// linkIO wraps a Transport with a small read buffer, deadline-based reads
// and a trace ring of the most recent wire bytes. All protocol reads go
// through it; a single goroutine owns it per session.
type linkIO struct {
	transport Transport
	rbuf      []byte
	rpos      int
	rleft     int
	trace     *circbuf.Buffer
}

func newLinkIO(transport Transport, bufSize int) *linkIO {
	if bufSize < 64 {
		bufSize = 64
	}
	trace, _ := circbuf.NewBuffer(traceSize)
	return &linkIO{
		transport: transport,
		rbuf:      make([]byte, bufSize),
		trace:     trace,
	}
}

// readByte returns one buffered byte, refilling from the transport when the
// buffer is empty. The deadline bounds the whole refill; expiry yields
// ErrTimeout, any transport failure yields ErrTransport.
func (z *linkIO) readByte(deadline time.Time) (byte, error) {
	if z.rleft > 0 {
		b := z.rbuf[z.rpos]
		z.rpos++
		z.rleft--
		return b, nil
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0, NewError(ErrTimeout, "read deadline expired")
	}
	if err := z.transport.SetReadTimeout(remaining); err != nil {
		return 0, NewError(ErrTransport, "set read timeout: "+err.Error())
	}

	n, err := z.transport.Read(z.rbuf)
	if err != nil {
		if err == io.EOF {
			return 0, NewError(ErrTransport, "transport closed")
		}
		return 0, NewError(ErrTransport, "read: "+err.Error())
	}
	if n == 0 {
		return 0, NewError(ErrTimeout, "read deadline expired")
	}

	z.trace.Write(z.rbuf[:n])
	z.rpos = 1
	z.rleft = n - 1
	return z.rbuf[0], nil
}

// readFull fills buf completely or fails with the first timeout/transport
// error. Partial frames are never surfaced to the codec.
func (z *linkIO) readFull(buf []byte, deadline time.Time) error {
	for i := range buf {
		b, err := z.readByte(deadline)
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// readLine reads a newline-terminated handshake message, bounded by
// maxLineLen. The returned string excludes the terminator. Carriage returns
// before the newline are stripped for peers with cooked line output.
func (z *linkIO) readLine(deadline time.Time) (string, error) {
	line := make([]byte, 0, 64)
	for {
		b, err := z.readByte(deadline)
		if err != nil {
			return "", err
		}
		if b == '\n' {
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			return string(line), nil
		}
		line = append(line, b)
		if len(line) > maxLineLen {
			return "", NewError(ErrProtocol, "handshake line too long")
		}
	}
}

// purge drops any buffered input. Used between the handshake and the block
// loop to discard stale line noise.
func (z *linkIO) purge() {
	z.rpos = 0
	z.rleft = 0
}

// write sends buf in full. Short writes and errors are both fatal.
func (z *linkIO) write(buf []byte) error {
	n, err := z.transport.Write(buf)
	if err != nil {
		return NewError(ErrTransport, "write: "+err.Error())
	}
	if n != len(buf) {
		return NewError(ErrTransport, "short write")
	}
	return nil
}

// traceTail returns the most recently received wire bytes, oldest first.
// Logged on aborts to diagnose line noise.
func (z *linkIO) traceTail() []byte {
	return z.trace.Bytes()
}
