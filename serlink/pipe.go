package serlink

import (
	"io"
	"time"
)

// PipeTransport adapts a plain reader/writer pair - SSH session stdio, a
// pseudo-terminal, stdin/stdout - into a Transport. Plain pipes have no
// native read deadlines, so a pump goroutine performs the blocking reads
// and Read selects on its channel against the configured timeout.
type PipeTransport struct {
	w       io.Writer
	chunks  chan pipeChunk
	pending []byte
	timeout time.Duration
	err     error
}

type pipeChunk struct {
	data []byte
	err  error
}

// NewPipeTransport starts the read pump and returns the transport. The
// reader is owned by the pump from now on; do not read from it elsewhere.
func NewPipeTransport(r io.Reader, w io.Writer) *PipeTransport {
	t := &PipeTransport{
		w:       w,
		chunks:  make(chan pipeChunk, 8),
		timeout: 3 * time.Second,
	}
	go t.pump(r)
	return t
}

func (t *PipeTransport) pump(r io.Reader) {
	for {
		buf := make([]byte, 4096)
		n, err := r.Read(buf)
		if n > 0 {
			t.chunks <- pipeChunk{data: buf[:n]}
		}
		if err != nil {
			t.chunks <- pipeChunk{err: err}
			return
		}
	}
}

// SetReadTimeout sets the window for subsequent Reads.
func (t *PipeTransport) SetReadTimeout(d time.Duration) error {
	t.timeout = d
	return nil
}

// Read returns buffered bytes if any, otherwise waits up to the configured
// timeout for the pump. Expiry returns (0, nil), the Transport timeout
// signal.
func (t *PipeTransport) Read(p []byte) (int, error) {
	if len(t.pending) > 0 {
		n := copy(p, t.pending)
		t.pending = t.pending[n:]
		return n, nil
	}
	if t.err != nil {
		return 0, t.err
	}

	var chunk pipeChunk
	if t.timeout > 0 {
		select {
		case chunk = <-t.chunks:
		case <-time.After(t.timeout):
			return 0, nil
		}
	} else {
		chunk = <-t.chunks
	}

	if chunk.err != nil {
		t.err = chunk.err
		return 0, chunk.err
	}
	n := copy(p, chunk.data)
	t.pending = chunk.data[n:]
	return n, nil
}

func (t *PipeTransport) Write(p []byte) (int, error) {
	return t.w.Write(p)
}

// Close closes the writer when it supports closing. The pump exits on its
// own once the reader fails or reaches EOF.
func (t *PipeTransport) Close() error {
	if c, ok := t.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
