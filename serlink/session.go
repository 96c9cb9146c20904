package serlink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config holds session configuration.
type Config struct {
	// MaxPayload bounds DATA frame payloads. Must match on both peers.
	MaxPayload int

	// AckTimeout is the sender's per-read acknowledgement window.
	AckTimeout time.Duration

	// HandshakeTimeout bounds each resume-negotiation read. It is longer
	// than the data timeouts because the handshake may wait on a human
	// starting the peer process.
	HandshakeTimeout time.Duration

	// IdleTimeout is the receiver's per-frame wait during the block loop.
	IdleTimeout time.Duration

	// MaxRetries is the total number of transmission attempts per block.
	MaxRetries int

	// ProgressInterval rate-limits OnProgress callbacks.
	ProgressInterval time.Duration
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxPayload:       DefaultMaxPayload,
		AckTimeout:       3 * time.Second,
		HandshakeTimeout: 30 * time.Second,
		IdleTimeout:      30 * time.Second,
		MaxRetries:       5,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Session drives one transfer role over a Transport. A Session is not safe
// for concurrent use; exactly one goroutine owns it.
type Session struct {
	transport Transport
	config    *Config
	callbacks *Callbacks
	logger    Logger
	ctx       context.Context
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the session configuration.
func WithConfig(config *Config) Option {
	return func(s *Session) {
		s.config = config
	}
}

// WithCallbacks sets the session callbacks.
func WithCallbacks(callbacks *Callbacks) Option {
	return func(s *Session) {
		s.callbacks = mergeCallbacks(callbacks)
	}
}

// WithContext sets the session context. Cancellation aborts the block loop
// between frames, leaving the receiver's artifact block-aligned.
func WithContext(ctx context.Context) Option {
	return func(s *Session) {
		s.ctx = ctx
	}
}

// WithLogger sets a logger for protocol debugging.
func WithLogger(logger Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession creates a session over transport.
func NewSession(transport Transport, opts ...Option) *Session {
	s := &Session{
		transport: transport,
		config:    DefaultConfig(),
		callbacks: defaultCallbacks(),
		logger:    NoopLogger{},
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) newLink() *Link {
	return NewLink(s.transport, &LinkConfig{
		MaxPayload:  s.config.MaxPayload,
		AckTimeout:  s.config.AckTimeout,
		IdleTimeout: s.config.IdleTimeout,
		MaxRetries:  s.config.MaxRetries,
		Context:     s.ctx,
		Logger:      s.logger,
	})
}

// attachOffset stamps the transfer progress onto a fatal protocol error so
// callers learn the resumable position.
func attachOffset(err error, offset int64) error {
	if e, ok := err.(*Error); ok && e.Offset < 0 {
		e.Offset = offset
	}
	return err
}

// Send transfers size bytes from src under the given name. It negotiates a
// resume offset with the receiver, seeks src accordingly and drives the
// block loop. The returned count is the absolute offset reached, i.e. the
// negotiated start plus everything acknowledged in this session; on success
// it equals size.
//
// When the receiver already holds the complete artifact, Send returns
// (size, nil) without transferring anything.
func (s *Session) Send(name string, src io.ReadSeeker, size int64) (int64, error) {
	link := s.newLink()

	s.logger.Info("send %q (%d bytes): requesting status", name, size)
	if err := link.io.write([]byte(formatStatus(name))); err != nil {
		return 0, asHandshakeError(err, "send status request")
	}

	line, err := link.io.readLine(time.Now().Add(s.config.HandshakeTimeout))
	if err != nil {
		return 0, asHandshakeError(err, "await resume reply")
	}
	offset, err := parseResumeReply(line)
	if err != nil {
		return 0, err
	}

	if offset >= size {
		// Nothing left to send. Tell the receiver so instead of START.
		s.logger.Info("send %q: receiver already holds %d bytes, done", name, offset)
		if err := link.io.write([]byte(formatEnd())); err != nil {
			return 0, asHandshakeError(err, "send end")
		}
		s.callbacks.OnTransferComplete(name, 0, 0)
		return size, nil
	}

	if offset > 0 {
		if _, err := src.Seek(offset, io.SeekStart); err != nil {
			return 0, NewError(ErrHandshake, fmt.Sprintf("seek to resume offset %d: %v", offset, err))
		}
		s.logger.Info("send %q: resuming at byte %d", name, offset)
		s.callbacks.OnResume(name, offset)
	}

	if err := link.io.write([]byte(formatStart(name, size))); err != nil {
		return 0, asHandshakeError(err, "send start")
	}
	link.io.purge()

	s.callbacks.OnTransferStart(name, size, offset)
	tracker := NewProgressTracker(s.callbacks.OnProgress, s.config.ProgressInterval)
	tracker.Start(name, offset, size)

	transferred := offset
	buf := make([]byte, s.config.MaxPayload)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if err := link.SendBlock(buf[:n]); err != nil {
				s.callbacks.OnError(err, "send block")
				return transferred, attachOffset(err, transferred)
			}
			transferred += int64(n)
			tracker.Update(transferred)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return transferred, NewOffsetError(ErrProtocol, "read source: "+rerr.Error(), transferred)
		}
	}

	if err := link.SendEOT(); err != nil {
		return transferred, attachOffset(err, transferred)
	}
	if err := link.io.write([]byte(formatEnd())); err != nil {
		return transferred, attachOffset(err, transferred)
	}

	duration := tracker.Complete()
	s.logger.Info("send %q: complete, %d bytes in %v", name, transferred-offset, duration)
	s.callbacks.OnTransferComplete(name, transferred-offset, duration)
	return transferred, nil
}

// SendFile opens path and sends it under its base name.
func (s *Session) SendFile(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return s.Send(filepath.Base(path), f, info.Size())
}

// Receive waits for a sender, negotiates the resume offset from the local
// partial artifact and writes incoming blocks into dir. Every block is
// synced to disk before it is acknowledged, so on any failure or interrupt
// the artifact length is an exact resume offset.
//
// Returns the output path and the number of bytes written by this session
// (0 when the artifact was already complete).
func (s *Session) Receive(dir string) (string, int64, error) {
	link := s.newLink()

	s.logger.Info("receive: awaiting status request")
	line, err := link.io.readLine(time.Now().Add(s.config.HandshakeTimeout))
	if err != nil {
		return "", 0, asHandshakeError(err, "await status request")
	}
	name, err := parseStatus(line)
	if err != nil {
		return "", 0, err
	}

	accept, err := s.callbacks.OnFilePrompt(name)
	if err != nil {
		return "", 0, err
	}
	if !accept {
		// No reply: the sender's handshake timeout carries the refusal.
		return "", 0, NewError(ErrCancelled, "transfer rejected: "+name)
	}

	path := s.callbacks.ResolvePath(dir, name)
	offset := int64(0)
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		offset = info.Size()
	}

	if offset > 0 {
		s.logger.Info("receive %q: partial artifact of %d bytes, requesting resume", name, offset)
		err = link.io.write([]byte(formatAckPos(offset)))
	} else {
		s.logger.Info("receive %q: no partial artifact, starting fresh", name)
		err = link.io.write([]byte(formatStartNew()))
	}
	if err != nil {
		return path, 0, asHandshakeError(err, "send resume reply")
	}

	line, err = link.io.readLine(time.Now().Add(s.config.HandshakeTimeout))
	if err != nil {
		return path, 0, asHandshakeError(err, "await start")
	}
	startName, size, done, err := parseStart(line)
	if err != nil {
		return path, 0, err
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return path, 0, err
	}
	defer out.Close()

	if done {
		// Sender had nothing left: the artifact is already complete.
		s.logger.Info("receive %q: already complete at %d bytes", name, offset)
		s.callbacks.OnTransferComplete(name, 0, 0)
		return path, 0, nil
	}
	if startName != name {
		s.logger.Error("receive: start announces %q, status announced %q", startName, name)
	}
	if offset > 0 {
		s.callbacks.OnResume(name, offset)
	}

	s.callbacks.OnTransferStart(name, size, offset)
	tracker := NewProgressTracker(s.callbacks.OnProgress, s.config.ProgressInterval)
	tracker.Start(name, offset, size)

	received := offset
	for {
		n, eot, err := link.ReceiveBlock(func(payload []byte) error {
			if len(payload) == 0 {
				return nil
			}
			if _, werr := out.Write(payload); werr != nil {
				return werr
			}
			// The sync must land before the ACK leaves: the on-disk length
			// is the checkpoint the next handshake negotiates from.
			return out.Sync()
		})
		if err != nil {
			s.logger.Error("receive %q: aborted at %d bytes, wire tail: % x", name, received, link.io.traceTail())
			s.callbacks.OnError(err, "receive block")
			return path, received - offset, attachOffset(err, received)
		}
		if eot {
			break
		}
		received += int64(n)
		tracker.Update(received)
	}

	if size > 0 && received != size {
		s.logger.Error("receive %q: sender announced %d bytes, artifact has %d", name, size, received)
	}

	// The END trailer after EOT is informational; tolerate its absence.
	if trailer, err := link.io.readLine(time.Now().Add(s.config.AckTimeout)); err == nil && trailer != endMsg {
		s.logger.Debug("receive %q: unexpected trailer %q", name, trailer)
	}

	duration := tracker.Complete()
	s.logger.Info("receive %q: complete, %d bytes in %v", name, received-offset, duration)
	s.callbacks.OnTransferComplete(name, received-offset, duration)
	return path, received - offset, nil
}
