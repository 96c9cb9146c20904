package serlink

import (
	"bytes"
	"context"
	"testing"
	"time"
)

// scriptTransport serves scripted reads and records every write. An
// exhausted script reads as a timeout, the way a silent line does.
type scriptTransport struct {
	reads   [][]byte
	pending []byte
	writes  [][]byte
	timeout time.Duration
}

func (t *scriptTransport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		if len(t.reads) == 0 {
			return 0, nil
		}
		t.pending = t.reads[0]
		t.reads = t.reads[1:]
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *scriptTransport) Write(p []byte) (int, error) {
	t.writes = append(t.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (t *scriptTransport) SetReadTimeout(d time.Duration) error {
	t.timeout = d
	return nil
}

// memTransport is one end of an in-memory duplex line. Reads honor the
// configured timeout and report expiry as (0, nil), like a serial port.
// onWrite, when set, may drop an outgoing buffer by returning false.
type memTransport struct {
	in      <-chan []byte
	out     chan<- []byte
	pending []byte
	timeout time.Duration
	onWrite func([]byte) bool
}

func newMemPair() (*memTransport, *memTransport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	a := &memTransport{in: ba, out: ab, timeout: time.Second}
	b := &memTransport{in: ab, out: ba, timeout: time.Second}
	return a, b
}

func (t *memTransport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		select {
		case chunk := <-t.in:
			t.pending = chunk
		case <-time.After(t.timeout):
			return 0, nil
		}
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *memTransport) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	if t.onWrite != nil && !t.onWrite(cp) {
		return len(p), nil
	}
	t.out <- cp
	return len(p), nil
}

func (t *memTransport) SetReadTimeout(d time.Duration) error {
	t.timeout = d
	return nil
}

func testLinkConfig() *LinkConfig {
	return &LinkConfig{
		MaxPayload:  64,
		AckTimeout:  100 * time.Millisecond,
		IdleTimeout: 2 * time.Second,
		MaxRetries:  5,
	}
}

func receiveAll(t *testing.T, link *Link) [][]byte {
	t.Helper()
	var blocks [][]byte
	for {
		var payload []byte
		_, eot, err := link.ReceiveBlock(func(p []byte) error {
			payload = append([]byte(nil), p...)
			return nil
		})
		if err != nil {
			t.Errorf("ReceiveBlock failed: %v", err)
			return blocks
		}
		if eot {
			return blocks
		}
		blocks = append(blocks, payload)
	}
}

func TestLinkTransfer(t *testing.T) {
	at, bt := newMemPair()
	sender := NewLink(at, testLinkConfig())
	receiver := NewLink(bt, testLinkConfig())

	blocks := [][]byte{
		[]byte("first block"),
		[]byte("second block"),
		{},
		bytes.Repeat([]byte{0x7E}, 64),
	}

	errc := make(chan error, 1)
	go func() {
		for _, b := range blocks {
			if err := sender.SendBlock(b); err != nil {
				errc <- err
				return
			}
		}
		errc <- sender.SendEOT()
	}()

	got := receiveAll(t, receiver)
	if err := <-errc; err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if len(got) != len(blocks) {
		t.Fatalf("received %d blocks, want %d", len(got), len(blocks))
	}
	for i := range blocks {
		if !bytes.Equal(got[i], blocks[i]) {
			t.Errorf("block %d mismatch", i)
		}
	}
}

func TestLinkRetransmitOnLostAck(t *testing.T) {
	at, bt := newMemPair()

	// Drop the receiver's first acknowledgement. The sender must time out,
	// retransmit, and the duplicate must be re-ACKed without re-delivery.
	dropped := false
	bt.onWrite = func(p []byte) bool {
		if !dropped && len(p) >= 3 && FrameKind(p[2]) == KindAck {
			dropped = true
			return false
		}
		return true
	}

	sender := NewLink(at, testLinkConfig())
	receiver := NewLink(bt, testLinkConfig())

	blocks := [][]byte{[]byte("alpha"), []byte("bravo")}

	errc := make(chan error, 1)
	go func() {
		for _, b := range blocks {
			if err := sender.SendBlock(b); err != nil {
				errc <- err
				return
			}
		}
		errc <- sender.SendEOT()
	}()

	got := receiveAll(t, receiver)
	if err := <-errc; err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !dropped {
		t.Fatal("the test never dropped an ACK")
	}
	if len(got) != 2 || !bytes.Equal(got[0], blocks[0]) || !bytes.Equal(got[1], blocks[1]) {
		t.Fatalf("blocks delivered %q, want %q", got, blocks)
	}
}

func TestLinkDuplicateDataReAcked(t *testing.T) {
	codec := NewCodec(64)
	script := &scriptTransport{reads: [][]byte{
		codec.Encode(Frame{Seq: 0, Kind: KindData, Payload: []byte("one")}),
		codec.Encode(Frame{Seq: 0, Kind: KindData, Payload: []byte("one")}),
		codec.Encode(Frame{Seq: 1, Kind: KindData, Payload: []byte("two")}),
		codec.Encode(Frame{Seq: 0, Kind: KindEOT}),
	}}
	link := NewLink(script, testLinkConfig())

	got := receiveAll(t, link)
	if len(got) != 2 || string(got[0]) != "one" || string(got[1]) != "two" {
		t.Fatalf("delivered %q, want [one two]", got)
	}

	// Three acknowledgements went out: ACK 0, the duplicate's re-ACK 0,
	// then ACK 1.
	wantAcks := []byte{0, 0, 1}
	if len(script.writes) != len(wantAcks) {
		t.Fatalf("%d frames written, want %d", len(script.writes), len(wantAcks))
	}
	for i, w := range script.writes {
		f, err := codec.Decode(w)
		if err != nil {
			t.Fatalf("write %d is not a frame: %v", i, err)
		}
		if f.Kind != KindAck || f.Seq != wantAcks[i] {
			t.Errorf("write %d = %s seq=%d, want ACK seq=%d", i, f.Kind, f.Seq, wantAcks[i])
		}
	}
}

func TestLinkCorruptFrameNaked(t *testing.T) {
	codec := NewCodec(64)
	bad := codec.Encode(Frame{Seq: 0, Kind: KindData, Payload: []byte("garbled")})
	bad[frameHeaderSize] ^= 0xFF

	script := &scriptTransport{reads: [][]byte{
		bad,
		codec.Encode(Frame{Seq: 0, Kind: KindData, Payload: []byte("clean")}),
		codec.Encode(Frame{Seq: 0, Kind: KindEOT}),
	}}
	link := NewLink(script, testLinkConfig())

	got := receiveAll(t, link)
	if len(got) != 1 || string(got[0]) != "clean" {
		t.Fatalf("delivered %q, want [clean]", got)
	}

	if len(script.writes) != 2 {
		t.Fatalf("%d frames written, want NAK then ACK", len(script.writes))
	}
	nak, err := codec.Decode(script.writes[0])
	if err != nil || nak.Kind != KindNak || nak.Seq != 0 {
		t.Errorf("first write = %v (%v), want NAK seq=0", nak, err)
	}
	ack, err := codec.Decode(script.writes[1])
	if err != nil || ack.Kind != KindAck || ack.Seq != 0 {
		t.Errorf("second write = %v (%v), want ACK seq=0", ack, err)
	}
}

func TestLinkResyncOnLineNoise(t *testing.T) {
	codec := NewCodec(64)
	noise := []byte{0x00, 0x55, 0xAA, 0x13, 0x37}
	script := &scriptTransport{reads: [][]byte{
		noise,
		codec.Encode(Frame{Seq: 0, Kind: KindData, Payload: []byte("signal")}),
		codec.Encode(Frame{Seq: 0, Kind: KindEOT}),
	}}
	link := NewLink(script, testLinkConfig())

	got := receiveAll(t, link)
	if len(got) != 1 || string(got[0]) != "signal" {
		t.Fatalf("delivered %q, want [signal]", got)
	}
}

func TestLinkStalledHeaderNaked(t *testing.T) {
	// A junk header declaring a length under the payload bound commits the
	// read to payload bytes that never arrive. The stall must surface as a
	// frame defect within the ack window (NAK, rescan), not hang on as if
	// the line were merely idle.
	config := testLinkConfig()
	config.AckTimeout = 50 * time.Millisecond
	config.IdleTimeout = 300 * time.Millisecond

	script := &scriptTransport{reads: [][]byte{
		{frameFlag, 0x00, byte(KindData), 50, 0x00},
	}}
	link := NewLink(script, config)

	_, _, err := link.ReceiveBlock(func([]byte) error { return nil })
	if !IsTimeout(err) {
		t.Fatalf("error = %v, want timeout once the line stays silent", err)
	}

	if len(script.writes) != 1 {
		t.Fatalf("%d frames written, want one NAK for the stalled frame", len(script.writes))
	}
	nak, derr := NewCodec(64).Decode(script.writes[0])
	if derr != nil || nak.Kind != KindNak || nak.Seq != 0 {
		t.Errorf("write = %v (%v), want NAK seq=0", nak, derr)
	}
}

func TestLinkRetryExhausted(t *testing.T) {
	script := &scriptTransport{}
	config := testLinkConfig()
	config.AckTimeout = 10 * time.Millisecond
	config.MaxRetries = 3
	link := NewLink(script, config)

	err := link.SendBlock([]byte("into the void"))
	if !IsRetryExceeded(err) {
		t.Fatalf("error = %v, want retry bound exceeded", err)
	}
	if len(script.writes) != 3 {
		t.Errorf("%d transmissions, want exactly 3", len(script.writes))
	}
}

func TestLinkSendCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := testLinkConfig()
	config.Context = ctx
	link := NewLink(&scriptTransport{}, config)

	if err := link.SendBlock([]byte("never sent")); !IsCancelled(err) {
		t.Fatalf("error = %v, want cancelled", err)
	}
}

func TestLinkOversizeBlockRejected(t *testing.T) {
	link := NewLink(&scriptTransport{}, testLinkConfig())
	err := link.SendBlock(make([]byte, 65))
	if err == nil {
		t.Fatal("SendBlock accepted a block over the payload bound")
	}
}
