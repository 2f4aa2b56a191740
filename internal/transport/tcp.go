package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/torua-dsm/internal/dsmerr"
)

// frameKind distinguishes a data frame (carrying a Message) from an ack
// frame (carrying only the sequence number being acknowledged). Both travel
// over the same persistent connection so a node never needs a second
// listening socket for the reverse direction.
type frameKind uint8

const (
	frameData frameKind = iota
	frameAck
)

// frameHeaderSize is [kind:1][seq:8][bodyLen:4].
const frameHeaderSize = 1 + 8 + 4

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 200 * time.Millisecond
	defaultMaxDelay   = 2 * time.Second
	defaultAckTimeout = 3 * time.Second
)

// TCPTransport is the concrete Transport implementation used by cmd/manager
// and cmd/node. It keeps one persistent TCP connection per destination
// address, serializing writes on it so messages for a given (source,
// destination) pair arrive in send order, and retransmits an unacked
// message with capped exponential backoff before surfacing a
// dsmerr.KindTransport error — the bounded-retry-with-fatal-fallthrough
// policy spec.md's §9 Open Questions calls for.
type TCPTransport struct {
	self NodeID

	mu       sync.Mutex
	outConns map[string]*outConn // dst addr -> connection
	closed   bool

	listener net.Listener

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	AckTimeout time.Duration
}

// NewTCPTransport constructs a transport that identifies itself as self in
// the handshake it sends on every outbound connection.
func NewTCPTransport(self NodeID) *TCPTransport {
	return &TCPTransport{
		self:       self,
		outConns:   make(map[string]*outConn),
		MaxRetries: defaultMaxRetries,
		BaseDelay:  defaultBaseDelay,
		MaxDelay:   defaultMaxDelay,
		AckTimeout: defaultAckTimeout,
	}
}

// outConn is the sending side of one persistent (source, destination) link.
type outConn struct {
	conn    net.Conn
	writeMu sync.Mutex

	nextSeq uint64 // monotonically increasing; a redial starts a new outConn at zero

	pendingMu sync.Mutex
	pending   map[uint64]chan error
}

func (t *TCPTransport) dial(addr string) (*outConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, dsmerr.New(dsmerr.KindShutdown, "transport is closed")
	}
	if oc, ok := t.outConns[addr]; ok {
		return oc, nil
	}

	conn, err := net.DialTimeout("tcp", addr, t.AckTimeout)
	if err != nil {
		return nil, err
	}

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(t.self))
	if _, err := conn.Write(hdr[:]); err != nil {
		conn.Close()
		return nil, err
	}

	oc := &outConn{conn: conn, pending: make(map[uint64]chan error)}
	t.outConns[addr] = oc
	go t.readAcks(addr, oc)
	return oc, nil
}

// readAcks drains ack frames off an outbound connection and wakes the
// sender blocked in Send waiting for that sequence number.
func (t *TCPTransport) readAcks(addr string, oc *outConn) {
	r := bufio.NewReader(oc.conn)
	for {
		kind, seq, body, err := readFrame(r)
		if err != nil {
			t.failPending(oc, err)
			return
		}
		if kind != frameAck {
			// A well-behaved peer never writes a data frame back on a
			// connection we dialed; ignore defensively rather than crash
			// the reader loop.
			_ = body
			continue
		}
		oc.pendingMu.Lock()
		ch, ok := oc.pending[seq]
		if ok {
			delete(oc.pending, seq)
		}
		oc.pendingMu.Unlock()
		if ok {
			ch <- nil
		}
	}
}

func (t *TCPTransport) failPending(oc *outConn, err error) {
	oc.pendingMu.Lock()
	defer oc.pendingMu.Unlock()
	for seq, ch := range oc.pending {
		ch <- err
		delete(oc.pending, seq)
	}
}

// Send implements Transport.
func (t *TCPTransport) Send(ctx context.Context, addr string, msg Message) error {
	var lastErr error
	var seqConn *outConn
	var seq uint64
	delay := t.BaseDelay
	for attempt := 0; attempt <= t.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return dsmerr.Transport(ctx.Err(), "send canceled")
			}
			delay *= 2
			if delay > t.MaxDelay {
				delay = t.MaxDelay
			}
		}

		oc, err := t.dial(addr)
		if err != nil {
			lastErr = err
			continue
		}

		// A retransmission on the same connection reuses its sequence
		// number so serveInbound drops it as a duplicate; the number is
		// taken under writeMu so frames go out in sequence order.
		ch := make(chan error, 1)
		oc.writeMu.Lock()
		if oc != seqConn {
			seqConn, seq = oc, atomic.AddUint64(&oc.nextSeq, 1)
		}
		oc.pendingMu.Lock()
		oc.pending[seq] = ch
		oc.pendingMu.Unlock()
		err = writeFrameRaw(oc.conn, frameData, seq, msg.Encode())
		oc.writeMu.Unlock()
		if err != nil {
			lastErr = err
			t.dropConn(addr, oc)
			continue
		}

		select {
		case err := <-ch:
			if err == nil {
				return nil
			}
			lastErr = err
			t.dropConn(addr, oc)
		case <-time.After(t.AckTimeout):
			lastErr = fmt.Errorf("ack timeout after %v", t.AckTimeout)
		case <-ctx.Done():
			return dsmerr.Transport(ctx.Err(), "send canceled")
		}
	}
	return dsmerr.Transport(lastErr, "exhausted %d retries sending %s to %s", t.MaxRetries, msg.Type, addr)
}

func (t *TCPTransport) dropConn(addr string, oc *outConn) {
	t.mu.Lock()
	if t.outConns[addr] == oc {
		delete(t.outConns, addr)
	}
	t.mu.Unlock()
	oc.conn.Close()
}

// Listen implements Transport. Each accepted connection is handled by its
// own goroutine for the lifetime of the listener.
func (t *TCPTransport) Listen(ctx context.Context, addr string, handler Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return dsmerr.Transport(err, "listen on %s", addr)
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go t.serveInbound(conn, handler)
		}
	}()
	return nil
}

// serveInbound reads the one-time handshake identifying the peer, then
// loops reading data frames, dispatching each to handler exactly once
// (duplicates from retransmission are dropped after acking), and acking
// every frame whether or not it was a duplicate — the sender cannot tell
// the difference and must not retry forever.
func (t *TCPTransport) serveInbound(conn net.Conn, handler Handler) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return
	}
	from := NodeID(binary.LittleEndian.Uint32(hdr[:]))

	var highestSeq uint64
	var seenAny bool

	for {
		kind, seq, body, err := readFrame(r)
		if err != nil {
			return
		}
		if kind != frameData {
			continue
		}

		isDuplicate := seenAny && seq <= highestSeq
		if !isDuplicate {
			seenAny = true
			highestSeq = seq
			if msg, err := Decode(body); err == nil {
				handler(from, msg)
			}
		}

		if err := writeFrameRaw(conn, frameAck, seq, nil); err != nil {
			return
		}
	}
}

func writeFrame(oc *outConn, kind frameKind, seq uint64, body []byte) error {
	oc.writeMu.Lock()
	defer oc.writeMu.Unlock()
	return writeFrameRaw(oc.conn, kind, seq, body)
}

func writeFrameRaw(w io.Writer, kind frameKind, seq uint64, body []byte) error {
	hdr := make([]byte, frameHeaderSize)
	hdr[0] = byte(kind)
	binary.LittleEndian.PutUint64(hdr[1:9], seq)
	binary.LittleEndian.PutUint32(hdr[9:13], uint32(len(body)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

func readFrame(r *bufio.Reader) (frameKind, uint64, []byte, error) {
	hdr := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return 0, 0, nil, err
	}
	kind := frameKind(hdr[0])
	seq := binary.LittleEndian.Uint64(hdr[1:9])
	bodyLen := binary.LittleEndian.Uint32(hdr[9:13])
	var body []byte
	if bodyLen > 0 {
		body = make([]byte, bodyLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, 0, nil, err
		}
	}
	return kind, seq, body, nil
}

// Close implements Transport.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.listener != nil {
		t.listener.Close()
	}
	for _, oc := range t.outConns {
		oc.conn.Close()
	}
	t.outConns = make(map[string]*outConn)
	return nil
}
