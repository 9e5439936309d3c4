// Package udp adapts UDP datagrams to the tag-matching transport contract.
// Each datagram carries a small big-endian header {magic u32, flags u8, tag
// u64} ahead of the payload. Addresses serialize as the UTF-8 host:port
// text of the peer's socket.
//
// A background goroutine moves datagrams from the socket into a guarded
// inbox; matching and completion firing happen only inside Drive, so
// protocol logic above stays single-threaded as the model requires.
package udp

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/tagrpc/internal/transport"
)

const (
	magic     uint32 = 0x54475250 // "TGRP"
	headerLen        = 4 + 1 + 8

	// maxDatagram bounds one read from the socket; larger senders are
	// truncated by the kernel and dropped by the header check.
	maxDatagram = 64 * 1024

	// defaultMaxUnexpected bounds one unexpected message's payload.
	defaultMaxUnexpected = 8 * 1024
)

type packet struct {
	payload []byte
	tag     uint64
	sender  []byte
}

type postedRecv struct {
	buf      []byte
	tag      uint64
	mask     uint64
	op       *transport.RecvOp
	canceled bool
}

type postedUnexpected struct {
	buf []byte
	op  *transport.UnexpectedOp
}

// Transport is one UDP socket speaking the tagged-datagram framing.
type Transport struct {
	conn *net.UDPConn
	addr []byte
	log  zerolog.Logger

	mu           sync.Mutex
	inbox        []packet
	tagged       []*postedRecv
	unexpected   []*postedUnexpected
	unexpectedQ  []packet
	pendingSends []*transport.SendOp
	closed       bool

	done chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// New binds a UDP socket on listenAddr ("host:port", port 0 for ephemeral)
// and starts the reader.
func New(listenAddr string, log zerolog.Logger) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %q: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("udp: listen %q: %w", listenAddr, err)
	}
	t := &Transport{
		conn: conn,
		addr: []byte(conn.LocalAddr().String()),
		log:  log.With().Str("component", "udp").Str("local", conn.LocalAddr().String()).Logger(),
		done: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *Transport) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			t.log.Warn().Err(err).Msg("socket read failed")
			continue
		}
		if n < headerLen {
			t.log.Warn().Int("bytes", n).Msg("dropping short datagram")
			continue
		}
		if binary.BigEndian.Uint32(buf[0:4]) != magic {
			t.log.Warn().Msg("dropping datagram with bad magic")
			continue
		}
		tag := binary.BigEndian.Uint64(buf[5:13])
		payload := make([]byte, n-headerLen)
		copy(payload, buf[headerLen:n])

		t.mu.Lock()
		if !t.closed {
			t.inbox = append(t.inbox, packet{
				payload: payload,
				tag:     tag,
				sender:  []byte(src.String()),
			})
		}
		t.mu.Unlock()
	}
}

func (t *Transport) Address() []byte {
	out := make([]byte, len(t.addr))
	copy(out, t.addr)
	return out
}

func (t *Transport) MaxUnexpectedSize() int { return defaultMaxUnexpected }

func (t *Transport) Dial(addr []byte) (transport.Endpoint, error) {
	raddr, err := net.ResolveUDPAddr("udp", string(addr))
	if err != nil {
		return nil, fmt.Errorf("udp: resolve peer %q: %w", string(addr), err)
	}
	return &endpoint{local: t, remote: raddr}, nil
}

func (t *Transport) PostTaggedRecv(buf []byte, tag, mask uint64) (*transport.RecvOp, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	pr := &postedRecv{buf: buf, tag: tag, mask: mask}
	pr.op = transport.NewRecvOp(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if pr.canceled || pr.op.Done() {
			return
		}
		pr.canceled = true
		pr.op.Complete(transport.StatusCanceled, 0, 0, nil)
	})
	t.tagged = append(t.tagged, pr)
	return pr.op, nil
}

func (t *Transport) PostUnexpectedRecv(buf []byte) (*transport.UnexpectedOp, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	pu := &postedUnexpected{buf: buf, op: &transport.UnexpectedOp{}}
	t.unexpected = append(t.unexpected, pu)
	return pu.op, nil
}

func (t *Transport) Drive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	progress := false

	for _, op := range t.pendingSends {
		op.Complete(transport.StatusOK, nil)
		progress = true
	}
	t.pendingSends = t.pendingSends[:0]

	inbox := t.inbox
	t.inbox = nil
	for _, p := range inbox {
		if t.matchTagged(p) {
			progress = true
			continue
		}
		t.unexpectedQ = append(t.unexpectedQ, p)
	}

	for len(t.unexpectedQ) > 0 && len(t.unexpected) > 0 {
		p := t.unexpectedQ[0]
		t.unexpectedQ = t.unexpectedQ[1:]
		pu := t.unexpected[0]
		t.unexpected = t.unexpected[1:]

		n := copy(pu.buf, p.payload)
		status := transport.StatusOK
		if n < len(p.payload) {
			status = transport.StatusTruncated
		}
		pu.op.Complete(status, n, p.tag, p.sender, nil)
		progress = true
	}

	return progress
}

func (t *Transport) matchTagged(p packet) bool {
	for i, pr := range t.tagged {
		if pr.canceled || pr.op.Done() {
			continue
		}
		if p.tag&pr.mask != pr.tag&pr.mask {
			continue
		}
		n := copy(pr.buf, p.payload)
		status := transport.StatusOK
		if n < len(p.payload) {
			status = transport.StatusTruncated
		}
		pr.op.Complete(status, n, p.tag, nil)
		t.tagged = append(t.tagged[:i], t.tagged[i+1:]...)
		return true
	}
	return false
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for _, pr := range t.tagged {
		if !pr.op.Done() {
			pr.op.Complete(transport.StatusCanceled, 0, 0, nil)
		}
	}
	t.tagged = nil
	for _, pu := range t.unexpected {
		if !pu.op.Done() {
			pu.op.Complete(transport.StatusCanceled, 0, 0, nil, nil)
		}
	}
	t.unexpected = nil
	t.mu.Unlock()

	close(t.done)
	return t.conn.Close()
}

type endpoint struct {
	local  *Transport
	remote *net.UDPAddr
	closed bool
}

func (e *endpoint) Send(buf []byte, tag uint64) (*transport.SendOp, error) {
	if e.closed {
		return nil, transport.ErrClosed
	}
	frame := make([]byte, headerLen+len(buf))
	binary.BigEndian.PutUint32(frame[0:4], magic)
	frame[4] = 0
	binary.BigEndian.PutUint64(frame[5:13], tag)
	copy(frame[headerLen:], buf)

	op := &transport.SendOp{}
	if _, err := e.local.conn.WriteToUDP(frame, e.remote); err != nil {
		// The datagram never left; the descriptor still resolves with
		// exactly one terminal status.
		op.Complete(transport.StatusError, err)
		return op, nil
	}
	e.local.mu.Lock()
	e.local.pendingSends = append(e.local.pendingSends, op)
	e.local.mu.Unlock()
	return op, nil
}

func (e *endpoint) Close(flush bool) error {
	// Writes go straight to the socket; nothing is buffered per endpoint,
	// so flush has nothing extra to drain.
	e.closed = true
	return nil
}
