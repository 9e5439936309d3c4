// Package mem implements an in-process tag-matching transport over a shared
// hub. Delivery semantics mirror the real adapters: messages addressed to a
// transport match the first posted tagged receive whose tag/mask agree,
// otherwise they queue for an unexpected receive; a posted buffer shorter
// than the message completes truncated and the overflow is lost.
//
// All matching and completion firing happens inside Drive on the caller's
// goroutine; cross-transport sends only append to a mutex-guarded inbox.
package mem

import (
	"fmt"
	"sync"

	"github.com/danmuck/tagrpc/internal/transport"
)

const defaultMaxUnexpected = 64 * 1024

type message struct {
	payload []byte
	tag     uint64
	sender  []byte
}

// Hub connects a set of in-process transports by address.
type Hub struct {
	mu    sync.Mutex
	peers map[string]*Transport
}

func NewHub() *Hub {
	return &Hub{peers: make(map[string]*Transport)}
}

// NewTransport registers a transport on the hub under the given address.
func (h *Hub) NewTransport(addr string) *Transport {
	t := &Transport{
		hub:           h,
		addr:          []byte(addr),
		maxUnexpected: defaultMaxUnexpected,
	}
	h.mu.Lock()
	h.peers[addr] = t
	h.mu.Unlock()
	return t
}

func (h *Hub) lookup(addr []byte) (*Transport, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.peers[string(addr)]
	return t, ok
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

// Transport is one hub peer.
type Transport struct {
	hub  *Hub
	addr []byte

	mu            sync.Mutex
	inbox         []message
	closed        bool
	maxUnexpected int

	tagged       []*postedRecv
	unexpected   []*postedUnexpected
	unexpectedQ  []message
	pendingSends []*transport.SendOp
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Address() []byte {
	out := make([]byte, len(t.addr))
	copy(out, t.addr)
	return out
}

func (t *Transport) MaxUnexpectedSize() int { return t.maxUnexpected }

// SetMaxUnexpectedSize adjusts the unexpected bound; tests use small values
// to exercise size rejection.
func (t *Transport) SetMaxUnexpectedSize(n int) { t.maxUnexpected = n }

func (t *Transport) Dial(addr []byte) (transport.Endpoint, error) {
	remote, ok := t.hub.lookup(addr)
	if !ok {
		return nil, fmt.Errorf("mem: no peer at address %q", string(addr))
	}
	return &endpoint{local: t, remote: remote}, nil
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

func (t *Transport) enqueue(m message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	t.inbox = append(t.inbox, m)
	return nil
}

// Drive matches queued messages against posted receives and completes
// pending sends.
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
	for _, m := range inbox {
		if t.matchTagged(m) {
			progress = true
			continue
		}
		t.unexpectedQ = append(t.unexpectedQ, m)
	}

	for len(t.unexpectedQ) > 0 && len(t.unexpected) > 0 {
		m := t.unexpectedQ[0]
		t.unexpectedQ = t.unexpectedQ[1:]
		pu := t.unexpected[0]
		t.unexpected = t.unexpected[1:]

		n := copy(pu.buf, m.payload)
		status := transport.StatusOK
		if n < len(m.payload) {
			status = transport.StatusTruncated
		}
		pu.op.Complete(status, n, m.tag, m.sender, nil)
		progress = true
	}

	return progress
}

func (t *Transport) matchTagged(m message) bool {
	for i, pr := range t.tagged {
		if pr.canceled || pr.op.Done() {
			continue
		}
		if m.tag&pr.mask != pr.tag&pr.mask {
			continue
		}
		n := copy(pr.buf, m.payload)
		status := transport.StatusOK
		if n < len(m.payload) {
			status = transport.StatusTruncated
		}
		pr.op.Complete(status, n, m.tag, nil)
		t.tagged = append(t.tagged[:i], t.tagged[i+1:]...)
		return true
	}
	return false
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
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

	t.hub.mu.Lock()
	delete(t.hub.peers, string(t.addr))
	t.hub.mu.Unlock()
	return nil
}

type endpoint struct {
	local  *Transport
	remote *Transport
	closed bool
}

func (e *endpoint) Send(buf []byte, tag uint64) (*transport.SendOp, error) {
	if e.closed {
		return nil, transport.ErrClosed
	}
	payload := make([]byte, len(buf))
	copy(payload, buf)
	if err := e.remote.enqueue(message{payload: payload, tag: tag, sender: e.local.Address()}); err != nil {
		return nil, err
	}
	op := &transport.SendOp{}
	e.local.mu.Lock()
	e.local.pendingSends = append(e.local.pendingSends, op)
	e.local.mu.Unlock()
	return op, nil
}

func (e *endpoint) Close(flush bool) error {
	// Sends copy their payload on post, so there is nothing left to drain;
	// flush only changes whether pending completions are still observable.
	e.closed = true
	return nil
}
