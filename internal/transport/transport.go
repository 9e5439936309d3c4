// Package transport defines the tag-matching transport contract the rest of
// the module is built against.
//
// The model is asynchronous and poll-driven: posting a send or receive never
// blocks, and completions are observed by calling Drive until the matching
// operation descriptor reports done. All protocol logic above this package
// assumes a single logical thread of control drives a given transport; an
// implementation may use internal goroutines as long as completions only fire
// from within Drive.
package transport

import (
	"errors"
	"runtime"
)

// Status is the terminal state of a posted operation. Every posted operation
// observes exactly one terminal status.
type Status int

const (
	// StatusOK means the operation completed and the full payload was
	// delivered.
	StatusOK Status = iota
	// StatusTruncated means the posted buffer was smaller than the incoming
	// message; payload beyond the buffer's capacity is lost and the sender
	// must re-deliver.
	StatusTruncated
	// StatusCanceled means the operation was canceled before a message
	// matched it.
	StatusCanceled
	// StatusError means the transport failed the operation; Err holds the
	// cause.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTruncated:
		return "truncated"
	case StatusCanceled:
		return "canceled"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrClosed is returned when posting against a closed transport or endpoint.
var ErrClosed = errors.New("transport: closed")

// MaskFull selects exact tag matching.
const MaskFull uint64 = ^uint64(0)

// SendOp is the completion descriptor for one posted send. The buffer handed
// to Send must not be reused until Done reports true.
type SendOp struct {
	done   bool
	status Status
	err    error
}

func (o *SendOp) Done() bool     { return o.done }
func (o *SendOp) Status() Status { return o.status }
func (o *SendOp) Err() error     { return o.err }

// Complete is called by transport implementations, at most once, from Drive.
func (o *SendOp) Complete(status Status, err error) {
	o.status = status
	o.err = err
	o.done = true
}

// RecvOp is the completion descriptor for one posted tagged receive.
type RecvOp struct {
	done      bool
	status    Status
	n         int
	senderTag uint64
	err       error
	cancel    func()
}

// NewRecvOp wraps an implementation-provided cancel hook. cancel may be nil.
func NewRecvOp(cancel func()) *RecvOp { return &RecvOp{cancel: cancel} }

func (o *RecvOp) Done() bool { return o.done }

// Status, Len and SenderTag are valid once Done reports true. SenderTag is
// the tag the sender used, not the tag the receive was posted with.
func (o *RecvOp) Status() Status    { return o.status }
func (o *RecvOp) Len() int          { return o.n }
func (o *RecvOp) SenderTag() uint64 { return o.senderTag }
func (o *RecvOp) Err() error        { return o.err }

// Cancel resolves a still-pending receive with StatusCanceled. Canceling a
// completed receive is a no-op.
func (o *RecvOp) Cancel() {
	if o.done || o.cancel == nil {
		return
	}
	o.cancel()
}

// Complete is called by transport implementations, at most once, from Drive
// or from Cancel.
func (o *RecvOp) Complete(status Status, n int, senderTag uint64, err error) {
	o.status = status
	o.n = n
	o.senderTag = senderTag
	o.err = err
	o.done = true
}

// UnexpectedOp is the completion descriptor for one posted unexpected
// receive: it matches the next inbound message regardless of tag or sender.
type UnexpectedOp struct {
	done       bool
	status     Status
	n          int
	senderTag  uint64
	senderAddr []byte
	err        error
}

func (o *UnexpectedOp) Done() bool        { return o.done }
func (o *UnexpectedOp) Status() Status    { return o.status }
func (o *UnexpectedOp) Len() int          { return o.n }
func (o *UnexpectedOp) SenderTag() uint64 { return o.senderTag }

// SenderAddr is the sender's serialized transport address, suitable for Dial.
func (o *UnexpectedOp) SenderAddr() []byte { return o.senderAddr }
func (o *UnexpectedOp) Err() error         { return o.err }

// Complete is called by transport implementations, at most once, from Drive.
func (o *UnexpectedOp) Complete(status Status, n int, senderTag uint64, senderAddr []byte, err error) {
	o.status = status
	o.n = n
	o.senderTag = senderTag
	o.senderAddr = senderAddr
	o.err = err
	o.done = true
}

// Endpoint is an open path to one remote transport.
type Endpoint interface {
	// Send posts a nonblocking tagged send of buf. The returned descriptor
	// completes once buf may be reused.
	Send(buf []byte, tag uint64) (*SendOp, error)

	// Close releases the endpoint. With flush set, pending sends are drained
	// first; without it they may be dropped.
	Close(flush bool) error
}

// Transport is the tag-matching transport consumed by the pool, the wireup
// protocol and the dispatcher.
type Transport interface {
	// Address returns this transport's serialized address, the opaque byte
	// form exchanged during wireup and accepted by Dial.
	Address() []byte

	// MaxUnexpectedSize bounds the size of a message deliverable through an
	// unexpected receive.
	MaxUnexpectedSize() int

	// Dial opens an endpoint to the peer with the given serialized address.
	Dial(addr []byte) (Endpoint, error)

	// PostTaggedRecv posts a nonblocking receive matching messages whose tag
	// satisfies msgTag&mask == tag&mask.
	PostTaggedRecv(buf []byte, tag, mask uint64) (*RecvOp, error)

	// PostUnexpectedRecv posts a nonblocking receive matching the next
	// message that no tagged receive claims.
	PostUnexpectedRecv(buf []byte) (*UnexpectedOp, error)

	// Drive advances outstanding operations and fires completions. It
	// reports whether any progress was made.
	Drive() bool

	// Close shuts the transport down. Outstanding operations resolve with
	// StatusCanceled or StatusError.
	Close() error
}

// Await drives t until done reports true. This is the blocking-wait shape
// used by every synchronous helper in the module.
func Await(t Transport, done func() bool) {
	for !done() {
		if !t.Drive() {
			runtime.Gosched()
		}
	}
}
