package shipper

import (
	"github.com/danmuck/tagrpc/internal/wire"
)

// CallHandle is the per-inbound-call state bundle. It is created by the
// dispatcher at receive time, passed to the executor, and consumed by
// exactly one Complete call. Handles are single-owner and never shared
// across goroutines.
type CallHandle struct {
	id       uint32
	peerAddr []byte
	replyTag uint64

	// dec and recvBuf are owned until the first GetInput call releases them.
	dec     *wire.Decoder
	recvBuf []byte

	completed bool
}

// OperationID is the id decoded from the request's front.
func (h *CallHandle) OperationID() uint32 { return h.id }

// PeerAddress is the serialized address the request arrived from. It is
// released when the handle completes.
func (h *CallHandle) PeerAddress() []byte { return h.peerAddr }

// ReplyTag is the tag the response will be sent on, the tag the request
// arrived with.
func (h *CallHandle) ReplyTag() uint64 { return h.replyTag }

// release drops every resource the handle still owns. Used on drop paths so
// a half-built handle does not keep its buffer and decode context alive.
func (h *CallHandle) release() {
	h.dec = nil
	h.recvBuf = nil
	h.peerAddr = nil
}
