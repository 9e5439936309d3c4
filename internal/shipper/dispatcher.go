package shipper

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danmuck/tagrpc/internal/iofsl"
	"github.com/danmuck/tagrpc/internal/observability"
	"github.com/danmuck/tagrpc/internal/transport"
	"github.com/danmuck/tagrpc/internal/wire"
)

var (
	// ErrShortRequest reports a request shorter than the legacy id prefix.
	ErrShortRequest = errors.New("shipper: request shorter than id prefix")
	// ErrUnknownOperation reports a request whose operation id has no
	// registered handler. The call is dropped, never answered.
	ErrUnknownOperation = errors.New("shipper: unknown operation")
	// ErrRecvFailed reports a terminal non-OK status on the unexpected
	// receive.
	ErrRecvFailed = errors.New("shipper: receive failed")
	// ErrResponseTooLarge reports a response that cannot fit one message.
	ErrResponseTooLarge = errors.New("shipper: response exceeds unexpected-message bound")
	// ErrHandleConsumed reports a second Complete on the same handle.
	ErrHandleConsumed = errors.New("shipper: handle already completed")
	// ErrSendFailed reports a terminal non-OK status on the response send.
	ErrSendFailed = errors.New("shipper: response send failed")
)

// Dispatcher receives inbound calls on a transport and routes them through a
// registry. One dispatcher is driven by one logical thread of control.
type Dispatcher struct {
	tr  transport.Transport
	reg *Registry
	log zerolog.Logger
}

func NewDispatcher(tr transport.Transport, reg *Registry, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		tr:  tr,
		reg: reg,
		log: log.With().Str("component", "shipper").Logger(),
	}
}

// ReceiveOne blocks (drive-and-poll) for one inbound call and dispatches it:
// strip the legacy id prefix, decode the operation id, look up the handler
// and run its executor synchronously. The executor is expected to call
// GetInput and, eventually, Complete on the handle it is given.
//
// Requests that are short, undecodable or unregistered are dropped with a
// warning; the handle's buffer and decode context are released before the
// error returns.
func (d *Dispatcher) ReceiveOne() error {
	buf := make([]byte, d.tr.MaxUnexpectedSize())
	op, err := d.tr.PostUnexpectedRecv(buf)
	if err != nil {
		return fmt.Errorf("shipper: post unexpected receive: %w", err)
	}
	transport.Await(d.tr, op.Done)
	if op.Status() != transport.StatusOK {
		return fmt.Errorf("%w: status %s: %v", ErrRecvFailed, op.Status(), op.Err())
	}

	h := &CallHandle{
		peerAddr: op.SenderAddr(),
		replyTag: op.SenderTag(),
		recvBuf:  buf,
	}
	n := op.Len()
	if n < iofsl.IDSize {
		d.log.Warn().Int("bytes", n).Msg("dropping request shorter than id prefix")
		observability.RecordDrop("short_request")
		h.release()
		return ErrShortRequest
	}
	if _, err := iofsl.DecodeID(buf[:n]); err != nil {
		h.release()
		return err
	}

	h.dec = wire.NewDecoder(buf[iofsl.IDSize:n])
	id, err := h.dec.Uint32()
	if err != nil {
		d.log.Warn().Int("bytes", n).Msg("dropping request with no operation id")
		observability.RecordDrop("short_request")
		h.release()
		return ErrShortRequest
	}
	h.id = id

	handler, ok := d.reg.Lookup(id)
	if !ok {
		d.log.Warn().Uint32("operation", id).Msg("dropping call for unregistered operation")
		observability.RecordDrop("unknown_operation")
		h.release()
		return fmt.Errorf("%w: %#08x", ErrUnknownOperation, id)
	}

	observability.RecordDispatch()
	return handler.Execute(h)
}

// GetInput decodes the request into in via the registered decoder, then
// releases the decode context and the raw receive buffer. Calling it again
// on the same handle is a no-op: the owned resources are already cleared.
// in is caller-owned memory; nothing is allocated here on its behalf.
func (d *Dispatcher) GetInput(h *CallHandle, in any) error {
	if h.dec == nil || h.recvBuf == nil {
		return nil
	}
	handler, ok := d.reg.Lookup(h.id)
	if !ok {
		return fmt.Errorf("%w: %#08x", ErrUnknownOperation, h.id)
	}
	err := handler.DecodeRequest(h.dec, in)
	h.dec = nil
	h.recvBuf = nil
	if err != nil {
		return fmt.Errorf("shipper: decode request: %w", err)
	}
	return nil
}

// Complete encodes out, sends it to the handle's peer on its reply tag, and
// consumes the handle. The reply buffer is sized exactly from the handler's
// ResponseSize plus the legacy status prefix; responses that would not fit
// one message are rejected, not truncated. A second Complete on the same
// handle fails with ErrHandleConsumed.
func (d *Dispatcher) Complete(h *CallHandle, out any) error {
	if h.completed {
		return ErrHandleConsumed
	}
	handler, ok := d.reg.Lookup(h.id)
	if !ok {
		// Registry is append-only, so a dispatched id is always present.
		return fmt.Errorf("%w: %#08x", ErrUnknownOperation, h.id)
	}

	size, err := handler.ResponseSize(out)
	if err != nil {
		return fmt.Errorf("shipper: response size: %w", err)
	}
	total := iofsl.StatusSize + size
	if total > d.tr.MaxUnexpectedSize() {
		return fmt.Errorf("%w: %d > %d", ErrResponseTooLarge, total, d.tr.MaxUnexpectedSize())
	}

	buf := make([]byte, total)
	if err := iofsl.EncodeStatus(buf, iofsl.StatusOK); err != nil {
		return err
	}
	enc := wire.NewEncoder(buf[iofsl.StatusSize:])
	if err := handler.EncodeResponse(enc, out); err != nil {
		return fmt.Errorf("shipper: encode response: %w", err)
	}

	ep, err := d.tr.Dial(h.peerAddr)
	if err != nil {
		return fmt.Errorf("shipper: dial peer: %w", err)
	}
	sendOp, err := ep.Send(buf, h.replyTag)
	if err != nil {
		_ = ep.Close(false)
		return fmt.Errorf("shipper: send response: %w", err)
	}
	transport.Await(d.tr, sendOp.Done)
	closeErr := ep.Close(true)
	if sendOp.Status() != transport.StatusOK {
		return fmt.Errorf("%w: status %s: %v", ErrSendFailed, sendOp.Status(), sendOp.Err())
	}
	if closeErr != nil {
		d.log.Warn().Err(closeErr).Msg("endpoint close after response failed")
	}

	h.peerAddr = nil
	h.completed = true
	observability.RecordCompletion()
	d.log.Debug().
		Uint32("operation", h.id).
		Int("response_bytes", total).
		Msg("call completed")
	return nil
}
