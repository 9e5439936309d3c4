package wireup

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/danmuck/tagrpc/internal/observability"
	"github.com/danmuck/tagrpc/internal/rxpool"
	"github.com/danmuck/tagrpc/internal/transport"
)

// defaultRecvSize sizes responder pool buffers for a header plus a typical
// serialized worker address; the pool regrows for anything larger.
const defaultRecvSize = HeaderLen + 93

var (
	// ErrSendFailed reports a terminal non-OK status on a handshake send.
	ErrSendFailed = errors.New("wireup: send failed")
	// ErrRecvFailed reports a terminal non-OK status on the handshake pool.
	ErrRecvFailed = errors.New("wireup: receive failed")
	// ErrBadReply reports a well-formed reply that is not an Ack.
	ErrBadReply = errors.New("wireup: reply is not an ack")
)

// Request performs one handshake against the peer at remoteAddr: dial an
// ephemeral endpoint, send a Req carrying this transport's own address, wait
// for the send and then for an Ack, and close the endpoint flush-first.
//
// There is no timeout and no retransmission: if the Req or the Ack is lost,
// Request blocks indefinitely. Callers that need a bound layer their own
// deadline around this call.
func Request(tr transport.Transport, remoteAddr []byte, log zerolog.Logger) error {
	logger := log.With().Str("component", "wireup").Logger()

	ep, err := tr.Dial(remoteAddr)
	if err != nil {
		return fmt.Errorf("wireup: dial remote: %w", err)
	}

	// The pool only needs to hold an Ack, which is header-sized.
	pool, err := rxpool.New(tr, Tag, transport.MaskFull, HeaderLen, rxpool.DefaultWindow, log)
	if err != nil {
		epClose(ep, logger)
		return err
	}
	defer pool.Destroy()

	req := Message{Op: OpReq, Addr: tr.Address()}
	sendOp, err := ep.Send(req.Encode(), Tag)
	if err != nil {
		epClose(ep, logger)
		return fmt.Errorf("wireup: send req: %w", err)
	}
	transport.Await(tr, sendOp.Done)
	if sendOp.Status() != transport.StatusOK {
		epClose(ep, logger)
		return fmt.Errorf("%w: status %s: %v", ErrSendFailed, sendOp.Status(), sendOp.Err())
	}
	logger.Debug().Int("req_bytes", req.EncodedSize()).Msg("req sent")

	var slot *rxpool.Slot
	for slot == nil {
		if slot = pool.Next(); slot == nil {
			if !tr.Drive() {
				runtime.Gosched()
			}
		}
	}
	if slot.Status() != transport.StatusOK {
		epClose(ep, logger)
		return fmt.Errorf("%w: status %s: %v", ErrRecvFailed, slot.Status(), slot.Err())
	}

	reply, err := Decode(slot.Bytes())
	if err != nil {
		epClose(ep, logger)
		return err
	}
	if reply.Op != OpAck {
		epClose(ep, logger)
		return fmt.Errorf("%w: got %s", ErrBadReply, reply.Op)
	}

	epClose(ep, logger)
	observability.RecordHandshake("requester")
	logger.Info().Msg("wireup acknowledged")
	return nil
}

// Responder serves the wireup tag: for each well-formed Req it dials the
// embedded address and answers with an Ack on the tag the Req carried.
type Responder struct {
	tr   transport.Transport
	pool *rxpool.Pool
	log  zerolog.Logger
}

// NewResponder pre-posts the responder's receive pool on the wireup tag.
// recvSize <= 0 selects a default sized for a typical address; window <= 0
// selects the default window.
func NewResponder(tr transport.Transport, recvSize, window int, log zerolog.Logger) (*Responder, error) {
	if recvSize <= 0 {
		recvSize = defaultRecvSize
	}
	pool, err := rxpool.New(tr, Tag, transport.MaskFull, recvSize, window, log)
	if err != nil {
		return nil, err
	}
	return &Responder{
		tr:   tr,
		pool: pool,
		log:  log.With().Str("component", "wireup").Logger(),
	}, nil
}

// Serve loops over the pool until a slot reports a fatal receive status,
// which ends the loop with that status as the error. Malformed messages are
// dropped with a warning and do not stop the loop.
func (r *Responder) Serve() error {
	for {
		if err := r.ServeOnce(); err != nil {
			return err
		}
		if !r.tr.Drive() {
			runtime.Gosched()
		}
	}
}

// ServeOnce polls the pool once, handling at most one completed message. It
// does not drive the transport. A fatal slot status is returned as an error;
// callers may keep calling ServeOnce afterward, the remaining slots still
// serve.
func (r *Responder) ServeOnce() error {
	slot := r.pool.Next()
	if slot == nil {
		return nil
	}
	if slot.Status() != transport.StatusOK {
		err := fmt.Errorf("%w: status %s: %v", ErrRecvFailed, slot.Status(), slot.Err())
		r.log.Error().Err(err).Msg("pool receive failed, stopping serve loop")
		return err
	}
	r.log.Debug().
		Int("bytes", len(slot.Bytes())).
		Uint64("sender_tag", slot.SenderTag()).
		Msg("received wireup message")
	r.handle(slot)
	if err := r.pool.Setup(slot, nil); err != nil {
		return err
	}
	return nil
}

// handle processes one delivered message. Malformed or unexpected messages
// are dropped with a warning and no reply; there is no nack.
func (r *Responder) handle(slot *rxpool.Slot) {
	msg, err := Decode(slot.Bytes())
	if err != nil {
		r.log.Warn().Err(err).Int("bytes", len(slot.Bytes())).Msg("dropping malformed wireup message")
		return
	}
	if msg.Op != OpReq {
		r.log.Warn().Stringer("op", msg.Op).Msg("dropping unexpected wireup op")
		return
	}

	ep, err := r.tr.Dial(msg.Addr)
	if err != nil {
		r.log.Warn().Err(err).Msg("dial requester failed, dropping req")
		return
	}

	ack := Message{Op: OpAck}
	sendOp, err := ep.Send(ack.Encode(), slot.SenderTag())
	if err != nil {
		r.log.Warn().Err(err).Msg("send ack failed")
		epClose(ep, r.log)
		return
	}
	transport.Await(r.tr, sendOp.Done)
	if sendOp.Status() != transport.StatusOK {
		r.log.Warn().
			Stringer("status", sendOp.Status()).
			AnErr("cause", sendOp.Err()).
			Msg("ack send completed with error")
		epClose(ep, r.log)
		return
	}
	epClose(ep, r.log)
	observability.RecordHandshake("responder")
	r.log.Info().Msg("wireup req acknowledged")
}

// Close cancels the responder's posted receives.
func (r *Responder) Close() {
	r.pool.Destroy()
}

// epClose flushes then closes, falling back to a non-flushing close if the
// flush path fails.
func epClose(ep transport.Endpoint, log zerolog.Logger) {
	if err := ep.Close(true); err != nil {
		log.Warn().Err(err).Msg("flush-close failed, forcing close")
		_ = ep.Close(false)
	}
}
