// Package rxpool maintains a window of pre-posted tagged receive buffers on
// a single match tag and regrows them when the transport reports truncation.
package rxpool

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/danmuck/tagrpc/internal/observability"
	"github.com/danmuck/tagrpc/internal/transport"
)

// DefaultWindow is the number of receives kept posted when the caller does
// not choose one.
const DefaultWindow = 3

var (
	ErrDestroyed   = errors.New("rxpool: pool destroyed")
	ErrSlotArmed   = errors.New("rxpool: slot is still armed")
	ErrForeignSlot = errors.New("rxpool: slot does not belong to this pool")
)

// Slot is one pool position. Between Next returning it and the following
// Setup call the slot is disarmed and its buffer belongs to the caller.
type Slot struct {
	pool  *Pool
	buf   []byte
	op    *transport.RecvOp
	armed bool

	status    transport.Status
	n         int
	senderTag uint64
	err       error
}

// Bytes is the delivered payload. Valid until the slot is re-armed.
func (s *Slot) Bytes() []byte { return s.buf[:s.n] }

// Status is the completion status observed for the slot's last receive.
func (s *Slot) Status() transport.Status { return s.status }

// Err is the transport error accompanying StatusError, nil otherwise.
func (s *Slot) Err() error { return s.err }

// SenderTag is the tag the sender used, the sender's self-chosen reply tag.
func (s *Slot) SenderTag() uint64 { return s.senderTag }

// Capacity is the slot's current buffer capacity.
func (s *Slot) Capacity() int { return len(s.buf) }

// Pool owns a fixed window of slots, all posted with the same tag and mask.
type Pool struct {
	tr          transport.Transport
	tag         uint64
	mask        uint64
	initialSize int
	slots       []*Slot
	destroyed   bool
	log         zerolog.Logger
}

// New allocates window buffers of initialSize bytes and posts each as a
// nonblocking tagged receive on tag/mask. window <= 0 selects DefaultWindow.
func New(tr transport.Transport, tag, mask uint64, initialSize, window int, log zerolog.Logger) (*Pool, error) {
	if initialSize <= 0 {
		return nil, fmt.Errorf("rxpool: initial size %d out of range", initialSize)
	}
	if window <= 0 {
		window = DefaultWindow
	}
	p := &Pool{
		tr:          tr,
		tag:         tag,
		mask:        mask,
		initialSize: initialSize,
		log:         log.With().Str("component", "rxpool").Uint64("tag", tag).Logger(),
	}
	for i := 0; i < window; i++ {
		s := &Slot{pool: p}
		if err := p.arm(s, make([]byte, initialSize)); err != nil {
			p.Destroy()
			return nil, err
		}
		p.slots = append(p.slots, s)
	}
	return p, nil
}

func (p *Pool) arm(s *Slot, buf []byte) error {
	op, err := p.tr.PostTaggedRecv(buf, p.tag, p.mask)
	if err != nil {
		return fmt.Errorf("rxpool: post receive: %w", err)
	}
	s.buf = buf
	s.op = op
	s.armed = true
	return nil
}

// Next is a nonblocking poll: it returns the first slot whose posted receive
// has completed, or nil if none has. It never drives the transport; the
// caller alternates Next with the transport's drive operation.
//
// Truncated completions never surface: the payload is discarded on the
// assumption that the sender will retry, the buffer capacity is doubled
// (saturating rather than wrapping) and the slot is re-armed on the same
// tag. A slot returned with a non-OK status carries the transport's error;
// the caller chooses whether to re-arm and keep serving or stop. Every slot
// returned with StatusOK must be re-armed with Setup or that pool position
// permanently stops receiving.
func (p *Pool) Next() *Slot {
	if p.destroyed {
		return nil
	}
	for _, s := range p.slots {
		if !s.armed || !s.op.Done() {
			continue
		}
		s.status = s.op.Status()
		s.n = s.op.Len()
		s.senderTag = s.op.SenderTag()
		s.err = s.op.Err()
		s.armed = false
		s.op = nil

		if s.status == transport.StatusTruncated {
			if p.regrow(s) {
				continue
			}
			// Re-arming failed; hand the slot back carrying the error so
			// the caller learns the pool position is dead.
			return s
		}
		return s
	}
	return nil
}

// regrow doubles a truncated slot's buffer and re-arms it, reporting whether
// the slot is posted again. On failure the slot carries the arm error.
func (p *Pool) regrow(s *Slot) bool {
	oldCap := len(s.buf)
	newCap := twiceOrMax(oldCap)
	p.log.Debug().
		Int("old_capacity", oldCap).
		Int("new_capacity", newCap).
		Msg("truncated receive, regrowing buffer")
	observability.RecordTruncation(oldCap, newCap)
	if err := p.arm(s, make([]byte, newCap)); err != nil {
		s.status = transport.StatusError
		s.err = err
		return false
	}
	return true
}

// Setup re-arms a slot returned by Next. A nil buf reuses the slot's current
// buffer; otherwise the receive is posted over buf.
func (p *Pool) Setup(s *Slot, buf []byte) error {
	if p.destroyed {
		return ErrDestroyed
	}
	if s.pool != p {
		return ErrForeignSlot
	}
	if s.armed {
		return ErrSlotArmed
	}
	if buf == nil {
		buf = s.buf
	}
	return p.arm(s, buf)
}

// Destroy cancels all outstanding posted receives and releases the slots.
func (p *Pool) Destroy() {
	if p.destroyed {
		return
	}
	p.destroyed = true
	for _, s := range p.slots {
		if s.armed && s.op != nil {
			s.op.Cancel()
		}
		s.armed = false
		s.op = nil
		s.buf = nil
	}
	p.slots = nil
}

// twiceOrMax doubles n, saturating at the maximum int instead of wrapping.
func twiceOrMax(n int) int {
	if n > math.MaxInt/2 {
		return math.MaxInt
	}
	return n * 2
}
