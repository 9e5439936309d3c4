package rxpool

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/danmuck/tagrpc/internal/testutil/testlog"
	"github.com/danmuck/tagrpc/internal/transport"
	"github.com/danmuck/tagrpc/internal/transport/mem"
)

const testTag = 21

func newPair(t *testing.T) (*mem.Transport, transport.Endpoint) {
	t.Helper()
	hub := mem.NewHub()
	rx := hub.NewTransport("rx")
	tx := hub.NewTransport("tx")
	ep, err := tx.Dial(rx.Address())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return rx, ep
}

// next drives the receiving transport until the pool yields a slot.
func next(rx transport.Transport, p *Pool) *Slot {
	for {
		if s := p.Next(); s != nil {
			return s
		}
		rx.Drive()
	}
}

func TestDeliveryAndRearm(t *testing.T) {
	rx, ep := newPair(t)
	p, err := New(rx, testTag, transport.MaskFull, 16, 3, testlog.New(t))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Destroy()

	for i := 0; i < 5; i++ {
		msg := []byte{byte(i), 1, 2, 3}
		if _, err := ep.Send(msg, testTag); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		s := next(rx, p)
		if s.Status() != transport.StatusOK {
			t.Fatalf("slot %d status: %s", i, s.Status())
		}
		if !bytes.Equal(s.Bytes(), msg) {
			t.Fatalf("slot %d payload: %v", i, s.Bytes())
		}
		if s.SenderTag() != testTag {
			t.Fatalf("slot %d sender tag: %d", i, s.SenderTag())
		}
		if err := p.Setup(s, nil); err != nil {
			t.Fatalf("setup %d: %v", i, err)
		}
	}
}

func TestNextIsNonblockingPoll(t *testing.T) {
	rx, _ := newPair(t)
	p, err := New(rx, testTag, transport.MaskFull, 16, 0, testlog.New(t))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Destroy()
	if s := p.Next(); s != nil {
		t.Fatalf("Next with nothing delivered returned %+v", s)
	}
}

func TestTruncationRegrowsAndReceivesRetry(t *testing.T) {
	rx, ep := newPair(t)
	const initial = 16
	// One slot so every retry lands in the same regrowing buffer.
	p, err := New(rx, testTag, transport.MaskFull, initial, 1, testlog.New(t))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Destroy()

	big := bytes.Repeat([]byte{0xab}, 50)

	// First delivery truncates; the payload is discarded and the slot
	// regrows. The sender retries until the buffer is large enough.
	var s *Slot
	for attempt := 0; ; attempt++ {
		if attempt > 4 {
			t.Fatal("regrow never converged")
		}
		if _, err := ep.Send(big, testTag); err != nil {
			t.Fatalf("send: %v", err)
		}
		rx.Drive()
		if s = p.Next(); s != nil {
			break
		}
	}
	if s.Status() != transport.StatusOK {
		t.Fatalf("status: %s", s.Status())
	}
	if !bytes.Equal(s.Bytes(), big) {
		t.Fatalf("retried payload not received intact: %d bytes", len(s.Bytes()))
	}
	if s.Capacity() < 2*initial {
		t.Fatalf("regrown capacity %d is below twice the initial %d", s.Capacity(), initial)
	}
	if err := p.Setup(s, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
}

func TestFatalStatusSurfacesToCaller(t *testing.T) {
	rx, _ := newPair(t)
	p, err := New(rx, testTag, transport.MaskFull, 16, 2, testlog.New(t))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	// Closing the transport cancels the posted receives; the pool must hand
	// the non-OK slot to the caller instead of hiding it.
	if err := rx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s := p.Next()
	if s == nil {
		t.Fatal("expected a slot carrying the fatal status")
	}
	if s.Status() == transport.StatusOK || s.Status() == transport.StatusTruncated {
		t.Fatalf("status: got %s", s.Status())
	}
	p.Destroy()
}

func TestRegrowArmFailureSurfaces(t *testing.T) {
	rx, ep := newPair(t)
	p, err := New(rx, testTag, transport.MaskFull, 4, 1, testlog.New(t))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Destroy()

	// Deliver a message larger than the slot so its receive completes
	// truncated, then close the transport before the pool can re-arm: the
	// regrow's re-post fails and the slot must come back carrying the
	// error instead of vanishing from the scan.
	if _, err := ep.Send(bytes.Repeat([]byte{0xcd}, 64), testTag); err != nil {
		t.Fatalf("send: %v", err)
	}
	rx.Drive()
	if err := rx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s := p.Next()
	if s == nil {
		t.Fatal("Next returned nil; regrow arm failure was swallowed")
	}
	if s.Status() != transport.StatusError {
		t.Fatalf("status: got %s, want error", s.Status())
	}
	if !errors.Is(s.Err(), transport.ErrClosed) {
		t.Fatalf("slot error: got %v", s.Err())
	}
}

func TestSetupGuards(t *testing.T) {
	rx, ep := newPair(t)
	p, err := New(rx, testTag, transport.MaskFull, 16, 1, testlog.New(t))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Destroy()

	other, err := New(rx, testTag+1, transport.MaskFull, 16, 1, testlog.New(t))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer other.Destroy()

	if _, err := ep.Send([]byte("x"), testTag); err != nil {
		t.Fatalf("send: %v", err)
	}
	s := next(rx, p)

	if err := other.Setup(s, nil); err != ErrForeignSlot {
		t.Fatalf("expected ErrForeignSlot, got %v", err)
	}
	if err := p.Setup(s, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := p.Setup(s, nil); err != ErrSlotArmed {
		t.Fatalf("expected ErrSlotArmed, got %v", err)
	}
}

func TestTwiceOrMaxSaturates(t *testing.T) {
	if got := twiceOrMax(16); got != 32 {
		t.Fatalf("twiceOrMax(16) = %d", got)
	}
	if got := twiceOrMax(math.MaxInt/2 + 1); got != math.MaxInt {
		t.Fatalf("near-max doubling must saturate, got %d", got)
	}
	if got := twiceOrMax(math.MaxInt); got != math.MaxInt {
		t.Fatalf("max doubling must saturate, got %d", got)
	}
}
