package mem

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/tagrpc/internal/transport"
)

func TestTaggedDelivery(t *testing.T) {
	hub := NewHub()
	rx := hub.NewTransport("rx")
	tx := hub.NewTransport("tx")

	buf := make([]byte, 16)
	op, err := rx.PostTaggedRecv(buf, 5, transport.MaskFull)
	if err != nil {
		t.Fatalf("post recv: %v", err)
	}

	ep, err := tx.Dial([]byte("rx"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sendOp, err := ep.Send([]byte("hello"), 5)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	transport.Await(tx, sendOp.Done)
	if sendOp.Status() != transport.StatusOK {
		t.Fatalf("send status: %s", sendOp.Status())
	}

	transport.Await(rx, op.Done)
	if op.Status() != transport.StatusOK {
		t.Fatalf("recv status: %s", op.Status())
	}
	if op.Len() != 5 || !bytes.Equal(buf[:op.Len()], []byte("hello")) {
		t.Fatalf("payload mismatch: %q", buf[:op.Len()])
	}
	if op.SenderTag() != 5 {
		t.Fatalf("sender tag: got %d", op.SenderTag())
	}
}

func TestTagMismatchGoesUnexpected(t *testing.T) {
	hub := NewHub()
	rx := hub.NewTransport("rx")
	tx := hub.NewTransport("tx")

	tagged, err := rx.PostTaggedRecv(make([]byte, 16), 5, transport.MaskFull)
	if err != nil {
		t.Fatalf("post recv: %v", err)
	}
	ubuf := make([]byte, 16)
	uop, err := rx.PostUnexpectedRecv(ubuf)
	if err != nil {
		t.Fatalf("post unexpected: %v", err)
	}

	ep, _ := tx.Dial([]byte("rx"))
	if _, err := ep.Send([]byte("stray"), 99); err != nil {
		t.Fatalf("send: %v", err)
	}

	transport.Await(rx, uop.Done)
	if tagged.Done() {
		t.Fatal("tagged receive must not match a different tag")
	}
	if uop.Status() != transport.StatusOK {
		t.Fatalf("unexpected status: %s", uop.Status())
	}
	if uop.SenderTag() != 99 {
		t.Fatalf("sender tag: got %d", uop.SenderTag())
	}
	if string(uop.SenderAddr()) != "tx" {
		t.Fatalf("sender addr: got %q", uop.SenderAddr())
	}
	if !bytes.Equal(ubuf[:uop.Len()], []byte("stray")) {
		t.Fatalf("payload mismatch: %q", ubuf[:uop.Len()])
	}
}

func TestShortBufferTruncates(t *testing.T) {
	hub := NewHub()
	rx := hub.NewTransport("rx")
	tx := hub.NewTransport("tx")

	op, _ := rx.PostTaggedRecv(make([]byte, 4), 1, transport.MaskFull)
	ep, _ := tx.Dial([]byte("rx"))
	if _, err := ep.Send([]byte("way too long"), 1); err != nil {
		t.Fatalf("send: %v", err)
	}

	transport.Await(rx, op.Done)
	if op.Status() != transport.StatusTruncated {
		t.Fatalf("status: got %s, want truncated", op.Status())
	}
	if op.Len() != 4 {
		t.Fatalf("delivered length: got %d", op.Len())
	}
}

func TestCancelResolvesReceive(t *testing.T) {
	hub := NewHub()
	rx := hub.NewTransport("rx")

	op, _ := rx.PostTaggedRecv(make([]byte, 4), 1, transport.MaskFull)
	op.Cancel()
	if !op.Done() {
		t.Fatal("cancel must resolve the descriptor")
	}
	if op.Status() != transport.StatusCanceled {
		t.Fatalf("status: got %s, want canceled", op.Status())
	}
	// Canceling again is a no-op.
	op.Cancel()
}

func TestDialUnknownPeerFails(t *testing.T) {
	hub := NewHub()
	tx := hub.NewTransport("tx")
	if _, err := tx.Dial([]byte("nobody")); err == nil {
		t.Fatal("expected dial error for unknown peer")
	}
}

func TestPostAfterCloseFails(t *testing.T) {
	hub := NewHub()
	rx := hub.NewTransport("rx")
	pending, _ := rx.PostTaggedRecv(make([]byte, 4), 1, transport.MaskFull)
	if err := rx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !pending.Done() || pending.Status() != transport.StatusCanceled {
		t.Fatal("close must cancel outstanding receives")
	}
	if _, err := rx.PostTaggedRecv(make([]byte, 4), 1, transport.MaskFull); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
