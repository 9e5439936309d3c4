// Package wireup implements the two-message address-exchange handshake. A
// requester sends a Req carrying its own serialized transport address; the
// responder dials that address back and answers with an empty Ack. The
// exchange proves liveness and teaches the responder how to reach the
// requester; no endpoint stays open afterward.
package wireup

import (
	"errors"
	"fmt"

	"github.com/danmuck/tagrpc/internal/wire"
)

// Tag is the reserved match tag all wireup traffic uses. It is distinct from
// any data-plane tag.
const Tag uint64 = 17

// HeaderLen is the fixed part of the wire format: op (1 byte), senderID
// (8 bytes), addrLen (8 bytes). All fields are big-endian; addrLen is fixed
// at 8 bytes regardless of platform word size.
const HeaderLen = 1 + 8 + 8

// Op identifies a wireup message type.
type Op uint8

const (
	// OpReq requests an address exchange; the body carries the sender's
	// serialized address.
	OpReq Op = 1
	// OpAck acknowledges a Req; it carries no address.
	OpAck Op = 2
)

func (o Op) String() string {
	switch o {
	case OpReq:
		return "req"
	case OpAck:
		return "ack"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

var (
	ErrShortHeader   = errors.New("wireup: message shorter than header")
	ErrAddrTruncated = errors.New("wireup: address length exceeds payload")
	ErrUnknownOp     = errors.New("wireup: unknown op")
)

// Message is one wireup datagram. SenderID is carried on the wire but not
// yet interpreted by either side.
type Message struct {
	Op       Op
	SenderID uint64
	Addr     []byte
}

// EncodedSize is the exact number of bytes Encode produces.
func (m Message) EncodedSize() int { return HeaderLen + len(m.Addr) }

// Encode serializes the message.
func (m Message) Encode() []byte {
	buf := make([]byte, m.EncodedSize())
	e := wire.NewEncoder(buf)
	e.PutUint8(uint8(m.Op))
	e.PutUint64(m.SenderID)
	e.PutUint64(uint64(len(m.Addr)))
	e.PutBytes(m.Addr)
	return buf
}

// Decode parses a wireup message from a delivered payload. It rejects
// payloads shorter than the fixed header, address lengths that overrun the
// payload, and op bytes outside the known set.
func Decode(buf []byte) (Message, error) {
	d := wire.NewDecoder(buf)
	op, err := d.Uint8()
	if err != nil {
		return Message{}, ErrShortHeader
	}
	senderID, err := d.Uint64()
	if err != nil {
		return Message{}, ErrShortHeader
	}
	addrLen, err := d.Uint64()
	if err != nil {
		return Message{}, ErrShortHeader
	}
	if addrLen > uint64(d.Remaining()) {
		return Message{}, fmt.Errorf("%w: addrlen=%d payload=%d", ErrAddrTruncated, addrLen, d.Remaining())
	}
	m := Message{Op: Op(op), SenderID: senderID}
	if m.Op != OpReq && m.Op != OpAck {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownOp, op)
	}
	if addrLen > 0 {
		m.Addr, _ = d.Bytes(int(addrLen))
	}
	return m, nil
}
