// Package wire provides bounded big-endian cursors over caller-owned
// buffers. A Decoder is the decode context a call handle owns until its
// input is consumed; an Encoder writes a response into a buffer that was
// sized up front.
package wire

import (
	"encoding/binary"
	"errors"
)

var (
	ErrShortBuffer = errors.New("wire: read past end of buffer")
	ErrOverflow    = errors.New("wire: write past end of buffer")
)

// Decoder reads from the front of a fixed byte slice. The first failed read
// sticks: every later call returns the same error.
type Decoder struct {
	buf []byte
	off int
	err error
}

func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

func (d *Decoder) take(n int) ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.off+n > len(d.buf) {
		d.err = ErrShortBuffer
		return nil, d.err
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *Decoder) Uint8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *Decoder) Uint64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Bytes copies the next n bytes out of the buffer.
func (d *Decoder) Bytes(n int) ([]byte, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (d *Decoder) String(n int) (string, error) {
	b, err := d.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Remaining reports how many bytes are left to read.
func (d *Decoder) Remaining() int {
	if d.err != nil {
		return 0
	}
	return len(d.buf) - d.off
}

func (d *Decoder) Err() error { return d.err }

// Encoder writes to the front of a fixed byte slice. The first failed write
// sticks.
type Encoder struct {
	buf []byte
	off int
	err error
}

func NewEncoder(buf []byte) *Encoder { return &Encoder{buf: buf} }

func (e *Encoder) reserve(n int) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.off+n > len(e.buf) {
		e.err = ErrOverflow
		return nil, e.err
	}
	b := e.buf[e.off : e.off+n]
	e.off += n
	return b, nil
}

func (e *Encoder) PutUint8(v uint8) error {
	b, err := e.reserve(1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

func (e *Encoder) PutUint32(v uint32) error {
	b, err := e.reserve(4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b, v)
	return nil
}

func (e *Encoder) PutUint64(v uint64) error {
	b, err := e.reserve(8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b, v)
	return nil
}

func (e *Encoder) PutBytes(v []byte) error {
	b, err := e.reserve(len(v))
	if err != nil {
		return err
	}
	copy(b, v)
	return nil
}

func (e *Encoder) PutString(v string) error {
	b, err := e.reserve(len(v))
	if err != nil {
		return err
	}
	copy(b, v)
	return nil
}

// Len reports how many bytes have been written.
func (e *Encoder) Len() int { return e.off }

func (e *Encoder) Err() error { return e.err }
