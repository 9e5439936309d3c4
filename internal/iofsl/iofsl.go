// Package iofsl implements the legacy wire-compatibility prefixes: every
// request opens with a fixed 4-byte protocol id and every response opens
// with a fixed 4-byte status, both big-endian. Peers that still speak the
// old dispatch protocol read these fields before anything else.
package iofsl

import (
	"encoding/binary"
	"errors"
)

const (
	// IDSize is the byte length of the request id prefix.
	IDSize = 4
	// StatusSize is the byte length of the response status prefix.
	StatusSize = 4

	// ProtocolGeneric is the id written on every outbound request.
	ProtocolGeneric uint32 = 16

	// StatusOK is the status written on every successful response.
	StatusOK uint32 = 0
)

var ErrShortPrefix = errors.New("iofsl: buffer shorter than prefix")

// EncodeID writes the request id prefix into the front of buf.
func EncodeID(buf []byte) error {
	if len(buf) < IDSize {
		return ErrShortPrefix
	}
	binary.BigEndian.PutUint32(buf, ProtocolGeneric)
	return nil
}

// DecodeID reads the request id prefix from the front of buf.
func DecodeID(buf []byte) (uint32, error) {
	if len(buf) < IDSize {
		return 0, ErrShortPrefix
	}
	return binary.BigEndian.Uint32(buf), nil
}

// EncodeStatus writes a response status prefix into the front of buf.
func EncodeStatus(buf []byte, status uint32) error {
	if len(buf) < StatusSize {
		return ErrShortPrefix
	}
	binary.BigEndian.PutUint32(buf, status)
	return nil
}

// DecodeStatus reads the response status prefix from the front of buf.
func DecodeStatus(buf []byte) (uint32, error) {
	if len(buf) < StatusSize {
		return 0, ErrShortPrefix
	}
	return binary.BigEndian.Uint32(buf), nil
}
