package iofsl

import (
	"errors"
	"testing"
)

func TestIDPrefixRoundTrip(t *testing.T) {
	buf := make([]byte, IDSize)
	if err := EncodeID(buf); err != nil {
		t.Fatalf("encode id: %v", err)
	}
	id, err := DecodeID(buf)
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	if id != ProtocolGeneric {
		t.Fatalf("id: got %d, want %d", id, ProtocolGeneric)
	}
}

func TestStatusPrefixRoundTrip(t *testing.T) {
	buf := make([]byte, StatusSize)
	if err := EncodeStatus(buf, StatusOK); err != nil {
		t.Fatalf("encode status: %v", err)
	}
	status, err := DecodeStatus(buf)
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("status: got %d, want %d", status, StatusOK)
	}
}

func TestShortBuffersRejected(t *testing.T) {
	short := make([]byte, 3)
	if err := EncodeID(short); !errors.Is(err, ErrShortPrefix) {
		t.Fatalf("encode id: expected ErrShortPrefix, got %v", err)
	}
	if _, err := DecodeID(short); !errors.Is(err, ErrShortPrefix) {
		t.Fatalf("decode id: expected ErrShortPrefix, got %v", err)
	}
	if err := EncodeStatus(short, 0); !errors.Is(err, ErrShortPrefix) {
		t.Fatalf("encode status: expected ErrShortPrefix, got %v", err)
	}
	if _, err := DecodeStatus(short); !errors.Is(err, ErrShortPrefix) {
		t.Fatalf("decode status: expected ErrShortPrefix, got %v", err)
	}
}
