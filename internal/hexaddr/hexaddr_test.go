package hexaddr

import (
	"bytes"
	"errors"
	"testing"
)

func TestFormatParseRoundTrip(t *testing.T) {
	addr := []byte{0x7f, 0x00, 0x00, 0x01, 0x1f, 0x90}
	s := Format(addr)
	if s != "7f:00:00:01:1f:90" {
		t.Fatalf("format: got %q", s)
	}
	back, err := Parse(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !bytes.Equal(back, addr) {
		t.Fatalf("round trip mismatch: %v", back)
	}
}

func TestParseSingleDigitOctets(t *testing.T) {
	addr, err := Parse("0:a:F")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !bytes.Equal(addr, []byte{0x00, 0x0a, 0x0f}) {
		t.Fatalf("got %v", addr)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "zz", "ab:", ":ab", "abc:01", "ab::01"} {
		if _, err := Parse(s); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Parse(%q): expected ErrMalformed, got %v", s, err)
		}
	}
}

func TestFormatEmpty(t *testing.T) {
	if s := Format(nil); s != "" {
		t.Fatalf("empty address formatted as %q", s)
	}
}
