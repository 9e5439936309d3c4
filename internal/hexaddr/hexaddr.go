// Package hexaddr formats serialized transport addresses as colon-separated
// hex octets, the form the server prints and the client accepts on the
// command line.
package hexaddr

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMalformed = errors.New("hexaddr: malformed address string")

// Format renders addr as lowercase hex octets separated by colons, e.g.
// "7f:00:00:01:1f:90". An empty address renders as the empty string.
func Format(addr []byte) string {
	var b strings.Builder
	for i, octet := range addr {
		if i > 0 {
			b.WriteByte(':')
		}
		fmt.Fprintf(&b, "%02x", octet)
	}
	return b.String()
}

// Parse reverses Format. Each field must be exactly one or two hex digits.
func Parse(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrMalformed)
	}
	fields := strings.Split(s, ":")
	addr := make([]byte, len(fields))
	for i, f := range fields {
		if len(f) == 0 || len(f) > 2 {
			return nil, fmt.Errorf("%w: octet %d", ErrMalformed, i)
		}
		var v uint64
		for _, c := range f {
			d, ok := hexDigit(c)
			if !ok {
				return nil, fmt.Errorf("%w: octet %d", ErrMalformed, i)
			}
			v = v<<4 | d
		}
		addr[i] = byte(v)
	}
	return addr, nil
}

func hexDigit(c rune) (uint64, bool) {
	switch {
	case c >= '0' && c <= '9':
		return uint64(c - '0'), true
	case c >= 'a' && c <= 'f':
		return uint64(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return uint64(c-'A') + 10, true
	default:
		return 0, false
	}
}
