package testlog

import (
	"testing"

	"github.com/rs/zerolog"
)

// New returns a logger that writes through t.Log, so output only shows for
// failing or verbose runs.
func New(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).With().Str("test", t.Name()).Logger()
}
