// Package testlog hands tests a logger that writes through t.Log.
package testlog

import (
	"testing"

	"github.com/rs/zerolog"
)

// New returns a debug-level logger bound to t.
func New(t testing.TB) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel).With().Str("test", t.Name()).Logger()
}
