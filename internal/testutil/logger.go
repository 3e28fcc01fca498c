package testutil

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
)

// NewTestLogger creates a debug-level test logger that writes to t.Log, so output only
// shows for failing tests or with -v.
func NewTestLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(&testLogWriter{t: t}).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

// CaptureLogger returns a logger that records every event as JSON lines in buf.
func CaptureLogger(buf io.Writer) zerolog.Logger {
	return zerolog.New(buf).Level(zerolog.DebugLevel)
}

// testLogWriter wraps testing.T to implement io.Writer.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}
