package testhelpers

import (
	"io"
	"log/slog"
	"testing"

	"github.com/myrjola/coach/internal/logging"
)

// NewLogger creates a debug level logger writing to logSink such as [NewWriter].
func NewLogger(logSink io.Writer) *slog.Logger {
	return logging.NewLogger(logSink, slog.LevelDebug)
}

// TestLogger is shorthand for a logger that only shows up when t fails.
func TestLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return NewLogger(NewWriter(t))
}
