package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. Text output on stdout; services receive it
// through options so tests can swap in a silent logger.
func New() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}
