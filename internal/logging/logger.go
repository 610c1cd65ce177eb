package logging

import (
	"io"
	"log/slog"
	"os"
)

// NewStdoutHandler returns the JSON handler every process writes to stdout.
func NewStdoutHandler(level slog.Level) slog.Handler {
	return newJSONHandler(os.Stdout, level)
}

// Setup installs the stdout JSON logger as the slog default.
func Setup(level slog.Level) {
	slog.SetDefault(slog.New(NewStdoutHandler(level)))
}

func newJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}
