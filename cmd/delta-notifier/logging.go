package main

import (
	"io"
	"log/slog"
	"os"
)

func setupLogger(level, format string) *slog.Logger {
	return newLogger(os.Stdout, level, format)
}

// newLogger builds the process logger. Unknown levels fall back to info and
// unknown formats to JSON; config validation rejects both before this runs.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl <= slog.LevelDebug}

	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", appName, "version", Version, "pid", os.Getpid())
}
