// Package logging sets up the JSON slog logger both binaries use, following
// the newLogger helper the teacher's cmd/agent and cmd/server mains used to
// define inline, generalized here to also support tee'ing to a --log file.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// New builds a JSON slog.Logger. With no logFile, it writes to stderr at
// verbose-or-info level. With a logFile, full logs go to the file and only
// Error-and-above still reaches stderr, so operators watching the terminal
// aren't flooded once file logging is active but still see fatal trouble.
// The returned close func must be called on shutdown; it is a no-op when no
// file was opened.
func New(verbose bool, logFile string) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if logFile == "" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), func() error { return nil }, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open log file: %w", err)
	}

	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})
	stderrHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(&fanoutHandler{handlers: [2]slog.Handler{fileHandler, stderrHandler}}), f.Close, nil
}

// fanoutHandler dispatches every record to each handler that has it enabled.
type fanoutHandler struct {
	handlers [2]slog.Handler
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanoutHandler{[2]slog.Handler{f.handlers[0].WithAttrs(attrs), f.handlers[1].WithAttrs(attrs)}}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	return &fanoutHandler{[2]slog.Handler{f.handlers[0].WithGroup(name), f.handlers[1].WithGroup(name)}}
}
