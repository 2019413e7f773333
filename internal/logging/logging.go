// Package logging holds the logger shared by the renderer packages.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler { return discardHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(discardHandler{}))
}

// SetLogger installs the logger used by every renderer package. Passing nil
// restores the default, which discards everything.
//
// Levels in use:
//   - Debug: per-frame diagnostics (acquired image, recorded barriers)
//   - Info: lifecycle events (device selected, swapchain recreated, timings)
//   - Warn: validation warnings, export failures
//   - Error: validation errors
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(discardHandler{})
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
