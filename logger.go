// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip attribute formatting entirely,
// which keeps the per-draw debug logging free when it is turned off.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called while contexts submit from other goroutines.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for tilebatch and its backends.
// By default, tilebatch produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore the
// default silent behavior.
//
// Log levels used by tilebatch:
//   - [slog.LevelDebug]: flush reasons, hazard flushes, job emission
//   - [slog.LevelInfo]: device and backend lifecycle
//   - [slog.LevelWarn]: failed submissions and dropped work
//
// Example:
//
//	tilebatch.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger used by tilebatch.
// Backend packages call this to share the same configuration.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// slogger is the internal shorthand for Logger.
func slogger() *slog.Logger { return loggerPtr.Load() }
