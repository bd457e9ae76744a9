// Package logging holds the module-wide logger cell.
//
// glbridge is a library: by default it produces no log output. The root
// package exposes SetLogger; every other package pulls the shared logger
// from here, which avoids import cycles between the public sub-packages
// and the root facade.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler silently discards all log records. Enabled returns false so
// callers skip attribute formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := slog.New(nopHandler{})
	loggerPtr.Store(l)
}

// Logger returns the current shared logger. Never nil.
func Logger() *slog.Logger { return loggerPtr.Load() }

// SetLogger swaps the shared logger. Passing nil restores the silent
// default. Safe for concurrent use.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}
