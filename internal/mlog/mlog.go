// Package mlog is a thin wrapper around log/slog giving every daemon
// component a consistently named logger without each package wiring
// its own handler.
//
// No third-party structured logging crate appears anywhere in the
// reference corpus (the teacher repo logs with the standard library's
// "log" package), so this stays on log/slog rather than reaching for
// zerolog or zap.
package mlog

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mu     sync.Mutex
	base   = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

// SetHandler replaces the process-wide handler, used by cmd/mujinad to
// switch to JSON output or raise the level from configuration.
func SetHandler(h slog.Handler) {
	mu.Lock()
	defer mu.Unlock()
	base = slog.New(h)
}

// For returns a logger tagged with a "component" attribute, e.g.
// mlog.For("board").
func For(component string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base.With("component", component)
}
