package fisheye

import (
	"context"
	"log/slog"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// orNop returns l, or a silent logger when l is nil.
//
// Log levels used by fisheye:
//   - [slog.LevelDebug]: per-frame diagnostics (slot transitions, bypass copies)
//   - [slog.LevelInfo]: lifecycle events (device selected, program built, reallocation)
//   - [slog.LevelWarn]: non-fatal issues (backend fallback, frame execution failure)
//   - [slog.LevelError]: initialization failure, reported once per attempt
func orNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return newNopLogger()
	}
	return l
}
