// Package runlog provides the structured logger shared across the shatter
// pipeline: a thin zap wrapper that attaches call-site fields (tile,
// time_slot, xi, yi) rather than formatting strings into messages.
package runlog

import (
	"go.uber.org/zap"
)

// Logger wraps a *zap.SugaredLogger with the field vocabulary the
// coordinator and its collaborators use throughout a run.
type Logger struct {
	s *zap.SugaredLogger
}

// New builds a production zap logger (JSON encoding, Info level) wrapped
// as a Logger. Callers needing development-friendly console output should
// build their own *zap.Logger and use Wrap instead.
func New() (*Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return Wrap(z), nil
}

// Wrap adapts an existing *zap.Logger.
func Wrap(z *zap.Logger) *Logger {
	return &Logger{s: z.Sugar()}
}

// Sync flushes any buffered log entries; callers should defer this at
// process exit.
func (l *Logger) Sync() error { return l.s.Sync() }

func (l *Logger) Infow(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

// WithTile returns a child logger with the tile's rectangle attached to
// every subsequent log line, the way a per-request logger is scoped in
// protomaps-go-pmtiles.
func (l *Logger) WithTile(xi0, yi0, xi1, yi1 uint64) *Logger {
	return &Logger{s: l.s.With("xi0", xi0, "yi0", yi0, "xi1", xi1, "yi1", yi1)}
}

// WithTimeSlot returns a child logger scoped to a time slot.
func (l *Logger) WithTimeSlot(timeSlot int64) *Logger {
	return &Logger{s: l.s.With("time_slot", timeSlot)}
}
