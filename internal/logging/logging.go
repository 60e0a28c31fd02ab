package logging

import (
	"io"
	"os"

	"github.com/decred/slog"
)

// Backend hands out subsystem loggers that share a writer and a level.
type Backend struct {
	backend *slog.Backend
	level   slog.Level
}

// New builds a backend writing to w. Unknown levels fall back to info.
func New(w io.Writer, level string) *Backend {
	if w == nil {
		w = os.Stdout
	}
	lvl, ok := slog.LevelFromString(level)
	if !ok {
		lvl = slog.LevelInfo
	}
	return &Backend{
		backend: slog.NewBackend(w),
		level:   lvl,
	}
}

// Logger returns a logger tagged with the given subsystem, e.g. "PRCH".
func (b *Backend) Logger(subsystem string) slog.Logger {
	l := b.backend.Logger(subsystem)
	l.SetLevel(b.level)
	return l
}

// OrDisabled returns log, or slog.Disabled when log is nil.
func OrDisabled(log slog.Logger) slog.Logger {
	if log == nil {
		return slog.Disabled
	}
	return log
}
