// Package logging builds the process logger (ambient stack, §1.1 of
// SPEC_FULL.md): a small log/slog wrapper for server-lifecycle concerns
// (startup, lease renewal, sweeper ticks) that sit above per-execution
// emit.Event observability. Grounded on kadirpekel/hector's
// pkg/logger.Init/GetLogger, trimmed to what hensu's process logger needs —
// no colorized/filtering handlers, since those serve a CLI's terminal
// output, not a hosted service's structured logs.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLevel converts a config-supplied level name to a slog.Level,
// defaulting to Info for an empty or unrecognized value.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a JSON-handler process logger at level, writing to stderr.
func New(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(level)}))
}
