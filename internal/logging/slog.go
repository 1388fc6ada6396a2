package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	opLogger.Store(slog.New(handler).With("component", "nhook"))
}

// Op returns the operational logger used by the daemon and the query layer.
// Per-query records go through QueryLogger instead.
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetLevel changes the level of the operational logger.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString sets the log level from a string.
// Valid values: "debug", "info", "warn", "error". Unknown values are ignored.
func SetLevelFromString(level string) {
	switch level {
	case "debug", "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "info", "INFO":
		logLevel.Set(slog.LevelInfo)
	case "warn", "WARN", "warning", "WARNING":
		logLevel.Set(slog.LevelWarn)
	case "error", "ERROR":
		logLevel.Set(slog.LevelError)
	}
}

// DebugEnabled reports whether debug records would be emitted.
func DebugEnabled() bool {
	return logLevel.Level() <= slog.LevelDebug
}
