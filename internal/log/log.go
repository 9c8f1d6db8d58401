// Package log holds the default logger setup and the logger carried in a
// context.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type loggerCtxKey struct{}

// Debug switches the default logger to debug level.
var Debug bool

func InitializeDefaultLogger() {
	InitializeLogger(os.Stdout)
}

// InitializeLogger makes a text logger writing to w the default logger.
func InitializeLogger(w io.Writer) {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level()}))
	slog.SetDefault(logger)
}

func level() slog.Level {
	if Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerCtxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
