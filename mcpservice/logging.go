package mcpservice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ggoodman/mcp-everything-go/mcp"
)

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")

// SlogLevel maps a protocol logging level onto slog. Levels without a slog
// counterpart collapse onto the nearest one.
func SlogLevel(level mcp.LoggingLevel) (slog.Level, error) {
	switch level {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug, nil
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		return slog.LevelInfo, nil
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn, nil
	case mcp.LoggingLevelError, mcp.LoggingLevelCritical, mcp.LoggingLevelAlert, mcp.LoggingLevelEmergency:
		return slog.LevelError, nil
	}
	return 0, ErrInvalidLoggingLevel
}

// ClientLogger forwards a log message to the invoking client as a
// notifications/message. Implementations drop messages below the level the
// client selected with logging/setLevel.
type ClientLogger func(ctx context.Context, level mcp.LoggingLevel, logger string, data any) error

type clientLoggerKey struct{}

// WithClientLogger returns a context carrying fn.
func WithClientLogger(ctx context.Context, fn ClientLogger) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, clientLoggerKey{}, fn)
}

// LogToClient sends a log message to the client of the current invocation.
// It is a no-op outside an invocation.
func LogToClient(ctx context.Context, level mcp.LoggingLevel, logger string, data any) error {
	fn, ok := ctx.Value(clientLoggerKey{}).(ClientLogger)
	if !ok {
		return nil
	}
	return fn(ctx, level, logger, data)
}
