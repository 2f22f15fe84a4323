// Package logging is the process-wide structured logger. Every component
// logs through the context-aware helpers here, so a line emitted deep in
// the engine still carries the request correlation id and, once a
// connection has authenticated, the acting user and session ids.
package logging

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

// Context keys the helpers read when decorating a log entry. The key
// string doubles as the emitted field name.
const (
	CorrelationIDKey contextKey = "correlation_id"
	UserIDKey        contextKey = "user_id"
	SessionIDKey     contextKey = "session_id"
	RoomIDKey        contextKey = "room_id"
)

// contextKeys is the lookup order for field decoration.
var contextKeys = []contextKey{CorrelationIDKey, UserIDKey, SessionIDKey, RoomIDKey}

const serviceName = "lairchat-server"

// Initialize builds the global logger. Development mode gets colored
// console output; production gets JSON with ISO-8601 timestamps. Calling
// it again is a no-op.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}

		logger, err = cfg.Build(zap.AddCallerSkip(1))
	})
	return err
}

// GetLogger returns the global logger, or a throwaway development logger
// when called before Initialize (tests, early startup).
func GetLogger() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// WithCaller stamps the authenticated caller onto ctx so subsequent log
// lines carry user_id and session_id without threading them by hand.
// Adapters call this once a connection passes authentication.
func WithCaller(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithRoom stamps the room a log line concerns.
func WithRoom(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, RoomIDKey, roomID)
}

// Info logs a message at InfoLevel.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Info(msg, contextFields(ctx, fields)...)
}

// Warn logs a message at WarnLevel.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, contextFields(ctx, fields)...)
}

// Error logs a message at ErrorLevel.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, contextFields(ctx, fields)...)
}

// Fatal logs a message at FatalLevel, then exits.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, contextFields(ctx, fields)...)
}

// contextFields appends whichever identifiers the context carries, plus
// the service tag.
func contextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx != nil {
		for _, key := range contextKeys {
			if v, ok := ctx.Value(key).(string); ok && v != "" {
				fields = append(fields, zap.String(string(key), v))
			}
		}
	}
	return append(fields, zap.String("service", serviceName))
}

// RedactEmail masks the local part of an email address before it reaches a
// log line. Addresses without an '@' are masked entirely.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return "***" + email[at:]
	}
	return "***"
}
