package telemetry

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// LogOptions selects the handler and level of a logger.
type LogOptions struct {
	// Format is "json" (services), "text" or "pretty" (colored, interactive).
	Format  string
	Level   string
	NoColor bool
}

// NewLogger builds a logger writing to w. Sensitive attributes are redacted
// in every format.
func NewLogger(w io.Writer, opts LogOptions) *slog.Logger {
	level := ParseLevel(opts.Level)

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "pretty", "tint":
		handler = tint.NewHandler(w, &tint.Options{
			Level:       level,
			TimeFormat:  time.Kitchen,
			NoColor:     opts.NoColor,
			ReplaceAttr: RedactSensitiveData,
		})
	case "text":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: RedactSensitiveData,
		})
	default:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: RedactSensitiveData,
		})
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

var sensitiveKeys = map[string]bool{
	"password": true, "access_key": true, "secret_key": true, "token": true,
	"secret": true, "api_key": true, "private_key": true, "auth_token": true,
	"session_token": true, "dsn": true, "database_url": true, "redis_url": true,
}

// RedactSensitiveData scrubs credential-bearing attributes from log records.
func RedactSensitiveData(groups []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}
