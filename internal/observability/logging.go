// Package observability wraps log/slog and prometheus/client_golang with the
// conventions the runtime needs: redacted structured logging and a small
// set of Helper/transport/dispatch metrics.
package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger is a structured logger with session/conversation correlation and
// redaction of anything that looks like a bearer token or API key — the
// transport logs connection attempts and the manager logs unhandled
// envelopes/errors, both paths a raw auth token could otherwise leak
// through.
type Logger struct {
	logger  *slog.Logger
	config  LogConfig
	redacts []*regexp.Regexp
}

// LogConfig configures Logger construction.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Format is "json" or "text". Defaults to "json".
	Format string
	// Output defaults to os.Stdout.
	Output io.Writer
	// AddSource includes file:line in every record.
	AddSource bool
	// RedactPatterns are extra regexes merged with DefaultRedactPatterns.
	RedactPatterns []string
}

// ContextKey is the type for context keys this package recognizes.
type ContextKey string

const (
	// ConversationIDKey correlates log lines with a Session's conversationId.
	ConversationIDKey ContextKey = "conversation_id"
	// ExchangeIDKey correlates log lines with an Exchange id.
	ExchangeIDKey ContextKey = "exchange_id"
)

// DefaultRedactPatterns covers bearer tokens, API keys, and JWTs — the
// shapes a TokenProvider or a raw connection-query auth payload might emit
// into a log line.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
	`(?i)(secret|key|token)[\s:=]+["']?([a-fA-F0-9]{32,})["']?`,
}

// NewLogger builds a Logger from config, filling in defaults.
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}

	level := LogLevelFromString(config.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}

	var handler slog.Handler
	if config.Format == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(config.RedactPatterns))
	for _, pattern := range append(DefaultRedactPatterns, config.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{logger: slog.New(handler), config: config, redacts: redacts}
}

// WithContext returns a Logger that stamps conversation/exchange ids from
// ctx onto every subsequent record.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	if id, ok := ctx.Value(ConversationIDKey).(string); ok && id != "" {
		attrs = append(attrs, "conversation_id", id)
	}
	if id, ok := ctx.Value(ExchangeIDKey).(string); ok && id != "" {
		attrs = append(attrs, "exchange_id", id)
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(attrs...), config: l.config, redacts: l.redacts}
}

// WithFields returns a Logger with fixed key/value pairs attached to every
// subsequent record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), config: l.config, redacts: l.redacts}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)
	redacted := make([]any, len(args))
	for i, a := range args {
		redacted[i] = l.redactValue(a)
	}
	l.logger.Log(ctx, level, msg, redacted...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	case map[string]any:
		return l.redactMap(val)
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func (l *Logger) redactMap(m map[string]any) map[string]any {
	sensitive := map[string]bool{
		"password": true, "passwd": true, "secret": true, "token": true,
		"api_key": true, "apikey": true, "authorization": true, "auth": true,
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		key := strings.ToLower(strings.ReplaceAll(k, "-", "_"))
		if sensitive[key] {
			out[k] = "[REDACTED]"
		} else {
			out[k] = l.redactValue(v)
		}
	}
	return out
}

// Slog exposes the underlying *slog.Logger for packages (like entity.Base)
// that only need plain structured logging without redaction or context
// correlation.
func (l *Logger) Slog() *slog.Logger { return l.logger }

// LogLevelFromString parses a level name, defaulting to info.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
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

// WithConversationID attaches a conversation id to ctx for later WithContext
// calls.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

// WithExchangeID attaches an exchange id to ctx for later WithContext calls.
func WithExchangeID(ctx context.Context, exchangeID string) context.Context {
	return context.WithValue(ctx, ExchangeIDKey, exchangeID)
}
