// Package logger configures slog for the relay and carries request-scoped
// loggers through contexts.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey struct{}

// L is the process logger. Init replaces it; request handlers should prefer FromContext.
var (
	L      = slog.Default()
	logKey = ctxKey{}
)

// Init installs a stdout logger as both L and the slog default.
func Init(level, format string) {
	L = New(os.Stdout, level, format).With(slog.String("app", "asset-relay"))
	slog.SetDefault(L)
}

// New builds a text or json logger on w. Unknown formats fall back to text.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts))
	default:
		return slog.New(slog.NewTextHandler(w, opts))
	}
}

// FromContext returns the request logger stored in ctx, else L.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return L
	}
	if l, ok := ctx.Value(logKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return L
}

// WithContext returns a copy of ctx carrying l.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, logKey, l)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// PrintLogger adapts a slog.Logger to the Println/Printf shape used by
// third-party clients that expose package-level loggers.
type PrintLogger struct {
	logger *slog.Logger
	level  slog.Level
}

// NewPrintLogger returns a PrintLogger emitting every line at level.
func NewPrintLogger(l *slog.Logger, level slog.Level) *PrintLogger {
	if l == nil {
		l = L
	}
	return &PrintLogger{logger: l, level: level}
}

// Println logs the space-joined values as one record.
func (p *PrintLogger) Println(v ...any) {
	p.logger.Log(context.Background(), p.level, strings.TrimSpace(fmt.Sprintln(v...)))
}

// Printf logs the formatted message as one record.
func (p *PrintLogger) Printf(format string, v ...any) {
	p.logger.Log(context.Background(), p.level, strings.TrimSpace(fmt.Sprintf(format, v...)))
}
