// Package logging builds the process slog.Logger: JSON or tint text output,
// optional lumberjack file rotation, and request IDs pulled from context.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/af-corp/kinsafe/internal/config"
)

const logFileName = "kinsafe.log"

// New builds a logger from the telemetry config and installs it as the
// slog default. The returned closer flushes the rotating file, if any.
func New(cfg config.TelemetryConfig) (*slog.Logger, io.Closer, error) {
	level := ParseLevel(cfg.LogLevel)

	var (
		writer io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
		toFile bool
	)
	if dir := strings.TrimSpace(cfg.LogDir); dir != "" {
		if cfg.LogMaxSize <= 0 || cfg.LogBackups <= 0 || cfg.LogMaxAge <= 0 {
			return nil, nil, fmt.Errorf(
				"invalid log config: size=%d backups=%d age_days=%d",
				cfg.LogMaxSize, cfg.LogBackups, cfg.LogMaxAge,
			)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(dir, logFileName),
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogBackups,
			MaxAge:     cfg.LogMaxAge,
			Compress:   true,
		}
		writer = io.MultiWriter(os.Stdout, file)
		closer = file
		toFile = true
	}

	logger := slog.New(NewHandler(writer, cfg.LogFormat, level, toFile))
	slog.SetDefault(logger)
	if toFile {
		logger.Info("file logging enabled", "dir", cfg.LogDir)
	}
	return logger, closer, nil
}

// NewHandler returns the handler for format ("json" or "text"), wrapped so
// request IDs in the context are attached to every record.
func NewHandler(w io.Writer, format string, level slog.Level, noColor bool) slog.Handler {
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text", "tint", "console":
		h = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
			NoColor:    noColor,
		})
	default:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return &contextHandler{inner: h}
}

func ParseLevel(level string) slog.Level {
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

type ctxKey struct{}

// WithRequestID stores id in ctx for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestIDFromContext returns the request ID stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// contextHandler adds request_id to records logged with a request context.
type contextHandler struct {
	inner slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, record slog.Record) error {
	if id := RequestIDFromContext(ctx); id != "" {
		record.AddAttrs(slog.String("request_id", id))
	}
	if err := h.inner.Handle(ctx, record); err != nil {
		return fmt.Errorf("handle log record: %w", err)
	}
	return nil
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name)}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
