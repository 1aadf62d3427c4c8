// Package logger is the process-wide zap logger. Helpers take a context and
// add the trace, request and run ids stored in it.
package logger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"nodeo/pkg/utils/contextkey"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level, encoding and sinks. Paths are files or stdout/stderr.
type Config struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or console
	OutputPath string `yaml:"outputPath"`
	ErrorPath  string `yaml:"errorPath"`
}

// Logger pairs a zap logger with the function closing its file sinks.
type Logger struct {
	zap   *zap.Logger
	close func()
}

var global atomic.Pointer[Logger]

// Init replaces the global logger.
func Init(cfg Config) error {
	l, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	if old := global.Swap(l); old != nil {
		_ = old.zap.Sync()
		old.close()
	}
	return nil
}

// NewLogger builds a logger writing everything at Level to OutputPath and
// mirroring warnings and errors to ErrorPath.
func NewLogger(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	out, closeOut, err := zap.Open(orDefault(cfg.OutputPath, "stdout"))
	if err != nil {
		return nil, fmt.Errorf("open log output: %w", err)
	}
	errOut, closeErr, err := zap.Open(orDefault(cfg.ErrorPath, "stderr"))
	if err != nil {
		closeOut()
		return nil, fmt.Errorf("open error log output: %w", err)
	}

	enc := newEncoder(cfg.Format)
	warnAndUp := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= max(level, zapcore.WarnLevel)
	})
	core := zapcore.NewTee(
		zapcore.NewCore(enc, out, level),
		zapcore.NewCore(enc, errOut, warnAndUp),
	)
	return &Logger{
		zap:   zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel)),
		close: func() { closeOut(); closeErr() },
	}, nil
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	if format == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (l *Logger) Sync() error { return l.zap.Sync() }

// WithContext returns the zap logger annotated with ctx's ids.
func (l *Logger) WithContext(ctx context.Context) *zap.Logger {
	if fields := contextFields(ctx); len(fields) > 0 {
		return l.zap.With(fields...)
	}
	return l.zap
}

var contextKeys = []struct {
	key   any
	field string
}{
	{contextkey.TraceID, "trace_id"},
	{contextkey.RequestID, "request_id"},
	{contextkey.RunID, "run_id"},
}

func contextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	for _, k := range contextKeys {
		if v := ctx.Value(k.key); v != nil {
			fields = append(fields, zap.String(k.field, fmt.Sprint(v)))
		}
	}
	return fields
}

// WithRunID tags ctx so later log lines carry the run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, contextkey.RunID, runID)
}

func log(ctx context.Context, level zapcore.Level, msg string, fields []zap.Field) {
	l := global.Load()
	if l == nil {
		return
	}
	// One extra frame for this helper.
	z := l.WithContext(ctx).WithOptions(zap.AddCallerSkip(1))
	if ce := z.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	log(ctx, zapcore.InfoLevel, msg, fields)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	log(ctx, zapcore.WarnLevel, msg, fields)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	log(ctx, zapcore.ErrorLevel, msg, fields)
}

// Sync flushes the global logger, if any.
func Sync() error {
	if l := global.Load(); l != nil {
		return l.Sync()
	}
	return nil
}
