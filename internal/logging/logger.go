package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap with context-aware methods.
type Logger struct {
	zap *zap.Logger
}

// NewLogger creates a logger writing to stdout.
func NewLogger(cfg *Config) (*Logger, error) {
	return newLogger(cfg, zapcore.Lock(os.Stdout))
}

// NewStderrLogger creates a logger writing to stderr, for commands whose
// stdout carries a protocol.
func NewStderrLogger(cfg *Config) (*Logger, error) {
	return newLogger(cfg, zapcore.Lock(os.Stderr))
}

func newLogger(cfg *Config, ws zapcore.WriteSyncer) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
	}
	core := newSampledCore(zapcore.NewCore(encoder, ws, cfg.Level), cfg.Sampling)

	var opts []zap.Option
	if cfg.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if cfg.Stacktrace != 0 {
		opts = append(opts, zap.AddStacktrace(cfg.Stacktrace))
	}

	z := zap.New(core, opts...)
	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		z = z.With(fields...)
	}
	return &Logger{zap: z}, nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Debug(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Info(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Warn(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Error(msg, append(ContextFields(ctx), fields...)...)
}

// With returns a child logger with constant fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// Named returns a child logger with a name segment.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name)}
}

// Underlying returns the zap logger for components that take *zap.Logger.
func (l *Logger) Underlying() *zap.Logger {
	return l.zap
}

// Sync flushes buffered entries. Sync errors from stdout/stderr are ignored.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

// On Linux, syncing stdout/stderr returns EINVAL or ENOTTY.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
