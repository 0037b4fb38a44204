// Package zaplog adapts a zap logger to core.Logger.
package zaplog

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Swind/go-vthread/core"
)

// Logger implements core.Logger on top of *zap.Logger.
type Logger struct {
	z *zap.Logger
}

var _ core.Logger = (*Logger)(nil)

// Wrap adapts z.
func Wrap(z *zap.Logger) *Logger {
	return &Logger{z: z}
}

// New builds a zap logger for level ("debug", "info", "warn", "error") and
// format ("console" or "json").
func New(level, format string) (*Logger, error) {
	lvl, err := core.ParseLevel(level)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, errors.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(lvl))
	cfg.DisableStacktrace = true

	z, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "building zap logger")
	}
	return Wrap(z), nil
}

func zapLevel(l core.Level) zapcore.Level {
	switch l {
	case core.LevelDebug:
		return zapcore.DebugLevel
	case core.LevelWarn:
		return zapcore.WarnLevel
	case core.LevelError:
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

func (l *Logger) Debug(msg string, fields ...core.Field) { l.z.Debug(msg, convert(fields)...) }
func (l *Logger) Info(msg string, fields ...core.Field)  { l.z.Info(msg, convert(fields)...) }
func (l *Logger) Warn(msg string, fields ...core.Field)  { l.z.Warn(msg, convert(fields)...) }
func (l *Logger) Error(msg string, fields ...core.Field) { l.z.Error(msg, convert(fields)...) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.z.Sync() }

// Zap returns the wrapped logger.
func (l *Logger) Zap() *zap.Logger { return l.z }

func convert(fields []core.Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		switch v := f.Value.(type) {
		case error:
			out[i] = zap.NamedError(f.Key, v)
		case core.TaskID:
			out[i] = zap.Uint64(f.Key, uint64(v))
		default:
			out[i] = zap.Any(f.Key, v)
		}
	}
	return out
}
