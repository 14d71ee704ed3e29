package log

import (
	"beacon_p2p/internal/config"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// Setup builds the process logger from c and installs it as the package
// logger and zap's global logger. Callers should defer Sync.
func Setup(c config.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.Level) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	if c.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var cores []zapcore.Core
	for _, out := range c.Outputs {
		switch strings.ToLower(out) {
		case "stdout":
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
		case "stderr":
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
		default:
			ws, err := fileSyncer(out, c.Rotation)
			if err != nil {
				return nil, err
			}
			cores = append(cores, zapcore.NewCore(encoder, ws, level))
		}
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel)}
	if c.Development {
		opts = append(opts, zap.Development())
	}
	l := zap.New(zapcore.NewTee(cores...), opts...)
	logger.Store(l)
	zap.ReplaceGlobals(l)
	return l, nil
}

func fileSyncer(path string, r config.RotationConfig) (zapcore.WriteSyncer, error) {
	if r.Enable {
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    max(r.MaxSizeMB, 10),
			MaxBackups: max(r.MaxBackups, 1),
			MaxAge:     max(r.MaxAgeDays, 7),
			Compress:   r.Compress,
		}), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(f), nil
}

// L returns the current logger, for callers that want a named child.
func L() *zap.Logger { return logger.Load() }

func Debug(msg string, fields ...zap.Field) { logger.Load().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { logger.Load().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { logger.Load().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { logger.Load().Error(msg, fields...) }

func Fatal(msg string, fields ...zap.Field) { logger.Load().Fatal(msg, fields...) }

func Sync() error { return logger.Load().Sync() }
