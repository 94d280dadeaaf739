// Package logger builds the zap loggers used by the binaries.
package logger

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	File          string        `mapstructure:"file"`           // JSON log file, empty disables it
	Development   bool          `mapstructure:"development"`    // debug level and dev encoder
	Console       bool          `mapstructure:"console"`        // human readable stdout output
	FlushInterval time.Duration `mapstructure:"flush_interval"` // file buffer flush period
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	return Config{
		File:          "logs/spotbot.log",
		Console:       true,
		FlushInterval: time.Second,
	}
}

func encoderConfig(development bool) zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	if development {
		ec = zap.NewDevelopmentEncoderConfig()
	}
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return ec
}

func level(development bool) zapcore.Level {
	if development {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// New builds a logger teeing a console encoder on stdout and a JSON encoder
// into cfg.File. The returned closer flushes and closes the file.
func New(cfg Config) (*zap.Logger, func() error, error) {
	ec := encoderConfig(cfg.Development)
	lvl := level(cfg.Development)

	var (
		cores  []zapcore.Core
		closer = func() error { return nil }
	)
	if cfg.Console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(ec), zapcore.Lock(os.Stdout), lvl))
	}
	if cfg.File != "" {
		w, err := NewSafeFileWriter(cfg.File, cfg.FlushInterval)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(ec), w, lvl))
		closer = w.Close
	}
	if len(cores) == 0 {
		return zap.NewNop(), closer, nil
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), closer, nil
}

// NewBuffered builds a logger that writes JSON only into buf and the log
// file, leaving the terminal to a full-screen UI.
func NewBuffered(cfg Config, buf *LogBuffer) (*zap.Logger, func() error, error) {
	if buf == nil {
		return nil, nil, errors.New("buffer is required")
	}
	cfg.Console = false
	base, closer, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}

	ec := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	bufCore := zapcore.NewCore(zapcore.NewJSONEncoder(ec), zapcore.AddSync(buf), level(cfg.Development))

	return zap.New(zapcore.NewTee(base.Core(), bufCore), zap.AddCaller()), closer, nil
}

// Sync flushes l, ignoring the errors stdout and stderr return when they are
// terminals.
func Sync(l *zap.Logger) error {
	err := l.Sync()
	if err == nil || errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}
