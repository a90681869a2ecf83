package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init sets the process-wide logger once.
func Init(z *zap.SugaredLogger) { global = z }

// Logger is what every package calls. It must return a non-nil *SugaredLogger.
func Logger() *zap.SugaredLogger {
	if global == nil {
		// In case someone logs before Init, return a no-op logger.
		return zap.NewNop().Sugar()
	}
	return global
}

// New builds a console logger writing to stderr at the requested level.
func New(levelName string) (*zap.SugaredLogger, error) {
	if err := SetLevel(levelName); err != nil {
		return nil, err
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")

	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return z.Sugar(), nil
}

// SetLevel changes the level of loggers created by New.
func SetLevel(levelName string) error {
	if levelName == "" {
		return nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(levelName))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", levelName, err)
	}
	level.SetLevel(l)
	return nil
}

// Level returns the current level name.
func Level() string {
	return level.Level().String()
}
