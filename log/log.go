// Package log provides the global loggers for the module. It is a thin
// wrapper around zap so that callers write log.L().Debug(...) without
// carrying logger handles through every constructor.
package log

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// GlobalConfig defines the global logger configurations.
type GlobalConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
	// Path, when set, also writes logs to a size-rotated file.
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
}

var (
	_globalMu      sync.RWMutex
	_globalLogger  *zap.Logger
	_sugaredLogger *zap.SugaredLogger
)

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	setLogger(l)
}

// L wraps zap global logger.
func L() *zap.Logger {
	_globalMu.RLock()
	l := _globalLogger
	_globalMu.RUnlock()
	return l
}

// S wraps zap global sugared logger.
func S() *zap.SugaredLogger {
	_globalMu.RLock()
	s := _sugaredLogger
	_globalMu.RUnlock()
	return s
}

// Init initializes the global logger from the given config. It replaces the
// default development logger installed at package load.
func Init(gc GlobalConfig) error {
	var level zapcore.Level
	if err := level.Set(nonEmpty(gc.Level, "info")); err != nil {
		return errors.Wrapf(err, "invalid log level %q", gc.Level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = nonEmpty(gc.Encoding, "json")
	l, err := cfg.Build()
	if err != nil {
		return errors.Wrap(err, "build logger")
	}
	if gc.Path != "" {
		rotator := zapcore.AddSync(&lumberjack.Logger{
			Filename:   gc.Path,
			MaxSize:    nonZero(gc.MaxSizeMB, 100),
			MaxBackups: nonZero(gc.MaxBackups, 10),
		})
		encoder := zapcore.NewJSONEncoder(cfg.EncoderConfig)
		fileCore := zapcore.NewCore(encoder, rotator, cfg.Level)
		l = l.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}
	setLogger(l)
	return nil
}

func setLogger(l *zap.Logger) {
	_globalMu.Lock()
	_globalLogger = l
	_sugaredLogger = l.Sugar()
	_globalMu.Unlock()
}

func nonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
