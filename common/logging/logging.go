// Package logging initializes the logging subsystem shared by all
// distbench binaries and derives the per-component loggers.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
}

// New builds the process logger: console encoding on stderr, with colored
// level names when stderr is a terminal. The returned level can be adjusted
// at runtime.
func New(cfg *Config) (*zap.SugaredLogger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(cfg.Level)

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if term.IsTerminal(int(os.Stderr.Fd())) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		level,
	)

	return zap.New(core).Sugar(), level
}

// Named derives a component logger, appending each name to the logger's
// dot-separated name chain. Components take their loggers through this
// helper so the chain reflects the ownership hierarchy.
func Named(log *zap.SugaredLogger, names ...string) *zap.SugaredLogger {
	for _, name := range names {
		log = log.Named(name)
	}
	return log
}
