package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Unknown level strings fall back to
// info rather than failing startup.
func NewLogger(level string) (*zap.Logger, error) {
	return build(level, nil)
}

// NewFileLogger tees JSON log lines into path as well as stderr. The trading
// loop uses it for the trade log so fills survive a lost terminal.
func NewFileLogger(path, level string) (*zap.Logger, error) {
	return build(level, []string{"stderr", path})
}

func build(level string, outputs []string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(l)
	if len(outputs) > 0 {
		config.OutputPaths = outputs
	}

	return config.Build()
}
