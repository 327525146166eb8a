// Package logging builds the zap logger used by the trainer.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where log lines go.
type Options struct {
	Display bool   // write to stdout
	SaveTo  string // append to this file when set
	Debug   bool   // include debug lines
}

// NewLoggerConfig returns the console encoder configuration: ISO8601
// timestamps, capitalized levels and no stack traces.
func NewLoggerConfig() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      zapcore.OmitKey,
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// Setup builds a logger writing to stdout and/or a file. With neither
// destination it returns a no-op logger.
func Setup(opts Options) (*zap.SugaredLogger, error) {
	var outputs []string
	if opts.Display {
		outputs = append(outputs, "stdout")
	}
	if opts.SaveTo != "" {
		if dir := filepath.Dir(opts.SaveTo); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		outputs = append(outputs, opts.SaveTo)
	}
	if len(outputs) == 0 {
		return zap.NewNop().Sugar(), nil
	}

	cfg := NewLoggerConfig()
	cfg.OutputPaths = outputs
	if opts.Debug {
		cfg.Level.SetLevel(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
