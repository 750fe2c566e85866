package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logDirMode = 0o700

type Options struct {
	Level string
	// File is a path, "stderr", "stdout" or empty to discard logs.
	File        string
	Development bool
}

// New builds the process logger. Logs go to a file by default so they never
// interleave with the live view on the terminal.
func New(opts Options) (*zap.Logger, error) {
	output := strings.TrimSpace(opts.File)
	if output == "" {
		return zap.NewNop(), nil
	}

	level, err := zap.ParseAtomicLevel(defaultString(opts.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.Sampling = nil
	}
	cfg.Level = level

	if output != "stderr" && output != "stdout" {
		if err := os.MkdirAll(filepath.Dir(output), logDirMode); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	cfg.OutputPaths = []string{output}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func defaultString(value string, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
