// Package observability provides structured logging for the CLI and
// server.
//
// CLI commands log through the package-level CLILogger so command
// implementations never thread a logger through every call. The server
// builds its own logger from config and passes it down explicitly.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger for CLI commands. It defaults
// to a nop logger so library code can log unconditionally; InitCLILogger
// replaces it during command setup.
var CLILogger = zap.NewNop()

// InitCLILogger configures the package-level CLI logger.
//
// The CLI writes human-readable console output to stderr, keeping
// stdout free for command output. Verbose enables debug level.
func InitCLILogger(level string, verbose bool) error {
	logger, err := newLogger(level, verbose, "console")
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}

// NewServerLogger builds a structured JSON logger for server mode.
func NewServerLogger(level string) (*zap.Logger, error) {
	return newLogger(level, false, "json")
}

// Sync flushes buffered log entries. Safe to call on exit; sync errors
// on stderr are expected and ignored.
func Sync() {
	_ = CLILogger.Sync()
}

func newLogger(level string, verbose bool, encoding string) (*zap.Logger, error) {
	zapLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		zapLevel = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         encoding,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    encoderConfig(encoding),
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func encoderConfig(encoding string) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}
