// Package logging builds the zap backed logr loggers used across training.
package logging

import (
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/pkg/errors"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels passed to logr.Logger.V.
const (
	DEBUG = 1
	TRACE = 2
)

// FileName returns the name of the log file of a run started at timestamp.
func FileName(timestamp string) string {
	return "log_" + timestamp + ".txt"
}

// New returns a logger writing human readable lines to stderr and JSON lines
// to path, both up to verbosity. The returned function flushes and closes the
// file. An empty path logs to stderr only.
func New(path string, verbosity int) (logr.Logger, func(), error) {
	level := uberzap.NewAtomicLevelAt(zapcore.Level(-verbosity))

	console := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)
	if path == "" {
		z := uberzap.New(console)
		return zapr.NewLogger(z), func() { _ = z.Sync() }, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return logr.Discard(), nil, errors.Wrap(err, "logging: create log directory")
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return logr.Discard(), nil, errors.Wrap(err, "logging: open log file")
	}
	file := zapcore.NewCore(
		zapcore.NewJSONEncoder(uberzap.NewProductionEncoderConfig()),
		zapcore.AddSync(f),
		level,
	)
	z := uberzap.New(zapcore.NewTee(console, file), uberzap.AddCaller())
	return zapr.NewLogger(z), func() {
		_ = z.Sync()
		f.Close()
	}, nil
}

func consoleConfig() zapcore.EncoderConfig {
	cfg := uberzap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.CallerKey = ""
	return cfg
}

// NewTestLogger creates a development logger at TRACE verbosity.
func NewTestLogger() logr.Logger {
	z := uberzap.New(
		zapcore.NewCore(zapcore.NewConsoleEncoder(uberzap.NewDevelopmentEncoderConfig()), zapcore.Lock(os.Stderr), uberzap.NewAtomicLevelAt(zapcore.Level(-TRACE))),
		uberzap.AddCaller(),
	)
	return zapr.NewLogger(z)
}
