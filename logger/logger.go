// Package logger - zap logger construction.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger writing debug and info entries to stdout and
// warnings and errors to stderr. Debug entries are only emitted when debug is set.
func New(debug bool) (*zap.Logger, error) {
	return newLogger(debug, zapcore.Lock(os.Stdout), zapcore.Lock(os.Stderr)), nil
}

func newLogger(debug bool, stdout, stderr zapcore.WriteSyncer) *zap.Logger {
	// warn, error and fatal level enabler
	warnErrorFatalLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= zapcore.WarnLevel
	})

	encoderConfig := zap.NewProductionEncoderConfig()
	outLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level == zapcore.InfoLevel
	})
	if debug {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		outLevel = func(level zapcore.Level) bool {
			return level == zapcore.DebugLevel || level == zapcore.InfoLevel
		}
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), stdout, outLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), stderr, warnErrorFatalLevel),
	)
	return zap.New(core)
}
