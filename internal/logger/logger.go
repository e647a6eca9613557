package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log = zap.NewNop()

// Init builds the global logger. encoding is "json" or "console".
func Init(level, encoding string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if encoding != "console" {
		encoding = "json"
	}

	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(lvl),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    enc,
	}

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = l
	zap.ReplaceGlobals(l)
	return nil
}

// Sync flushes buffered entries; call it on shutdown.
func Sync() { _ = Log.Sync() }
