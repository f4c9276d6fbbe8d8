// Package logging builds the zap loggers used by the commands.
//
// Logs never go to stdout, which carries the sample dump and the drive
// trace.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for file logs
const (
	MaxSizeMB  = 10
	MaxBackups = 3
	MaxAgeDays = 7
)

// New returns a console logger writing to stderr or, when file is not empty,
// a JSON logger writing to a rotated file.  verbose enables debug messages.
func New(verbose bool, file string) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	var (
		enc  zapcore.Encoder
		sink zapcore.WriteSyncer
	)
	if file == "" {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
		sink = zapcore.Lock(os.Stderr)
	} else {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		sink = zapcore.AddSync(&lj.Logger{
			Filename:   file,
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
		})
	}
	return zap.New(zapcore.NewCore(enc, sink, level), zap.AddCaller())
}
