package logger

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotateConfig controls the size based log file rotation.
type RotateConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewRotatingWriter returns a writer that appends to cfg.Filename and rotates it
// once it reaches MaxSizeMB megabytes.
func NewRotatingWriter(cfg RotateConfig) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
