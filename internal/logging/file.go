package logging

import (
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions controls rotation of a file-backed logger.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      slog.Level
}

// NewFileLogger returns a text slog logger writing to a size-rotated file.
// The returned closer flushes and closes the current log file.
func NewFileLogger(opts FileOptions) (*SlogLogger, func() error) {
	if opts.MaxSizeMB == 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups == 0 {
		opts.MaxBackups = 3
	}
	if opts.MaxAgeDays == 0 {
		opts.MaxAgeDays = 28
	}

	w := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level})
	return NewSlogLogger(slog.New(h)), w.Close
}
