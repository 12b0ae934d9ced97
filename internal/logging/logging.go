// Package logging builds the component loggers used across gitdeck.
//
// Every component logs through a standard *log.Logger with a bracketed
// prefix ("[engine] ", "[gateway] ", ...). All loggers share one writer: a
// size-rotated file whose old segments are removed after the configured
// retention, optionally mirrored to stderr.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the shared log writer
type Options struct {
	// File is the log file path. Empty disables file logging.
	File string

	// MaxSizeMB is the size at which the file is rotated
	MaxSizeMB int

	// RetentionDays is how long rotated files are kept
	RetentionDays int

	// Verbose mirrors log output to stderr
	Verbose bool
}

// Logs owns the shared writer and hands out prefixed loggers
type Logs struct {
	w    io.Writer
	file *lumberjack.Logger
}

// New creates the shared writer. With no file and no verbose flag, output
// is discarded.
func New(opts Options) (*Logs, error) {
	var writers []io.Writer
	l := &Logs{}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, err
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxAge:     opts.RetentionDays,
			MaxBackups: 5,
			Compress:   true,
		}
		writers = append(writers, l.file)
	}
	if opts.Verbose {
		writers = append(writers, os.Stderr)
	}

	switch len(writers) {
	case 0:
		l.w = io.Discard
	case 1:
		l.w = writers[0]
	default:
		l.w = io.MultiWriter(writers...)
	}
	return l, nil
}

// Logger returns a logger for component, prefixed "[component] "
func (l *Logs) Logger(component string) *log.Logger {
	return log.New(l.w, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared writer
func (l *Logs) Writer() io.Writer {
	return l.w
}

// Rotate forces a rotation of the log file
func (l *Logs) Rotate() error {
	if l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

// Close closes the log file
func (l *Logs) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
