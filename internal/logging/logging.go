// Package logging builds the component loggers used by the pomosync binary.
//
// Every component takes a *log.Logger with a bracketed prefix. A Sink owns
// the shared destination: stderr, or a size-rotated file via lumberjack,
// optionally teed to stderr.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pomosync/pomosync/internal/config"
)

// Sink is a shared log destination.
type Sink struct {
	w      io.Writer
	closer io.Closer
	flags  int
}

// Open returns a sink for cfg. With no file configured it writes to stderr.
func Open(cfg config.LogConfig) (*Sink, error) {
	if cfg.File == "" {
		return &Sink{w: os.Stderr, flags: log.LstdFlags}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	var w io.Writer = rotator
	if cfg.Stderr {
		w = io.MultiWriter(rotator, os.Stderr)
	}
	return &Sink{w: w, closer: rotator, flags: log.LstdFlags}, nil
}

// NewSink wraps an arbitrary writer, mainly for tests.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w, flags: log.LstdFlags}
}

// Logger returns a logger writing to the sink with the given component
// name as a "[name] " prefix.
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.w, "["+component+"] ", s.flags)
}

// Writer returns the underlying destination.
func (s *Sink) Writer() io.Writer {
	return s.w
}

// Close closes the log file, if any.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
