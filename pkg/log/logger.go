// Package log provides logging routines based on slog package.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

type logWriterWrapper struct {
	l     *slog.Logger
	level LogLevel
}

func (w *logWriterWrapper) Write(p []byte) (n int, err error) {
	w.l.Log(context.Background(), w.level, strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// NewDefaultLogWriter returns a io.Writer that logs to the default logger at the given level.
func NewDefaultLogWriter(level LogLevel) io.Writer {
	return &logWriterWrapper{l: slog.Default(), level: level}
}

func setLogger(level LogLevel, json bool, w io.Writer) {
	replace := func(groups []string, a slog.Attr) slog.Attr {
		// Remove the directory from the source's filename.
		if a.Key == slog.SourceKey {
			if s, ok := a.Value.Any().(*slog.Source); ok {
				s.File = filepath.Base(s.File)
			}
		}
		return a
	}
	opts := &slog.HandlerOptions{
		AddSource:   true,
		Level:       level,
		ReplaceAttr: replace,
	}
	logger := slog.New(slog.NewTextHandler(w, opts))
	if json {
		logger = slog.New(slog.NewJSONHandler(w, opts))
	}
	slog.SetDefault(logger)
}

type LogLevel = slog.Level

const (
	DebugLevel = slog.LevelDebug
	InfoLevel  = slog.LevelInfo
	WarnLevel  = slog.LevelWarn
	ErrorLevel = slog.LevelError
)

// Option is a logger option.
type Option func(*options)

type options struct {
	level LogLevel
	json  bool
	out   io.Writer
	file  string
}

func defaultOptions() *options {
	return &options{
		level: InfoLevel,
		json:  false,
		out:   os.Stderr,
	}
}

// WithDevMode sets the logger to development mode.
// In development mode, the logger logs in human-readable format and the level is set to DebugLevel.
func WithDevMode() Option {
	return func(o *options) {
		o.json = false
		o.level = DebugLevel
	}
}

// WithJSON switches the output to JSON records.
func WithJSON() Option {
	return func(o *options) {
		o.json = true
	}
}

// WithLevel sets the log level.
// The default log level is InfoLevel.
func WithLevel(level LogLevel) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithOutput sets the writer logs go to. The default is stderr.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

// WithFile additionally appends logs to the file at path.
func WithFile(path string) Option {
	return func(o *options) {
		o.file = path
	}
}

// Init initializes the logger.
func Init(opts ...Option) error {
	sOpts := defaultOptions()
	for _, opt := range opts {
		opt(sOpts)
	}
	logW := sOpts.out
	if sOpts.file != "" {
		f, err := os.OpenFile(sOpts.file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %v", err)
		}
		logW = io.MultiWriter(logW, f)
	}

	setLogger(sOpts.level, sOpts.json, logW)

	return nil
}

func Disable() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func logf(level slog.Level, format string, args ...any) {
	ctx := context.Background()
	logger := slog.Default()
	if !logger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip [Callers, logf, Infof]
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	_ = logger.Handler().Handle(ctx, r)
}

// Debugf logs a debug message.
func Debugf(format string, args ...any) {
	level := slog.LevelDebug
	logf(level, format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...any) {
	level := slog.LevelInfo
	logf(level, format, args...)
}

// Warnf logs a warning message.
func Warnf(format string, args ...any) {
	level := slog.LevelWarn
	logf(level, format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...any) {
	level := slog.LevelError
	logf(level, format, args...)
}

// Fatalf logs a fatal message.
func Fatalf(format string, args ...any) {
	level := slog.LevelError
	logf(level, format, args...)
	os.Exit(1)
}
