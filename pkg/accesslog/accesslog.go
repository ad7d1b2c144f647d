// Package accesslog writes one JSON record per served connection.
package accesslog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Entry describes one connection. Method, path and protocol are empty when
// the request could not be decoded.
type Entry struct {
	StartTime     time.Time `json:"start_time"`
	RequestID     string    `json:"request_id"`
	RemoteAddr    string    `json:"remote_addr"`
	RequestMethod string    `json:"request_method,omitempty"`
	RequestPath   string    `json:"request_path,omitempty"`
	Protocol      string    `json:"protocol,omitempty"`
	ResponseCode  int       `json:"response_code"`
	BytesReceived int64     `json:"bytes_received"`
	BytesSent     int64     `json:"bytes_sent"`
	Duration      int64     `json:"duration_ms"`
	Error         string    `json:"error,omitempty"`
}

// Logger serializes entries to an io.Writer. It is safe for concurrent use.
type Logger struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// New returns a Logger writing to w.
func New(w io.Writer) *Logger {
	return &Logger{w: w}
}

// Open returns a Logger appending to the file at path, creating it and its
// parent directory if needed. "-" selects stdout.
func Open(path string) (*Logger, error) {
	if path == "-" {
		return New(os.Stdout), nil
	}
	fs, err := os.Stat(path)
	if err == nil && fs.IsDir() {
		return nil, fmt.Errorf("access log path is a directory: %s", path)
	} else if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat access log path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open access log: %w", err)
	}
	return &Logger{w: f, c: f}, nil
}

// Log writes e as a single JSON line.
func (l *Logger) Log(e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal access log entry: %w", err)
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(b)
	return err
}

// Close closes the underlying file, if the Logger owns one.
func (l *Logger) Close() error {
	if l.c == nil {
		return nil
	}
	return l.c.Close()
}
