// Package server accepts connections and serves one request per connection
// under a ceiling on concurrently handled connections.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/apoxy-dev/howdy/pkg/accesslog"
	"github.com/apoxy-dev/howdy/pkg/http1"
)

const (
	DefaultAddr         = "127.0.0.1:8080"
	DefaultMaxWorkers   = 1000
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second

	// Placeholder is the body echoed for requests without one.
	Placeholder = "Howdy"

	badRequestBody = "Bad Request"
	maxAcceptDelay = time.Second
)

// EchoHandler answers 200 with the request body, or Placeholder if there is
// none.
var EchoHandler = http1.HandlerFunc(func(r *http1.Request) http1.Response {
	if !r.HasBody() {
		return http1.Response{Status: http1.StatusOK, Body: Placeholder}
	}
	return http1.Response{Status: http1.StatusOK, Body: r.Body}
})

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the address ListenAndServe binds to.
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithHandler sets the handler for decoded requests. The default is EchoHandler.
func WithHandler(h http1.Handler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// WithMaxWorkers sets the ceiling on concurrently handled connections.
func WithMaxWorkers(n int) Option {
	return func(s *Server) {
		s.maxWorkers = n
	}
}

// WithReadTimeout sets how long a connection may go without delivering any
// request bytes. Zero disables the timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = d
	}
}

// WithWriteTimeout sets how long a single write of the response may block.
// Zero disables the timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

// WithDecoderOptions passes options to the request decoder.
func WithDecoderOptions(opts ...http1.Option) Option {
	return func(s *Server) {
		s.decodeOpts = append(s.decodeOpts, opts...)
	}
}

// WithAccessLog records every connection to l.
func WithAccessLog(l *accesslog.Logger) Option {
	return func(s *Server) {
		s.accessLog = l
	}
}

// WithRegisterer registers the server's metrics with reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) {
		s.reg = reg
	}
}

// Server is a one-request-per-connection HTTP/1.1 server.
type Server struct {
	addr         string
	handler      http1.Handler
	readTimeout  time.Duration
	writeTimeout time.Duration
	decodeOpts   []http1.Option
	accessLog    *accesslog.Logger
	reg          prometheus.Registerer
	metrics      *metrics

	// mu guards live and maxWorkers.
	mu         sync.Mutex
	live       int
	maxWorkers int

	wg sync.WaitGroup
}

// New creates a Server.
func New(opts ...Option) *Server {
	s := &Server{
		addr:         DefaultAddr,
		handler:      EchoHandler,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		maxWorkers:   DefaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reg == nil {
		s.reg = prometheus.NewRegistry()
	}
	s.metrics = newMetrics(s.reg)
	return s
}

// Addr returns the address ListenAndServe binds to.
func (s *Server) Addr() string {
	return s.addr
}

// Live returns the number of connections currently being handled.
func (s *Server) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// MaxWorkers returns the current ceiling.
func (s *Server) MaxWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxWorkers
}

// SetMaxWorkers changes the ceiling. Workers already running are not
// affected; a lower ceiling only applies to new connections.
func (s *Server) SetMaxWorkers(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxWorkers = n
}

// tryAcquire checks the ceiling and takes a worker slot in one critical
// section, so the ceiling is never exceeded.
func (s *Server) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live >= s.maxWorkers {
		return false
	}
	s.live++
	s.metrics.liveWorkers.Set(float64(s.live))
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live--
	s.metrics.liveWorkers.Set(float64(s.live))
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	slog.Info("Listening", slog.String("addr", lis.Addr().String()))

	return s.Serve(ctx, lis)
}

// Serve accepts connections from lis until ctx is done or lis is closed,
// then waits for in-flight workers. Accept errors are logged and do not stop
// the loop.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}

		if err := lis.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Warn("failed to close listener", slog.Any("error", err))
		}
	}()
	defer s.wg.Wait()

	var delay time.Duration
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			slog.Warn("Failed to accept connection",
				slog.Any("error", err), slog.Duration("retry_in", delay))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0
		s.metrics.accepted.Inc()

		if !s.tryAcquire() {
			s.metrics.dropped.Inc()
			slog.Warn("Worker limit reached, dropping connection",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Int("max_workers", s.MaxWorkers()))
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	start := time.Now()
	connID := uuid.NewString()
	logger := slog.With(
		slog.String("conn_id", connID),
		slog.String("remote", conn.RemoteAddr().String()))

	defer s.wg.Done()
	defer s.release()
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("Failed to close connection", slog.Any("error", err))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.panics.Inc()
			logger.Error("Worker panicked",
				slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			sentry.CurrentHub().Clone().Recover(r)
		}
	}()

	logger.Debug("Connection established")

	cr := &idleReader{conn: conn, timeout: s.readTimeout}
	req, err := http1.NewDecoder(cr, s.decodeOpts...).Decode()

	entry := accesslog.Entry{
		StartTime:  start,
		RequestID:  connID,
		RemoteAddr: conn.RemoteAddr().String(),
	}

	var resp http1.Response
	if err != nil {
		s.logDecodeError(logger, err)
		entry.Error = err.Error()
		resp = http1.Response{Status: http1.StatusBadRequest, Body: badRequestBody}
	} else {
		entry.RequestMethod = req.Method.String()
		entry.RequestPath = req.Resource.String()
		entry.Protocol = req.Version.String()
		logger.Debug("Request decoded",
			slog.String("method", entry.RequestMethod),
			slog.String("path", entry.RequestPath),
			slog.Int("body_bytes", len(req.Body)))
		resp = s.serveRequest(logger, req)
	}

	cw := &idleWriter{conn: conn, timeout: s.writeTimeout}
	if err := http1.WriteResponse(cw, http1.Version11, resp.Status, "", resp.Body); err != nil {
		logger.Warn("Failed to write response", slog.Any("error", err))
		if entry.Error == "" {
			entry.Error = err.Error()
		}
	}
	s.metrics.responses.WithLabelValues(strconv.Itoa(resp.Status)).Inc()

	entry.ResponseCode = resp.Status
	entry.BytesReceived = cr.n
	entry.BytesSent = cw.n
	entry.Duration = time.Since(start).Milliseconds()
	if s.accessLog != nil {
		if err := s.accessLog.Log(entry); err != nil {
			logger.Warn("Failed to write access log", slog.Any("error", err))
		}
	}
}

// serveRequest runs the handler, turning a panic into a 500 response.
func (s *Server) serveRequest(logger *slog.Logger, req *http1.Request) (resp http1.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.panics.Inc()
			logger.Error("Handler panicked",
				slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			sentry.CurrentHub().Clone().Recover(r)
			resp = http1.Response{Status: http1.StatusInternalServerError}
		}
	}()
	return s.handler.ServeRequest(req)
}

func (s *Server) logDecodeError(logger *slog.Logger, err error) {
	kind, _ := http1.KindOf(err)
	s.metrics.decodeErrors.WithLabelValues(kind.String()).Inc()

	// A peer that connects and closes without sending anything is routine.
	if errors.Is(err, http1.ErrNoData) {
		logger.Debug("Connection closed before request", slog.Any("error", err))
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		logger.Warn("Timed out reading request", slog.Any("error", err))
		return
	}
	logger.Warn("Failed to decode request", slog.String("kind", kind.String()), slog.Any("error", err))
}

// idleReader counts the bytes read from conn. With a timeout set, the read
// deadline is pushed forward before every read, so only a peer that stops
// sending times out.
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
	n       int64
}

func (c *idleReader) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, fmt.Errorf("set read deadline: %w", err)
		}
	}
	n, err := c.conn.Read(p)
	c.n += int64(n)
	return n, err
}

// idleWriter is the write side of idleReader.
type idleWriter struct {
	conn    net.Conn
	timeout time.Duration
	n       int64
}

func (c *idleWriter) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, fmt.Errorf("set write deadline: %w", err)
		}
	}
	n, err := c.conn.Write(p)
	c.n += int64(n)
	return n, err
}
