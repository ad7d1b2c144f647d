package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/apoxy-dev/howdy/pkg/accesslog"
	"github.com/apoxy-dev/howdy/pkg/http1"
)

func startServer(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(opts...)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(ctx, lis)
	})
	t.Cleanup(func() {
		cancel()
		require.NoError(t, g.Wait())
	})

	return s, lis.Addr().String()
}

// exchange sends raw and returns everything the server wrote before
// closing the connection.
func exchange(addr, raw string) (string, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return "", err
	}

	// Writes may fail when the server drops the connection.
	_, _ = io.WriteString(conn, raw)

	// A dropped connection may surface as a reset; only the bytes matter.
	b, _ := io.ReadAll(conn)
	return string(b), nil
}

func roundTrip(t *testing.T, addr, raw string) string {
	t.Helper()

	resp, err := exchange(addr, raw)
	require.NoError(t, err)
	return resp
}

func TestServe(t *testing.T) {
	_, addr := startServer(t)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "Echo body",
			raw:  "POST /echo HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello",
			want: "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello",
		},
		{
			name: "Placeholder without body",
			raw:  "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n",
			want: "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHowdy",
		},
		{
			name: "Placeholder for empty body",
			raw:  "PUT / HTTP/1.1\r\nContent-Length: 0\r\n\r\n",
			want: "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHowdy",
		},
		{
			name: "Malformed method",
			raw:  "BREW /pot HTTP/1.1\r\n\r\n",
			want: "HTTP/1.1 400 Bad Request\r\nContent-Length: 11\r\n\r\nBad Request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, roundTrip(t, addr, tt.raw))
		})
	}
}

func TestServe_ShortBody(t *testing.T) {
	_, addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, "POST / HTTP/1.1\r\nContent-Length: 50\r\n\r\nabc")
	require.NoError(t, err)
	// The body is only known to be short once the peer stops writing.
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 400 Bad Request\r\nContent-Length: 11\r\n\r\nBad Request", string(b))
}

func TestServe_SilentPeer(t *testing.T) {
	s, addr := startServer(t, WithReadTimeout(100*time.Millisecond))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	start := time.Now()
	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 400 Bad Request\r\nContent-Length: 11\r\n\r\nBad Request", string(b))
	assert.Less(t, time.Since(start), 3*time.Second)

	require.Eventually(t, func() bool { return s.Live() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.decodeErrors.WithLabelValues("headline")))
}

func TestServe_SlowButSteadyPeer(t *testing.T) {
	const timeout = 200 * time.Millisecond
	s, addr := startServer(t, WithReadTimeout(timeout))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	// Each chunk arrives well inside the timeout but the whole request takes
	// several timeouts to send.
	raw := "POST /slow HTTP/1.1\r\nContent-Length: 10\r\n\r\n0123456789"
	start := time.Now()
	for i := 0; i < len(raw); i += 4 {
		end := min(i+4, len(raw))
		_, err := io.WriteString(conn, raw[i:end])
		require.NoError(t, err)
		time.Sleep(timeout / 4)
	}
	require.Greater(t, time.Since(start), 3*timeout)

	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n0123456789", string(b))

	require.Eventually(t, func() bool { return s.Live() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(s.metrics.decodeErrors.WithLabelValues("headline")))
}

func TestServe_StallAfterProgress(t *testing.T) {
	s, addr := startServer(t, WithReadTimeout(100*time.Millisecond))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n01234")
	require.NoError(t, err)

	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 400 Bad Request\r\nContent-Length: 11\r\n\r\nBad Request", string(b))

	require.Eventually(t, func() bool { return s.Live() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.decodeErrors.WithLabelValues("body malformed")))
}

func TestServe_WorkerLimit(t *testing.T) {
	const (
		maxWorkers = 2
		excess     = 5
	)

	entered := make(chan struct{}, maxWorkers)
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }

	s, addr := startServer(t,
		WithMaxWorkers(maxWorkers),
		WithHandler(http1.HandlerFunc(func(r *http1.Request) http1.Response {
			entered <- struct{}{}
			<-release
			return http1.Response{Status: http1.StatusOK, Body: r.Resource.Path}
		})),
	)
	t.Cleanup(unblock)

	var g errgroup.Group
	served := make([]string, maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		i := i
		g.Go(func() error {
			resp, err := exchange(addr, "GET /admitted HTTP/1.1\r\n\r\n")
			served[i] = resp
			return err
		})
	}
	for i := 0; i < maxWorkers; i++ {
		select {
		case <-entered:
		case <-time.After(5 * time.Second):
			t.Fatal("admitted connection never reached the handler")
		}
	}
	assert.Equal(t, maxWorkers, s.Live())

	for i := 0; i < excess; i++ {
		assert.Empty(t, roundTrip(t, addr, "GET /excess HTTP/1.1\r\n\r\n"))
	}
	assert.Equal(t, float64(excess), testutil.ToFloat64(s.metrics.dropped))
	assert.Equal(t, maxWorkers, s.Live())

	unblock()
	require.NoError(t, g.Wait())
	for _, resp := range served {
		assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 9\r\n\r\n/admitted", resp)
	}

	require.Eventually(t, func() bool { return s.Live() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(maxWorkers+excess), testutil.ToFloat64(s.metrics.accepted))
}

func TestServe_CeilingUnderLoad(t *testing.T) {
	const (
		maxWorkers = 4
		clients    = 50
	)

	var current, peak atomic.Int64
	s, addr := startServer(t,
		WithMaxWorkers(maxWorkers),
		WithHandler(http1.HandlerFunc(func(r *http1.Request) http1.Response {
			n := current.Add(1)
			defer current.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			return EchoHandler.ServeRequest(r)
		})),
	)

	var (
		g       errgroup.Group
		served  atomic.Int64
		dropped atomic.Int64
	)
	for i := 0; i < clients; i++ {
		g.Go(func() error {
			resp, err := exchange(addr, "GET / HTTP/1.1\r\n\r\n")
			if err != nil {
				return err
			}
			switch resp {
			case "":
				dropped.Add(1)
			case "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHowdy":
				served.Add(1)
			default:
				return errors.New("unexpected response: " + resp)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(clients), served.Load()+dropped.Load())
	assert.GreaterOrEqual(t, served.Load(), int64(maxWorkers))
	assert.LessOrEqual(t, peak.Load(), int64(maxWorkers))
	assert.Equal(t, float64(dropped.Load()), testutil.ToFloat64(s.metrics.dropped))
	require.Eventually(t, func() bool { return s.Live() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServe_SetMaxWorkers(t *testing.T) {
	s, addr := startServer(t, WithMaxWorkers(0))

	assert.Empty(t, roundTrip(t, addr, "GET / HTTP/1.1\r\n\r\n"))

	s.SetMaxWorkers(1)
	assert.Equal(t, 1, s.MaxWorkers())
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHowdy", roundTrip(t, addr, "GET / HTTP/1.1\r\n\r\n"))
}

func TestServe_HandlerPanic(t *testing.T) {
	s, addr := startServer(t, WithHandler(http1.HandlerFunc(func(r *http1.Request) http1.Response {
		if r.Resource.Path == "/boom" {
			panic("boom")
		}
		return EchoHandler.ServeRequest(r)
	})))

	assert.Equal(t, "HTTP/1.1 500 Internal Server Error\r\n\r\n", roundTrip(t, addr, "GET /boom HTTP/1.1\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHowdy", roundTrip(t, addr, "GET /fine HTTP/1.1\r\n\r\n"))

	require.Eventually(t, func() bool { return s.Live() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.panics))
}

func TestServe_AccessLog(t *testing.T) {
	var buf bytes.Buffer

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(WithAccessLog(accesslog.New(&buf)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	addr := lis.Addr().String()
	roundTrip(t, addr, "POST /a//b?x=1 HTTP/1.1\r\nContent-Length: 2\r\n\r\nhi")
	roundTrip(t, addr, "NOPE / HTTP/1.1\r\n\r\n")

	require.Eventually(t, func() bool { return s.Live() == 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var entries []accesslog.Entry
	for _, line := range lines {
		var e accesslog.Entry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		entries = append(entries, e)
	}

	byCode := map[int]accesslog.Entry{}
	for _, e := range entries {
		byCode[e.ResponseCode] = e
	}

	ok := byCode[http1.StatusOK]
	assert.Equal(t, "POST", ok.RequestMethod)
	assert.Equal(t, "/a/b?x=1", ok.RequestPath)
	assert.Equal(t, "HTTP/1.1", ok.Protocol)
	assert.Equal(t, int64(len("POST /a//b?x=1 HTTP/1.1\r\nContent-Length: 2\r\n\r\nhi")), ok.BytesReceived)
	assert.Equal(t, int64(len("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi")), ok.BytesSent)
	assert.NotEmpty(t, ok.RequestID)
	assert.Empty(t, ok.Error)

	bad := byCode[http1.StatusBadRequest]
	assert.Empty(t, bad.RequestMethod)
	assert.Contains(t, bad.Error, "method malformed")
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New().Serve(ctx, lis) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	_, err = net.Dial("tcp", lis.Addr().String())
	require.Error(t, err)
}
