package cmd

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/apoxy-dev/howdy/config"
	"github.com/apoxy-dev/howdy/pkg/accesslog"
	"github.com/apoxy-dev/howdy/pkg/http1"
	"github.com/apoxy-dev/howdy/pkg/log"
	"github.com/apoxy-dev/howdy/pkg/router"
	"github.com/apoxy-dev/howdy/pkg/server"
)

const (
	metricsShutdownTimeout = 5 * time.Second
	sentryFlushTimeout     = 5 * time.Second
)

var (
	logFile     string
	watchConfig bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept connections and answer one request on each",
	Long: `Serve binds the listen address and answers every connection with a single
HTTP/1.1 response. Requests with a body are echoed back, requests without one
are greeted. Malformed requests get a 400 and connections above the worker
limit are closed unanswered.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := applyServeFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := log.Init(logOptions(cfg)...); err != nil {
			return err
		}
		if cfg.SentryDSN != "" && sentry.CurrentHub().Client() == nil {
			if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
				return fmt.Errorf("sentry.Init: %w", err)
			}
			defer sentry.Flush(sentryFlushTimeout)
		}

		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	addServeFlags(serveCmd)

	rootCmd.AddCommand(serveCmd)
}

func addServeFlags(c *cobra.Command) {
	fs := c.Flags()
	fs.StringP("listen", "l", config.DefaultConfig.ListenAddr, "Address to listen on.")
	fs.Int("max-workers", config.DefaultConfig.MaxWorkers, "Maximum number of connections handled at once.")
	fs.Duration("read-timeout", config.DefaultConfig.ReadTimeout, "Idle timeout while reading a request.")
	fs.Duration("write-timeout", config.DefaultConfig.WriteTimeout, "Timeout for each response write.")
	fs.Int("max-line-length", config.DefaultConfig.MaxLineLength, "Longest request or header line accepted.")
	fs.Int64("max-body-bytes", config.DefaultConfig.MaxBodyBytes, "Largest Content-Length accepted.")
	fs.String("metrics-addr", "", "Address to serve Prometheus metrics on (disabled if empty).")
	fs.String("access-log", "", `Access log file, "-" for stdout (disabled if empty).`)
	fs.String("log-level", config.DefaultConfig.LogLevel, "Log level (debug, info, warn, error).")
	fs.Bool("json-logs", false, "Log JSON records instead of text.")
	fs.StringVar(&logFile, "log-file", "", "Also append logs to this file.")
	fs.BoolVar(&watchConfig, "watch-config", false, "Apply max_workers changes from the config file while running.")
}

// applyServeFlags overrides cfg with the flags set on the command line.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("listen") {
		if cfg.ListenAddr, err = flags.GetString("listen"); err != nil {
			return fmt.Errorf("error getting listen address: %w", err)
		}
	}
	if flags.Changed("max-workers") {
		if cfg.MaxWorkers, err = flags.GetInt("max-workers"); err != nil {
			return fmt.Errorf("error getting max workers: %w", err)
		}
	}
	if flags.Changed("read-timeout") {
		if cfg.ReadTimeout, err = flags.GetDuration("read-timeout"); err != nil {
			return fmt.Errorf("error getting read timeout: %w", err)
		}
	}
	if flags.Changed("write-timeout") {
		if cfg.WriteTimeout, err = flags.GetDuration("write-timeout"); err != nil {
			return fmt.Errorf("error getting write timeout: %w", err)
		}
	}
	if flags.Changed("max-line-length") {
		if cfg.MaxLineLength, err = flags.GetInt("max-line-length"); err != nil {
			return fmt.Errorf("error getting max line length: %w", err)
		}
	}
	if flags.Changed("max-body-bytes") {
		if cfg.MaxBodyBytes, err = flags.GetInt64("max-body-bytes"); err != nil {
			return fmt.Errorf("error getting max body bytes: %w", err)
		}
	}
	if flags.Changed("metrics-addr") {
		if cfg.MetricsAddr, err = flags.GetString("metrics-addr"); err != nil {
			return fmt.Errorf("error getting metrics address: %w", err)
		}
	}
	if flags.Changed("access-log") {
		if cfg.AccessLog, err = flags.GetString("access-log"); err != nil {
			return fmt.Errorf("error getting access log: %w", err)
		}
	}
	if flags.Changed("log-level") {
		if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
			return fmt.Errorf("error getting log level: %w", err)
		}
	}
	if flags.Changed("json-logs") {
		if cfg.JSONLogs, err = flags.GetBool("json-logs"); err != nil {
			return fmt.Errorf("error getting json logs: %w", err)
		}
	}
	return nil
}

func logOptions(cfg *config.Config) []log.Option {
	var opts []log.Option
	if cfg.Verbose {
		opts = append(opts, log.WithDevMode())
	} else {
		opts = append(opts, log.WithLevel(cfg.Level()))
	}
	if cfg.JSONLogs {
		opts = append(opts, log.WithJSON())
	}
	if logFile != "" {
		opts = append(opts, log.WithFile(logFile))
	}
	return opts
}

// newHandler returns the request handler: a health check route in front of
// the echo handler.
func newHandler() http1.Handler {
	r := router.New(server.EchoHandler)
	r.Attach(http1.MethodGet, "/healthz", http1.HandlerFunc(func(*http1.Request) http1.Response {
		return http1.Response{Status: http1.StatusOK, Body: "OK"}
	}))
	return r
}

func runServe(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []server.Option{
		server.WithAddr(cfg.ListenAddr),
		server.WithHandler(newHandler()),
		server.WithMaxWorkers(cfg.MaxWorkers),
		server.WithReadTimeout(cfg.ReadTimeout),
		server.WithWriteTimeout(cfg.WriteTimeout),
		server.WithDecoderOptions(
			http1.WithMaxLineLength(cfg.MaxLineLength),
			http1.WithMaxBodyBytes(cfg.MaxBodyBytes),
		),
		server.WithRegisterer(reg),
	}
	if cfg.AccessLog != "" {
		al, err := accesslog.Open(cfg.AccessLog)
		if err != nil {
			return err
		}
		defer al.Close()
		opts = append(opts, server.WithAccessLog(al))
	}
	srv := server.New(opts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr, reg)
		})
	}
	if watchConfig {
		g.Go(func() error {
			log.Infof("Watching %s for changes", config.ConfigFile)
			return config.Watch(ctx, config.ConfigFile, func(next *config.Config) {
				if next.MaxWorkers == srv.MaxWorkers() {
					return
				}
				log.Infof("Updating max workers from %d to %d", srv.MaxWorkers(), next.MaxWorkers)
				srv.SetMaxWorkers(next.MaxWorkers)
			})
		})
	}

	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:     addr,
		Handler:  mux,
		ErrorLog: stdlog.New(log.NewDefaultLogWriter(log.WarnLevel), "", 0),
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}
	slog.Info("Serving metrics", slog.String("addr", lis.Addr().String()))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("failed to shut down metrics server: %v", err)
		}
	}()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
