// Package main is the entry point for the log-ai search service: a
// coordination engine that runs bounded concurrent grep scans over
// service log files and serves results over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/elis-salobehaj/log-ai/config"
	"github.com/elis-salobehaj/log-ai/engine"
	"github.com/elis-salobehaj/log-ai/gateway"
	"github.com/elis-salobehaj/log-ai/health"
	"github.com/elis-salobehaj/log-ai/limiter"
	"github.com/elis-salobehaj/log-ai/matcher"
	"github.com/elis-salobehaj/log-ai/metric"
	"github.com/elis-salobehaj/log-ai/natsclient"
	"github.com/elis-salobehaj/log-ai/registry"
	"github.com/elis-salobehaj/log-ai/report"
	"github.com/elis-salobehaj/log-ai/search"
	"github.com/elis-salobehaj/log-ai/searchcache"
	"github.com/elis-salobehaj/log-ai/session"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "logai"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	logger := setupLogger(cfg.Logging, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting log-ai (concurrent log search)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	metricsRegistry := metric.NewMetricsRegistry()
	core := metricsRegistry.CoreMetrics()
	monitor := health.NewMonitor(health.WithMetrics(core))

	reg, err := registry.New(cfg.Registry.Path,
		registry.WithLogger(logger),
		registry.WithPollInterval(cfg.Registry.PollInterval.Std()))
	if err != nil {
		return fmt.Errorf("load service registry: %w", err)
	}

	natsClient, cacheKV, limiterKV, err := setupNATS(signalCtx, cfg, logger, monitor)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer func() { _ = natsClient.Close(context.Background()) }()
	}

	eng, reporter, sessions, err := setupEngine(signalCtx, cfg, logger, core, monitor, reg, cacheKV, limiterKV)
	if err != nil {
		return err
	}
	defer eng.Close()
	defer func() { _ = reporter.Stop(5 * time.Second) }()

	gw, err := gateway.New(eng,
		gateway.WithMonitor(monitor),
		gateway.WithMetricsRegistry(metricsRegistry),
		gateway.WithLogger(logger),
		gateway.WithMaxRequestSize(cfg.HTTP.MaxRequestSize))
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	go func() {
		if err := reg.Watch(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("registry watcher stopped", "error", err)
		}
	}()
	go sessions.Run(signalCtx)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      gw.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout.Std(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Std(),
	}

	return serveUntilSignal(signalCtx, server, cliCfg.ShutdownTimeout)
}

// setupNATS connects the optional distributed backend and prepares the
// cache and admission KV stores. A disabled backend returns all nils:
// the engine then runs process-local.
func setupNATS(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	monitor *health.Monitor,
) (*natsclient.Client, *natsclient.KVStore, *natsclient.KVStore, error) {
	if !cfg.NATS.Enabled {
		slog.Info("NATS disabled, running process-local")
		return nil, nil, nil, nil
	}

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(natsclient.NewSlogLogger(logger)),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				monitor.UpdateHealthy("nats", "connected")
			} else {
				monitor.UpdateDegraded("nats", "connection lost")
			}
		}),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := client.Connect(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, nil, nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	cacheBucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.NATS.CacheBucket,
		TTL:    cfg.NATS.CacheTTL.Std(),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create cache bucket: %w", err)
	}

	limiterBucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.NATS.LimiterBucket,
		TTL:    cfg.NATS.LimiterTTL.Std(),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create admission bucket: %w", err)
	}

	return client, client.NewKVStore(cacheBucket), client.NewKVStore(limiterBucket), nil
}

// setupEngine wires the search pipeline: cache, limiter, executor,
// artifact sessions, reporter and the engine itself.
func setupEngine(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	core *metric.Metrics,
	monitor *health.Monitor,
	reg *registry.Registry,
	cacheKV, limiterKV *natsclient.KVStore,
) (*engine.Engine, *report.Slog, *session.Manager, error) {
	cacheOpts := []searchcache.Option{searchcache.WithLogger(logger)}
	if cacheKV != nil {
		cacheOpts = append(cacheOpts, searchcache.WithKV(cacheKV))
	}
	cacheStore, err := searchcache.New(ctx, searchcache.Config{
		Enabled:    cfg.Cache.Enabled,
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   cfg.Cache.MaxBytes,
		TTL:        cfg.Cache.TTL.Std(),
	}, reg.Generation, cacheOpts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create result cache: %w", err)
	}

	limOpts := []limiter.Option{
		limiter.WithLogger(logger),
		limiter.WithMetrics(core),
	}
	if limiterKV != nil {
		limOpts = append(limOpts, limiter.WithKV(limiterKV))
	}
	lim, err := limiter.New(cfg.Search.GlobalCeiling, limOpts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create admission limiter: %w", err)
	}

	executor, err := search.NewExecutor(
		matcher.NewGrep(matcher.WithGrepLogger(logger)),
		search.WithPerRequestLimit(cfg.Search.PerRequestLimit),
		search.WithWallClock(cfg.Search.WallClock.Std()),
		search.WithLogger(logger),
		search.WithMetrics(core))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create executor: %w", err)
	}

	sessions, err := session.NewManager(cfg.Artifacts.Root,
		session.WithRetention(cfg.Artifacts.Retention.Std()),
		session.WithSweepInterval(cfg.Artifacts.SweepInterval.Std()),
		session.WithLogger(logger),
		session.WithMetrics(core))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create session manager: %w", err)
	}

	reporter, err := report.NewSlog(logger, 2, 256)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create reporter: %w", err)
	}
	if err := reporter.Start(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("start reporter: %w", err)
	}

	eng, err := engine.New(reg, executor, cacheStore, lim, sessions,
		engine.WithReporter(reporter),
		engine.WithMonitor(monitor),
		engine.WithLogger(logger),
		engine.WithPreviewLimit(cfg.Search.PreviewLimit))
	if err != nil {
		_ = reporter.Stop(time.Second)
		return nil, nil, nil, fmt.Errorf("create engine: %w", err)
	}

	return eng, reporter, sessions, nil
}

// serveUntilSignal runs the HTTP server until the signal context is
// cancelled, then shuts it down gracefully.
func serveUntilSignal(ctx context.Context, server *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("log-ai shutdown complete")
	return nil
}
