package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	capture "github.com/eugener/capture/internal"
	"github.com/eugener/capture/internal/auth"
	"github.com/eugener/capture/internal/cache"
	"github.com/eugener/capture/internal/config"
	"github.com/eugener/capture/internal/listener"
	"github.com/eugener/capture/internal/ratelimit"
	"github.com/eugener/capture/internal/server"
	"github.com/eugener/capture/internal/session"
	"github.com/eugener/capture/internal/socket"
	"github.com/eugener/capture/internal/storage/sqlite"
	"github.com/eugener/capture/internal/telemetry"
	"github.com/eugener/capture/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Log); err != nil {
		return err
	}

	slog.Info("starting capture", "version", version, "listen", cfg.Listener.Addr, "admin", cfg.Server.Addr)

	// Open database
	store, err := sqlite.New(cfg.Database.DSN, sqlite.Options{ReadConns: cfg.Database.ReadConns})
	if err != nil {
		return err
	}
	defer store.Close()

	// Telemetry
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdownTracing, err := telemetry.SetupTracing(context.Background(),
			cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate, version)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Peer name resolution is optional; a nil resolver skips it.
	var (
		resolver worker.PeerResolver
		dnsCache *dnscache.Resolver
	)
	if cfg.DNS.Enabled {
		dnsCache = &dnscache.Resolver{Timeout: cfg.DNS.Timeout}
		resolver = dnsCache
	}

	// Session pipeline
	recorder := worker.NewSessionRecorder(store, resolver, metrics)
	handler := session.NewHandler(session.Config{
		PollTimeout: cfg.Session.PollTimeout,
		IdleTimeout: cfg.Session.IdleTimeout,
		MaxInvalid:  cfg.Session.MaxInvalid,
	}, session.Deps{
		Recorder: recorder,
		Metrics:  metrics,
	})

	shards := make([]*worker.Shard, cfg.Listener.Shards)
	targets := make([]listener.Shard, cfg.Listener.Shards)
	for i := range shards {
		shards[i] = worker.NewShard(i, handler, metrics)
		targets[i] = shards[i]
	}

	limiter := ratelimit.NewRegistry(cfg.Listener.ConnsPerMin, cfg.Listener.ConnsBurst)
	ln, err := listener.New(listener.Config{
		Addr:      cfg.Listener.Addr,
		ReusePort: cfg.Listener.ReusePort,
		KeepAlive: cfg.Listener.KeepAlive,
		Balance:   cfg.Listener.Balance,
		Socket: socket.Options{
			ReadBuffer:   cfg.Listener.ReadBuffer,
			MaxFrame:     cfg.Listener.MaxFrame,
			WriteTimeout: cfg.Listener.WriteTimeout,
		},
	}, targets, handler, limiter, metrics)
	if err != nil {
		return err
	}

	shardWorkers := make([]worker.Worker, len(shards))
	for i, s := range shards {
		shardWorkers[i] = s
	}
	support := []worker.Worker{recorder, worker.NewJanitor(worker.JanitorConfig{
		Interval:   cfg.Retention.Interval,
		Retention:  cfg.Retention.Sessions,
		LimiterTTL: cfg.Retention.LimiterTTL,
	}, store, limiter)}
	if dnsCache != nil {
		support = append(support, worker.NewDNSRefresher(dnsCache, cfg.DNS.RefreshInterval))
	}
	// Shards close their leftover sockets on the way out, and the recorder
	// must still be running to persist those records.
	stages := worker.NewStages([]worker.Worker{ln}, shardWorkers, support)

	// Admin API
	adminKeys := make([]auth.AdminKey, 0, len(cfg.Auth.AdminKeys))
	for _, k := range cfg.Auth.AdminKeys {
		adminKeys = append(adminKeys, auth.AdminKey{Name: k.Name, Key: k.Key})
	}
	adminAuth, err := auth.NewAdminKeyAuth(adminKeys)
	if err != nil {
		return err
	}
	if !adminAuth.Enabled() {
		slog.Warn("no admin keys configured, admin API will reject every request")
	}

	var sessionCache cache.Cache
	if cfg.Cache.Enabled {
		mem, err := cache.NewMemory(cfg.Cache.MaxSize, cfg.Cache.TTL)
		if err != nil {
			return err
		}
		sessionCache = mem
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(server.Deps{
			Auth:     adminAuth,
			Sessions: store,
			Live:     handler.Registry(),
			Shards: func() []capture.ShardStat {
				stats := make([]capture.ShardStat, len(shards))
				for i, s := range shards {
					stats[i] = s.Stat()
				}
				return stats
			},
			Cache:          sessionCache,
			ReadyCheck:     store.Ping,
			Metrics:        metrics,
			MetricsHandler: metricsHandler,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	errCh := make(chan error, 1)
	stagesDone := make(chan error, 1)
	go func() { stagesDone <- stages.Run(runCtx) }()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
	}()

	select {
	case <-ln.Ready():
		slog.Info("capture ready", "listen", ln.Addr().String(), "admin", cfg.Server.Addr, "shards", len(shards))
	case err := <-stagesDone:
		_ = srv.Close()
		return err
	}

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var runErr error
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		runErr = err
	case err := <-stagesDone:
		if err != nil {
			runErr = fmt.Errorf("workers: %w", err)
		}
		stagesDone = nil
	}

	// Shutdown: listener, shards, recorder and janitor, then admin API.
	stopRun()
	if stagesDone != nil {
		if err := <-stagesDone; err != nil && runErr == nil {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}

	slog.Info("capture stopped")
	return runErr
}

func setupLogging(cfg config.LogConfig) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
