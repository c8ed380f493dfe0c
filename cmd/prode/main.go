package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/prode/internal/adapters/http/api"
	"github.com/okian/prode/internal/adapters/http/swagger"
	workerpool "github.com/okian/prode/internal/adapters/mq/worker"
	"github.com/okian/prode/internal/adapters/repository"
	service "github.com/okian/prode/internal/app"
	"github.com/okian/prode/internal/config"
	"github.com/okian/prode/internal/domain/validation"
	"github.com/okian/prode/pkg/logger"
	"github.com/okian/prode/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	metrics.Configure(metricsOptions(cfg.Metrics)...)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	svc := service.New(store, serviceOptions(cfg, log)...)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to start service: %w", err)
	}

	go startServiceMetricsUpdater(ctx, svc)

	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	apiServer := api.NewServer(svc, svc,
		api.WithAdminToken(cfg.AdminToken),
		api.WithLogger(log),
	)
	apiServer.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("storage", cfg.Storage),
			logger.Bool("sync", cfg.SyncEnabled),
			logger.Bool("admin", cfg.AdminToken != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down server...")
	case err := <-serveErr:
		if err != nil {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "service shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return repository.NewMemoryStore(), nil
	default:
		s, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		return s, nil
	}
}

func metricsOptions(m config.Metrics) []metrics.Option {
	return []metrics.Option{
		metrics.WithNamespace(m.Namespace),
		metrics.WithSubsystem(m.Subsystem),
		metrics.WithHistogramBuckets(m.Buckets),
		metrics.WithConstLabels(m.Labels),
	}
}

func serviceOptions(cfg *config.Config, log logger.Logger) []service.Option {
	opts := []service.Option{
		service.WithLogger(log),
		service.WithWorkerCount(cfg.SyncWorkerCount),
		service.WithQueueSize(cfg.SyncQueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithCatalog(validation.Catalog{
			Forces:           cfg.Forces,
			Provinces:        cfg.Provinces,
			ForcesByProvince: cfg.ForcesByProvince,
		}),
		service.WithScoringWeights(cfg.Scoring),
	}
	if deadline, ok := cfg.DeadlineTime(); ok {
		opts = append(opts, service.WithDeadline(deadline))
	}
	if cfg.SyncEnabled {
		opts = append(opts, service.WithSyncSink(workerpool.NewFileSink(cfg.SyncOutput)))
	}
	return opts
}

// startServiceMetricsUpdater refreshes gauges that are not updated on the
// request path.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateServiceMetrics(svc *service.Service) {
	stats := svc.GetStats()
	if n, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(n)
	}
	if n, ok := stats["predictions"].(int); ok {
		metrics.UpdatePredictionsStored(n)
	}
}
