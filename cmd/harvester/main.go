// Package main wires together the harvester binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/trackmeet-harvester/internal/api"
	"github.com/JakeFAU/trackmeet-harvester/internal/clock/system"
	"github.com/JakeFAU/trackmeet-harvester/internal/config"
	"github.com/JakeFAU/trackmeet-harvester/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/trackmeet-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
	"github.com/JakeFAU/trackmeet-harvester/internal/id/uuid"
	"github.com/JakeFAU/trackmeet-harvester/internal/ingest"
	"github.com/JakeFAU/trackmeet-harvester/internal/logging"
	"github.com/JakeFAU/trackmeet-harvester/internal/metrics"
	"github.com/JakeFAU/trackmeet-harvester/internal/resolve"
	"github.com/JakeFAU/trackmeet-harvester/internal/scheduler"
	"github.com/JakeFAU/trackmeet-harvester/internal/storage/memory"
	"github.com/JakeFAU/trackmeet-harvester/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("harvester stopped", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:         cfg.HTTP.UserAgent,
		RespectRobots:     cfg.HTTP.RespectRobots,
		Timeout:           cfg.FetchTimeout(),
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
	}, logger)
	clock := system.New()
	pool := dispatcher.New(ctx, logger)
	resolver := resolve.New(fetcher, store, logger)
	coordinator := ingest.New(fetcher, resolver, store, clock, logger)
	sched, err := scheduler.New(
		scheduler.Config{FeedURL: cfg.Feed.URL, Interval: cfg.Feed.PollInterval},
		fetcher, store, coordinator, pool, clock, uuid.New(), logger,
	)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	var srv *http.Server
	if cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewServer(store, logger).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server started", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	logger.Info("scheduler started",
		zap.String("feed", cfg.Feed.URL),
		zap.Duration("interval", cfg.Feed.PollInterval),
	)
	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler error", zap.Error(err))
	}
	logger.Info("shutdown initiated")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}
	pool.Wait()
	stats := pool.Stats()
	logger.Info("shutdown complete",
		zap.Int64("tasks_succeeded", stats.Succeeded),
		zap.Int64("tasks_failed", stats.Failed),
		zap.Int64("tasks_dropped", stats.Dropped),
	)
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (harvest.Store, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn not set; using in-memory store")
		return memory.New(), func() {}, nil
	}
	if cfg.DB.Migrate {
		version, err := postgres.Migrate(cfg.DB.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema migrated", zap.Uint("version", version))
	}
	store, err := postgres.New(ctx, postgres.Config{DSN: cfg.DB.DSN, MaxConns: cfg.DB.MaxConns})
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}
