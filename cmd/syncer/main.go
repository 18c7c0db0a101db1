package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"listing_sync/internal/auth"
	"listing_sync/internal/config"
	"listing_sync/internal/publisher"
	"listing_sync/internal/reconcile"
	"listing_sync/internal/scheduler"
	"listing_sync/internal/service"
	"listing_sync/internal/source/ebay"
	"listing_sync/internal/storage/postgres"
	"listing_sync/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single sync pass and exit")
	users := flag.String("user", "", "comma-separated user ids, overrides sync.user_ids")
	skipMigrations := flag.Bool("skip-migrations", false, "do not apply database migrations on startup")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	if *users != "" {
		cfg.Sync.UserIDs = splitList(*users)
	}
	if len(cfg.Sync.UserIDs) == 0 {
		logger.Error("no user ids to sync, set sync.user_ids or -user")
		os.Exit(1)
	}

	if !*skipMigrations {
		if err := postgres.RunMigrations(cfg.Database.URL()); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	// RabbitMQ is optional; without it telemetry goes to logs and metrics only.
	var eventPublisher telemetry.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			QueueName:  cfg.RabbitMQ.QueueName,
			BindingKey: cfg.RabbitMQ.BindingKey,
			AppID:      "listing-syncer",
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		eventPublisher = rabbitMQ
	}

	recorder := telemetry.NewRecorder(eventPublisher, metrics, logger, telemetry.Config{
		Timeout: cfg.Telemetry.Timeout,
	})

	// Initialize stores
	accountStore := postgres.NewAccountStore(db)
	listingStore := postgres.NewListingStore(db)
	categoryStore := postgres.NewCategoryStore(db)
	syncStateStore := postgres.NewSyncStateStore(db)
	txManager := postgres.NewTransactionManager(db)

	tokenManager := auth.NewTokenManager(auth.Config{
		TokenURL:     cfg.Marketplace.TokenURL,
		ClientID:     cfg.Marketplace.ClientID,
		ClientSecret: cfg.Marketplace.ClientSecret,
		Scopes:       cfg.Marketplace.Scopes,
		Timeout:      cfg.Marketplace.Timeout,
	}, nil, logger)

	ebaySource := ebay.New(ebay.Config{
		TradingURL:         cfg.Marketplace.TradingURL,
		SiteID:             cfg.Marketplace.SiteID,
		CompatibilityLevel: cfg.Marketplace.CompatibilityLevel,
		Timeout:            cfg.Marketplace.Timeout,
		RequestsPerSecond:  cfg.Marketplace.RequestsPerSecond,
		Burst:              cfg.Marketplace.Burst,
		Lookback:           cfg.Marketplace.Lookback,
		Lookahead:          cfg.Marketplace.Lookahead,
	}, logger)

	engine := reconcile.NewEngine(listingStore, categoryStore, txManager, recorder, logger, reconcile.Config{
		Provider:    ebaySource.ID(),
		WritePolicy: cfg.Sync.WriteRetry.Policy(),
	})

	syncService := service.NewSyncService(
		accountStore,
		tokenManager,
		ebaySource,
		engine,
		syncStateStore,
		recorder,
		logger,
		cfg.Sync,
	)

	sched := scheduler.NewScheduler(syncService, scheduler.Config{
		Interval:   cfg.Sync.Interval,
		RunTimeout: cfg.Sync.RunTimeout,
		UserIDs:    cfg.Sync.UserIDs,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if *once {
		if failed := sched.RunOnce(ctx); failed > 0 {
			logger.Error("sync pass finished with errors", "failed_runs", failed)
			os.Exit(1)
		}
		return
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           telemetry.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	logger.Info("starting listing syncer",
		"source", ebaySource.Name(),
		"interval", cfg.Sync.Interval,
		"users", len(cfg.Sync.UserIDs),
		"max_pages", cfg.Sync.MaxPagesPerSync,
		"concurrency", cfg.Sync.Concurrency,
	)

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
