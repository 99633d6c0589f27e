package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/session-tracker/internal/config"
	"github.com/session-tracker/internal/handler"
	"github.com/session-tracker/internal/kafka"
	"github.com/session-tracker/internal/metrics"
	"github.com/session-tracker/internal/postgres"
	"github.com/session-tracker/internal/redis"
	"github.com/session-tracker/internal/service"
	"github.com/session-tracker/internal/websocket"
	"github.com/session-tracker/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=..."
var version string

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}
	if version != "" {
		cfg.App.Version = version
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if cfgErr != nil {
		logger.Warn("failed to load config file, using defaults", "path", *configPath, "error", cfgErr)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := metrics.NewRecorder()

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer repo.Close()
	logger.Info("connected to PostgreSQL")

	// Schema must exist before any traffic is served
	if err := repo.RunMigrations(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Initialize services
	engine := service.NewMergeEngine(repo, &cfg.Merge, logger)
	sessionService := service.NewSessionService(engine, repo, &cfg.Query, logger)
	sessionService.SetMetrics(recorder)

	// Initialize Redis query cache
	var cache *redis.QueryCache
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		cache, err = redis.NewQueryCache(&cfg.Redis, &cfg.Cache, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, serving queries uncached", "error", err)
		} else {
			defer cache.Close()
			sessionService.SetCache(cache)
			logger.Info("connected to Redis")
		}
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	wsHub.SetMetrics(recorder)
	go wsHub.Run()
	sessionService.SetHub(wsHub)
	logger.Info("WebSocket hub initialized")

	// Start cache warmer
	var warmer *worker.CacheWarmer
	if cache != nil && cfg.Warmer.Enabled {
		warmer = worker.NewCacheWarmer(sessionService, &cfg.Warmer, logger)
		warmer.RunOnce(ctx)
		if err := warmer.Start(ctx); err != nil {
			return fmt.Errorf("starting cache warmer: %w", err)
		}
	}

	// Initialize Kafka consumer for session ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, sessionService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(sessionService, cfg, logger)
	httpHandler.SetHub(wsHub)
	httpHandler.SetMetrics(recorder)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server",
			"port", cfg.Server.Port,
			"path_prefix", cfg.Server.PathPrefix,
			"version", cfg.App.Version,
			"auth", cfg.Auth.APIKey != "",
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a fatal server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		logger.Info("shutting down server...")
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server: %w", err)
	}

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests first so in-flight merges can finish
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop cache warmer
	if warmer != nil {
		if err := warmer.Stop(); err != nil {
			logger.Error("failed to stop cache warmer", "error", err)
		}
	}

	// Stop WebSocket hub
	wsHub.Stop()

	logger.Info("server stopped")
	return runErr
}
