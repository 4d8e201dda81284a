/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env in development, then environment)
  2. Build the zap logger
  3. Open the store (memory, SQLite or Postgres) and run migrations
  4. Optionally connect Redis (dashboard cache) and Kafka (change events)
  5. Create the inventory core, API handler and router
  6. Start the consistency auditor
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      Database path or DSN (overrides DATABASE_URL)
           Use ":memory:" with DB_DRIVER=sqlite for a throwaway database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (HTTP_SHUTDOWN_TIMEOUT)
  3. Stop the auditor, flush the Kafka writer, close Redis and the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/stock.db"

  # Run against Postgres with Redis caching
  DB_DRIVER=postgres DATABASE_URL=postgres://localhost/stock REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables and defaults
  - api/server.go: Router configuration
  - store/sqlstore/sqlstore.go: SQL store
*/
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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/api"
	"github.com/warp/stock-ledger/cache/rediscache"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/events/kafkapub"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/inventory/store"
	"github.com/warp/stock-ledger/logging"
	"github.com/warp/stock-ledger/store/sqlstore"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides HTTP_PORT)")
	dbURL := flag.String("db", "", "Database path or DSN (overrides DATABASE_URL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}
	if *dbURL != "" {
		cfg.Database.URL = *dbURL
	}

	logCfg := logging.DefaultConfig()
	if cfg.App.LogLevel != "" {
		logCfg.Level = cfg.App.LogLevel
	}
	if cfg.App.LogFormat != "" {
		logCfg.Format = cfg.App.LogFormat
	}
	logger := logging.New(logCfg)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("store ready", zap.String("driver", cfg.Database.Driver))

	opts := []inventory.Option{
		inventory.WithLogger(logger),
		inventory.WithCascadeDelete(cfg.Inventory.CascadeDelete),
	}

	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		cache := rediscache.New(client, cfg.Redis.TTL, logger).WithPrefix(cfg.Redis.KeyPrefix)
		if err := cache.Ping(ctx); err != nil {
			// the dashboard falls back to computing on every request
			logger.Warn("redis unreachable, dashboard cache degraded", zap.Error(err))
		}
		opts = append(opts, inventory.WithSummaryCache(cache))
		logger.Info("dashboard cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	if cfg.Kafka.Enabled() {
		publisher := kafkapub.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("failed to close kafka publisher", zap.Error(err))
			}
		}()
		opts = append(opts, inventory.WithListener(publisher))
		logger.Info("change events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	inv := inventory.New(st, opts...)

	// Initialize handler
	handler := api.NewHandler(inv, api.HandlerConfig{
		LowStockThreshold: cfg.Inventory.LowStockThreshold,
		Logger:            logger,
	})

	auditor := handler.Auditor()
	auditor.Interval = cfg.Inventory.AuditInterval
	auditor.Start()
	defer auditor.Stop()

	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Graceful shutdown
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.HTTP.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (inventory.Store, func(), error) {
	if cfg.Driver == "memory" {
		return store.NewMemory(), func() {}, nil
	}
	dialect, err := sqlstore.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	s, err := sqlstore.Open(openCtx, dialect, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, func() { s.Close() }, nil
}
