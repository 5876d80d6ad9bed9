// Command raceway-engine runs the causal-debugging ingest and query
// engine: an HTTP surface for event ingestion and trace analysis backed
// by either an in-process or PostgreSQL store.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/archtrace/raceway/internal/config"
	"github.com/archtrace/raceway/internal/httpapi"
	"github.com/archtrace/raceway/internal/ingest"
	"github.com/archtrace/raceway/internal/storage"
	"github.com/archtrace/raceway/internal/storage/memory"
	"github.com/archtrace/raceway/internal/storage/postgres"
	"github.com/archtrace/raceway/internal/telemetry"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(viper.New(), *configPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	if cfg.VaultAddr != "" {
		loader, err := config.NewSecretLoader(cfg.VaultAddr, cfg.VaultToken)
		if err != nil {
			logger.Fatal("vault connection failed", zap.Error(err))
		}
		if err := cfg.ApplySecrets(loader); err != nil {
			logger.Fatal("vault secret load failed", zap.Error(err))
		}
	}

	store, err := openStorage(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("storage initialization failed", zap.Error(err))
		os.Exit(2)
	}
	defer store.Close()

	metrics, err := telemetry.Init(context.Background(), "raceway-engine", cfg.OTELMetricsEndpoint)
	if err != nil {
		logger.Fatal("metrics exporter init failed", zap.Error(err))
	}
	if metrics != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metrics.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics exporter shutdown error", zap.Error(err))
			}
		}()
	}

	clocks := ingest.NewClockRegistry(0, 0)
	pipeline := ingest.New(store, clocks, cfg.MaxInflightEvents).WithMetrics(metrics)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go config.RunRetentionSweep(sweepCtx, store, cfg.RetentionHours, cfg.AutoFlushInterval, logger)

	var natsConsumer *natsIngestConsumer
	if cfg.NATSURL != "" {
		natsConsumer, err = newNATSIngestConsumer(cfg.NATSURL, pipeline, logger)
		if err != nil {
			logger.Fatal("NATS consumer init failed", zap.Error(err))
		}
		if err := natsConsumer.Start(sweepCtx); err != nil {
			logger.Fatal("NATS consumer start failed", zap.Error(err))
		}
		defer natsConsumer.Close()
	}

	handlers := &httpapi.Handlers{
		Store:        store,
		Pipeline:     pipeline,
		Logger:       logger,
		MaxGraphSize: cfg.MaxGraphEvents,
		StartedAt:    time.Now(),
		Version:      version,
		Metrics:      metrics,
	}
	e := httpapi.NewServer(handlers, httpapi.ServerConfig{
		APIKey:      cfg.APIKey,
		ServiceName: "raceway-engine",
		Logger:      logger,
	})

	go func() {
		logger.Info("raceway-engine listening", zap.String("addr", cfg.BindAddress), zap.String("backend", string(cfg.Backend)))
		if err := e.Start(cfg.BindAddress); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failure", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}

	logger.Info("raceway-engine shut down cleanly")
}

func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		logger.Info("connected to postgres backend")
		return store, nil
	default:
		logger.Info("using in-process memory backend")
		return memory.New(), nil
	}
}
