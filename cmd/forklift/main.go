package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/joshgroeneveld/forklift/internal/config"
	"github.com/joshgroeneveld/forklift/internal/engine"
	"github.com/joshgroeneveld/forklift/internal/manifest"
	"github.com/joshgroeneveld/forklift/internal/metrics"
	"github.com/joshgroeneveld/forklift/internal/model"
	"github.com/joshgroeneveld/forklift/internal/server"
	"github.com/joshgroeneveld/forklift/internal/store"
	"github.com/joshgroeneveld/forklift/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting forklift synchronization run",
		zap.String("database_host", cfg.Database.Host),
		zap.Int("database_port", cfg.Database.Port),
		zap.String("database_name", cfg.Database.Database),
		zap.String("manifest", cfg.Sync.Manifest),
		zap.Int("workers", cfg.Sync.Workers))

	pairs, err := manifest.Load(cfg.Sync.Manifest)
	if err != nil {
		logger.Fatal("Failed to load pairs manifest", zap.Error(err))
	}
	if len(pairs) == 0 {
		logger.Info("Manifest contains no pairs, nothing to do")
		return
	}

	datasetStore, err := store.NewPostgresStore(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize dataset store", zap.Error(err))
	}
	defer datasetStore.Close()

	m := metrics.NewMetrics()

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(cfg.Metrics.Port, logger)
		metricsServer.Start()
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				logger.Warn("Failed to stop metrics server", zap.Error(err))
			}
		}()
	}

	synchronizer := engine.NewSynchronizer(
		datasetStore, cfg.Sync.HashWorkspace, cfg.Sync.ScratchWorkspace, logger, m)

	pool := worker.NewPool(cfg.Sync.Workers, logger)
	outcomes := pool.Run(context.Background(), pairs, func(ctx context.Context, pair *model.DatasetPair) model.Result {
		return synchronizer.Update(ctx, pair, nil)
	})

	failed := 0
	for _, outcome := range outcomes {
		switch outcome.Result.Status {
		case model.StatusInvalidData, model.StatusUnhandledException:
			failed++
			logger.Error("Pair failed",
				zap.String("pair", outcome.Pair.Name),
				zap.String("status", outcome.Result.Status.String()),
				zap.String("message", outcome.Result.Message))
		default:
			logger.Info("Pair succeeded",
				zap.String("pair", outcome.Pair.Name),
				zap.String("status", outcome.Result.Status.String()))
		}
	}

	logger.Info("Synchronization run complete",
		zap.Int("pairs", len(outcomes)),
		zap.Int("failed", failed))

	if failed > 0 {
		os.Exit(1)
	}
}

// buildLogger constructs a zap logger per the logging configuration
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapConfig.Level = level

	return zapConfig.Build()
}
