package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/placement-matcher/internal/assess"
	"github.com/jonathan/placement-matcher/internal/compat"
	"github.com/jonathan/placement-matcher/internal/config"
	"github.com/jonathan/placement-matcher/internal/db"
	"github.com/jonathan/placement-matcher/internal/distance"
	"github.com/jonathan/placement-matcher/internal/geo"
	"github.com/jonathan/placement-matcher/internal/observability"
	"github.com/jonathan/placement-matcher/internal/pipeline"
	"github.com/jonathan/placement-matcher/internal/session"
)

// app bundles the wired pipeline for the commands that drive it.
type app struct {
	cfg      config.Config
	database *db.DB
	store    *session.MemoryStore
	orch     *pipeline.Orchestrator
	logger   *zap.Logger
	metrics  *observability.Collector
	gemini   *assess.Gemini
}

func (a *app) close() {
	if a.gemini != nil {
		_ = a.gemini.Close()
	}
	if a.database != nil {
		a.database.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// loadMergedConfig loads the optional config file, merges defaults and
// environment fallbacks and validates the result.
func loadMergedConfig(cmd *cobra.Command, configPath string) (config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}

	cfg = cfg.MergeWithDefaults(config.DefaultConfig())

	// Environment fallbacks for the secrets that should not live in the
	// config file.
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	if cmd != nil && cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		cfg.Port = port
	}
	return cfg, nil
}

// buildApp wires the full pipeline from configuration.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required (flag, config or environment)")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required (flag, config or environment)")
	}

	logger, err := observability.NewLogger(cfg.LogJSON, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	metrics := observability.NewCollector()

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	compatFilter := compat.NewFilter(compat.EmptyTable(), logger)
	if cfg.CompatTablePath != "" {
		if cfg.WatchCompat {
			err = compat.WatchTableFile(cfg.CompatTablePath, compatFilter, logger)
		} else {
			var table *compat.Table
			table, err = compat.LoadTableFile(cfg.CompatTablePath)
			if err == nil {
				compatFilter.Swap(table)
			}
		}
		if err != nil {
			database.Close()
			return nil, err
		}
	}

	gemini, err := assess.NewGemini(ctx, cfg.APIKey, assess.GeminiConfig{
		CoarseModel: cfg.CoarseModel,
		DeepModel:   cfg.DeepModel,
	}, logger)
	if err != nil {
		database.Close()
		return nil, err
	}

	matrix, err := distance.NewGoogleMatrix(cfg.APIKey)
	if err != nil {
		database.Close()
		return nil, err
	}

	var excludeIDs map[uuid.UUID]bool
	if cfg.ExcludeEntitiesPath != "" {
		excludeIDs, err = config.LoadExcludeList(cfg.ExcludeEntitiesPath)
		if err != nil {
			database.Close()
			return nil, err
		}
		logger.Info("entity exclusion list loaded",
			zap.String("path", cfg.ExcludeEntitiesPath),
			zap.Int("entities", len(excludeIDs)),
		)
	}

	store := session.NewMemoryStore(session.MemoryStoreConfig{
		TerminalTTL:  time.Duration(cfg.TerminalTTLHours) * time.Hour,
		AbandonedTTL: time.Duration(cfg.AbandonedTTLHours) * time.Hour,
	}, logger)

	orch := pipeline.New(pipeline.Config{
		Store:  store,
		Source: database,
		Geo:    geo.NewFilter(cfg.RadiusKM, logger),
		Compat: compatFilter,
		Runner: assess.NewRunner(gemini, assess.RunnerConfig{
			Concurrency:         int64(cfg.Concurrency),
			CallTimeout:         time.Duration(cfg.CallTimeoutSec) * time.Second,
			MaxRetries:          cfg.MaxRetries,
			SaturationThreshold: cfg.SaturationThreshold,
		}, logger, metrics),
		Enricher: distance.NewEnricher(matrix, db.NewRouteCache(database), distance.EnricherConfig{
			CacheTTL:   time.Duration(cfg.RouteCacheTTLDays) * 24 * time.Hour,
			BatchLimit: cfg.DistanceBatchLimit,
			RatePerSec: cfg.DistanceRatePerSec,
		}, logger, metrics),
		Writer:  database,
		Logger:  logger,
		Metrics: metrics,

		ExcludeIDs:      excludeIDs,
		NotifyThreshold: cfg.NotifyThreshold,
	})

	return &app{
		cfg:      cfg,
		database: database,
		store:    store,
		orch:     orch,
		logger:   logger,
		metrics:  metrics,
		gemini:   gemini,
	}, nil
}
