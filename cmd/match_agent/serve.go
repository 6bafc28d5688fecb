package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/placement-matcher/internal/config"
	"github.com/jonathan/placement-matcher/internal/db"
	"github.com/jonathan/placement-matcher/internal/server"
)

var (
	serveConfigPath string
	servePort       int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the matching control surface",
	Long:  `Start the HTTP server exposing the session endpoints operators drive the pipeline with, plus health and metrics.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadMergedConfig(cmd, serveConfigPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	authCfg, err := config.NewAuthConfig()
	if err != nil {
		return err
	}

	// Housekeeping: expired sessions and stale cached routes.
	scheduler := cron.New()
	routeCache := db.NewRouteCache(a.database)
	_, err = scheduler.AddFunc(cfg.GCSchedule, func() {
		collected := a.store.GCExpired(time.Now())
		a.metrics.SetActiveSessions(a.store.Count())

		pruned, err := routeCache.PruneRoutes(ctx, time.Duration(cfg.RouteCacheTTLDays)*24*time.Hour)
		if err != nil {
			a.logger.Error("route cache prune failed", zap.Error(err))
		}
		a.logger.Debug("housekeeping pass",
			zap.Int("sessions_collected", collected),
			zap.Int64("routes_pruned", pruned),
		)
	})
	if err != nil {
		return fmt.Errorf("invalid gc_schedule %q: %w", cfg.GCSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(server.Config{
		Port:       cfg.Port,
		AuthSecret: authCfg.Secret,
		TokenTTL:   time.Duration(authCfg.ExpirationHours) * time.Hour,
	}, a.orch, a.metrics, a.logger)

	return srv.Start()
}
