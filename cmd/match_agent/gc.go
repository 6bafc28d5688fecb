package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/placement-matcher/internal/db"
)

var gcConfigPath string

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Prune stale cached routes",
	Long: `Deletes route cache rows older than the configured TTL. Session
garbage collection runs on the serve scheduler since sessions live in
the serving process.`,
	RunE: runGC,
}

func init() {
	gcCmd.Flags().StringVar(&gcConfigPath, "config", "", "Path to config.json file")
	rootCmd.AddCommand(gcCmd)
}

func runGC(_ *cobra.Command, _ []string) error {
	cfg, err := loadMergedConfig(nil, gcConfigPath)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required (flag, config or environment)")
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	maxAge := time.Duration(cfg.RouteCacheTTLDays) * 24 * time.Hour
	pruned, err := db.NewRouteCache(database).PruneRoutes(ctx, maxAge)
	if err != nil {
		return err
	}

	fmt.Printf("Pruned %d cached routes older than %d days\n", pruned, cfg.RouteCacheTTLDays)
	return nil
}
