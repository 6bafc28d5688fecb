package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var compareConfigPath string

var compareCmd = &cobra.Command{
	Use:   "compare <candidate-id> <position-id>",
	Short: "Evaluate one pair through the free filters",
	Long: `Runs a single candidate/position pair through the geographic cascade and
the compatibility filter, and prices both assessment intensities.
Nothing is persisted and no provider call is made.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().StringVar(&compareConfigPath, "config", "", "Path to config.json file")
	rootCmd.AddCommand(compareCmd)
}

func runCompare(_ *cobra.Command, args []string) error {
	candidateID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid candidate id: %w", err)
	}
	positionID, err := uuid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid position id: %w", err)
	}

	cfg, err := loadMergedConfig(nil, compareConfigPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	cmp, err := a.orch.ComparePair(ctx, candidateID, positionID)
	if err != nil {
		return err
	}

	fmt.Printf("Candidate:   %s\n", cmp.CandidateID)
	fmt.Printf("Position:    %s\n", cmp.PositionID)
	if cmp.GeoMatch {
		fmt.Printf("Geo:         match (%s, %.1f km)\n", cmp.MatchedBy, cmp.DistanceKM)
	} else {
		fmt.Printf("Geo:         no match (%.1f km)\n", cmp.DistanceKM)
	}
	fmt.Printf("Compatible:  %v\n", cmp.Compatible)
	fmt.Printf("Est. coarse: %.6f EUR\n", cmp.EstimatedCoarseCost)
	fmt.Printf("Est. deep:   %.6f EUR\n", cmp.EstimatedDeepCost)
	return nil
}
