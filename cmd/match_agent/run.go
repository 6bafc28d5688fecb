package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/placement-matcher/internal/session"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a matching run and pause before the paid stages",
	Long: `Snapshots both entity populations, runs the geographic cascade and the
role-compatibility filter, and leaves the session paused with a cost
preview. No provider calls are made; advancing into the assessment
stages happens through the serve API.`,
	RunE: runStart,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file")
	rootCmd.AddCommand(runCmd)
}

func runStart(_ *cobra.Command, _ []string) error {
	cfg, err := loadMergedConfig(nil, runConfigPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	sess, err := a.orch.StartRun(ctx)
	if err != nil {
		return err
	}

	status, err := a.orch.Status(sess.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Session:    %s\n", status.SessionID)
	fmt.Printf("Stage:      %s\n", status.Stage)
	fmt.Printf("Pairs:      %d\n", status.TotalPairs)
	if status.Next != nil {
		fmt.Printf("Next stage: %s (%d pairs, estimated %.4f EUR)\n",
			status.Next.Stage, status.Next.PendingPairs, status.Next.EstimatedCost)
	}

	byMethod := make(map[string]int)
	for _, sp := range sess.Pairs {
		byMethod[string(sp.MatchedBy)]++
	}
	for _, method := range []string{"postal", "city", "distance"} {
		if byMethod[method] > 0 {
			fmt.Printf("  matched by %-8s %d\n", method+":", byMethod[method])
		}
	}

	if sess.Stage == session.StageGeoDone {
		fmt.Println("\nSession paused. Review the pairs, then advance via the API:")
		fmt.Printf("  POST /match/%s/advance\n", sess.ID)
	}
	return nil
}
