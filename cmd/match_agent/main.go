// Package main provides the entry point for the placement matcher.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "match_agent",
	Short: "Placement matching pipeline",
	Long:  "match_agent pairs candidates with open positions through a staged pipeline: geographic cascade, role compatibility, two operator-gated assessment stages and travel-time enrichment.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
