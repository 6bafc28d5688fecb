package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/placement-matcher/internal/config"
	"github.com/jonathan/placement-matcher/internal/server"
)

var tokenOperator string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator token for the control surface",
	Long:  `Signs a bearer token with MATCHER_AUTH_SECRET for use against the mutating serve endpoints.`,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "Operator name embedded in the token")
	_ = tokenCmd.MarkFlagRequired("operator")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(_ *cobra.Command, _ []string) error {
	authCfg, err := config.NewAuthConfig()
	if err != nil {
		return err
	}
	if !authCfg.Enabled() {
		return fmt.Errorf("MATCHER_AUTH_SECRET is not set")
	}

	svc := server.NewJWTService(authCfg.Secret, time.Duration(authCfg.ExpirationHours)*time.Hour)
	token, err := svc.GenerateToken(tokenOperator)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
