// Package config provides configuration loading and validation for the
// matcher.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// AuthConfig holds the control-surface auth settings, read from the
// environment so the secret never lands in a config file.
type AuthConfig struct {
	Secret          string
	ExpirationHours int
}

// NewAuthConfig reads MATCHER_AUTH_SECRET and
// MATCHER_TOKEN_EXPIRATION_HOURS (default: 24). An empty secret is not
// an error; it means the control surface runs unauthenticated.
func NewAuthConfig() (*AuthConfig, error) {
	cfg := &AuthConfig{
		Secret:          os.Getenv("MATCHER_AUTH_SECRET"),
		ExpirationHours: 24,
	}

	if v := os.Getenv("MATCHER_TOKEN_EXPIRATION_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MATCHER_TOKEN_EXPIRATION_HOURS: %v", err)
		}
		if hours < 1 {
			return nil, fmt.Errorf("MATCHER_TOKEN_EXPIRATION_HOURS must be at least 1, got: %d", hours)
		}
		cfg.ExpirationHours = hours
	}

	return cfg, nil
}

// Enabled reports whether auth is configured.
func (c *AuthConfig) Enabled() bool {
	return c.Secret != ""
}
