// Package config provides configuration loading and validation for the
// matcher.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// Config is the matcher configuration, loadable from a JSON file. All
// fields are optional; missing values fall back to DefaultConfig or to
// CLI flags.
type Config struct {
	// Infrastructure
	DatabaseURL string `json:"database_url,omitempty"`
	APIKey      string `json:"api_key,omitempty"` // Gemini API key
	Port        int    `json:"port,omitempty" validate:"gte=0,lte=65535"`

	// Geo cascade
	RadiusKM float64 `json:"radius_km,omitempty" validate:"gte=0"`

	// Compatibility table
	CompatTablePath string `json:"compat_table_path,omitempty"`
	WatchCompat     bool   `json:"watch_compat,omitempty"`

	// ExcludeEntitiesPath names a file of entity ids (one UUID per
	// line, # comments) that never participate in a run.
	ExcludeEntitiesPath string `json:"exclude_entities_path,omitempty"`

	// Assessment
	Concurrency         int    `json:"concurrency,omitempty" validate:"gte=0,lte=16"`
	CallTimeoutSec      int    `json:"call_timeout_sec,omitempty" validate:"gte=0"`
	MaxRetries          int    `json:"max_retries,omitempty" validate:"gte=0,lte=10"`
	SaturationThreshold int    `json:"saturation_threshold,omitempty" validate:"gte=0"`
	CoarseModel         string `json:"coarse_model,omitempty"`
	DeepModel           string `json:"deep_model,omitempty"`

	// Travel-time enrichment
	DistanceBatchLimit int     `json:"distance_batch_limit,omitempty" validate:"gte=0,lte=25"`
	DistanceRatePerSec float64 `json:"distance_rate_per_sec,omitempty" validate:"gte=0"`
	RouteCacheTTLDays  int     `json:"route_cache_ttl_days,omitempty" validate:"gte=0"`

	// NotifyThreshold is the minimum stage-two score for a per-match
	// notification.
	NotifyThreshold float64 `json:"notify_threshold,omitempty" validate:"gte=0,lte=10"`

	// Session housekeeping
	TerminalTTLHours  int    `json:"terminal_ttl_hours,omitempty" validate:"gte=0"`
	AbandonedTTLHours int    `json:"abandoned_ttl_hours,omitempty" validate:"gte=0"`
	GCSchedule        string `json:"gc_schedule,omitempty"`

	// Logging
	LogJSON bool `json:"log_json,omitempty"`
	Debug   bool `json:"debug,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Port:                8080,
		RadiusKM:            35,
		Concurrency:         3,
		CallTimeoutSec:      60,
		MaxRetries:          2,
		SaturationThreshold: 3,
		CoarseModel:         "gemini-2.5-flash-lite",
		DeepModel:           "gemini-2.5-pro",
		DistanceBatchLimit:  25,
		RouteCacheTTLDays:   30,
		NotifyThreshold:     7,
		TerminalTTLHours:    24,
		AbandonedTTLHours:   7 * 24,
		GCSchedule:          "@hourly",
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks numeric ranges and referenced files.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.CompatTablePath != "" {
		if _, err := os.Stat(c.CompatTablePath); os.IsNotExist(err) {
			return fmt.Errorf("config error: compat table not found: %s", c.CompatTablePath)
		}
	}
	if c.ExcludeEntitiesPath != "" {
		if _, err := os.Stat(c.ExcludeEntitiesPath); os.IsNotExist(err) {
			return fmt.Errorf("config error: exclude list not found: %s", c.ExcludeEntitiesPath)
		}
	}
	return nil
}

// MergeWithDefaults returns a new Config with zero-valued fields filled
// from defaults. File values win over defaults; CLI flags are applied on
// top by the command layer.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.RadiusKM == 0 {
		result.RadiusKM = defaults.RadiusKM
	}
	if result.CompatTablePath == "" {
		result.CompatTablePath = defaults.CompatTablePath
	}
	if result.Concurrency == 0 {
		result.Concurrency = defaults.Concurrency
	}
	if result.CallTimeoutSec == 0 {
		result.CallTimeoutSec = defaults.CallTimeoutSec
	}
	if result.MaxRetries == 0 {
		result.MaxRetries = defaults.MaxRetries
	}
	if result.SaturationThreshold == 0 {
		result.SaturationThreshold = defaults.SaturationThreshold
	}
	if result.CoarseModel == "" {
		result.CoarseModel = defaults.CoarseModel
	}
	if result.DeepModel == "" {
		result.DeepModel = defaults.DeepModel
	}
	if result.DistanceBatchLimit == 0 {
		result.DistanceBatchLimit = defaults.DistanceBatchLimit
	}
	if result.DistanceRatePerSec == 0 {
		result.DistanceRatePerSec = defaults.DistanceRatePerSec
	}
	if result.RouteCacheTTLDays == 0 {
		result.RouteCacheTTLDays = defaults.RouteCacheTTLDays
	}
	if result.NotifyThreshold == 0 {
		result.NotifyThreshold = defaults.NotifyThreshold
	}
	if result.TerminalTTLHours == 0 {
		result.TerminalTTLHours = defaults.TerminalTTLHours
	}
	if result.AbandonedTTLHours == 0 {
		result.AbandonedTTLHours = defaults.AbandonedTTLHours
	}
	if result.GCSchedule == "" {
		result.GCSchedule = defaults.GCSchedule
	}

	return result
}
