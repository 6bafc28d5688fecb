package compat

import (
	_ "embed"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

//go:embed schema.json
var tableSchema string

// LoadTableFile reads a compatibility table from a YAML (or JSON) file:
//
//	rules:
//	  LohnBu: [FiBu]
//	  FiBu:   [FiBu, Controlling]
//
// The document is validated against the embedded JSON schema before a
// Table is built, so a malformed edit never produces a half-usable
// table.
func LoadTableFile(path string) (*Table, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read compatibility table %s: %w", path, err)
	}

	return tableFromViper(v)
}

func tableFromViper(v *viper.Viper) (*Table, error) {
	if err := validateDocument(v.AllSettings()); err != nil {
		return nil, err
	}
	return NewTable(v.GetStringMapStringSlice("rules")), nil
}

func validateDocument(doc map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(tableSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to validate compatibility table: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("invalid compatibility table: %v", result.Errors())
	}
	return nil
}

// WatchTableFile loads the table from path into filter and keeps it hot:
// on every file change the document is re-read, re-validated and swapped
// in. A failed reload keeps the previous table and logs the error, so a
// bad edit never takes the filter down.
func WatchTableFile(path string, filter *Filter, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read compatibility table %s: %w", path, err)
	}

	table, err := tableFromViper(v)
	if err != nil {
		return err
	}
	filter.Swap(table)

	v.OnConfigChange(func(_ fsnotify.Event) {
		reloaded, err := tableFromViper(v)
		if err != nil {
			logger.Error("compatibility table reload rejected, keeping previous table",
				zap.String("path", path),
				zap.Error(err),
			)
			return
		}
		filter.Swap(reloaded)
	})
	v.WatchConfig()

	return nil
}
