// Package loader handles configuration file loading and validation.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Validating the result
//   - Converting it into the configs of the packages it drives
package loader

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/viewtally/config"
	"github.com/xtxerr/viewtally/internal/aggregation"
	"github.com/xtxerr/viewtally/internal/calendar"
	"github.com/xtxerr/viewtally/internal/docstore"
	"github.com/xtxerr/viewtally/internal/errors"
	"github.com/xtxerr/viewtally/internal/logging"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// Parse decodes YAML configuration text.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	if _, err := calendar.NewResolver(cfg.TimeZone); err != nil {
		errs.AddField("timezone", err.Error())
	}

	if cfg.Metastore.Path == "" {
		errs.AddField("metastore.path", "cannot be empty")
	}
	if cfg.Metastore.MaxOpenConns < 0 {
		errs.AddField("metastore.max_open_conns", "cannot be negative")
	}

	if cfg.Aggregation.BatchSize <= 0 || cfg.Aggregation.BatchSize > config.MaxBatchWrites {
		errs.AddField("aggregation.batch_size", fmt.Sprintf("must be between 1 and %d", config.MaxBatchWrites))
	}
	if cfg.Aggregation.FetchWorkers <= 0 {
		errs.AddField("aggregation.fetch_workers", "must be positive")
	}
	if cfg.Aggregation.Interval.Duration() <= 0 {
		errs.AddField("aggregation.interval", "must be positive")
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs.AddField("logging.level", err.Error())
	}

	switch strings.ToLower(cfg.Export.Compression) {
	case "", "none", "snappy", "gzip", "zstd":
	default:
		errs.AddField("export.compression", fmt.Sprintf("unknown codec %q", cfg.Export.Compression))
	}

	if cfg.Export.Retention.Duration() < 0 {
		errs.AddField("export.retention", "cannot be negative")
	}

	if cfg.Auth.PasswordEnv == "" {
		errs.AddField("auth.password_env", "cannot be empty")
	}

	return errs.Err()
}

// =============================================================================
// Conversion
// =============================================================================

// ToStoreConfig converts the metastore section into a store config.
func ToStoreConfig(cfg *Config) docstore.Config {
	sc := docstore.DefaultConfig()
	sc.DSN = cfg.Metastore.Path
	if cfg.Metastore.MaxOpenConns > 0 {
		sc.MaxOpenConns = cfg.Metastore.MaxOpenConns
	}
	if cfg.Metastore.MaxIdleConns > 0 {
		sc.MaxIdleConns = cfg.Metastore.MaxIdleConns
	}
	if d := cfg.Metastore.ConnMaxLifetime.Duration(); d > 0 {
		sc.ConnMaxLifetime = d
	}
	if d := cfg.Metastore.QueryTimeout.Duration(); d > 0 {
		sc.QueryTimeout = d
	}
	sc.MaxBatchWrites = cfg.Aggregation.BatchSize
	return sc
}

// ToJobConfig converts the aggregation section into a job config.
func ToJobConfig(cfg *Config) aggregation.Config {
	return aggregation.Config{
		BatchSize:    cfg.Aggregation.BatchSize,
		FetchWorkers: cfg.Aggregation.FetchWorkers,
	}
}
