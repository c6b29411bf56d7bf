// Package config provides configuration defaults and utilities
// for the viewtally application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Calendar Defaults
// =============================================================================

const (
	// DefaultTimeZone is the zone every aggregation pass resolves buckets in.
	// All stat keys (year, month, week, day, hour) are computed in this zone,
	// so changing it shifts where new loads land.
	// Override via config: timezone
	DefaultTimeZone = "Asia/Jerusalem"
)

// =============================================================================
// Metastore Defaults
// =============================================================================

const (
	// DefaultMetastorePath is the DuckDB file holding both collections.
	// Override via config: metastore.path
	DefaultMetastorePath = "viewtally.db"

	// DefaultMaxOpenConns bounds the store connection pool.
	// Override via config: metastore.max_open_conns
	DefaultMaxOpenConns = 8

	// DefaultQueryTimeoutSec is the per-operation store timeout.
	// Override via config: metastore.query_timeout_sec
	DefaultQueryTimeoutSec = 30
)

// =============================================================================
// Aggregation Defaults
// =============================================================================

const (
	// MaxBatchWrites is the hard limit of staged writes per physical commit.
	// The job chunks larger passes into several commits.
	MaxBatchWrites = 500

	// DefaultBatchSize is the number of staged writes per commit.
	// Range: 1-500
	// Override via config: aggregation.batch_size
	DefaultBatchSize = MaxBatchWrites

	// DefaultFetchWorkers is the number of concurrent history lookups.
	// Override via config: aggregation.fetch_workers
	DefaultFetchWorkers = 8

	// DefaultAggregationInterval is how often the daemon runs a pass.
	// Override via config: aggregation.interval
	DefaultAggregationInterval = 15 * time.Minute
)

// =============================================================================
// Export Defaults
// =============================================================================

const (
	// DefaultExportDir is where Parquet archives are written.
	// Override via config: export.dir
	DefaultExportDir = "exports"

	// DefaultExportCompression is the Parquet codec for archives.
	// Override via config: export.compression
	DefaultExportCompression = "zstd"
)

// =============================================================================
// Auth Defaults
// =============================================================================

const (
	// DefaultPasswordEnv names the environment variable holding the admin password.
	// Override via config: auth.password_env
	DefaultPasswordEnv = "VIEWTALLY_PASSWORD"
)
