package loader

import (
	"time"

	"github.com/xtxerr/viewtally/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure.
type Config struct {
	// TimeZone is the IANA zone all calendar buckets are resolved in.
	TimeZone string `yaml:"timezone"`

	Metastore   MetastoreConfig   `yaml:"metastore"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Export      ExportConfig      `yaml:"export"`
	Auth        AuthConfig        `yaml:"auth"`
}

// MetastoreConfig configures the DuckDB document store.
type MetastoreConfig struct {
	// Path is the database file. ":memory:" keeps everything in memory.
	Path string `yaml:"path"`

	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    Duration `yaml:"query_timeout"`
}

// AggregationConfig configures aggregation passes.
type AggregationConfig struct {
	// BatchSize is the number of writes per physical commit (max 500).
	BatchSize int `yaml:"batch_size"`

	// FetchWorkers bounds concurrent history lookups within a pass.
	FetchWorkers int `yaml:"fetch_workers"`

	// Interval is the daemon's pass cadence.
	Interval Duration `yaml:"interval"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// ExportConfig configures Parquet archive export.
type ExportConfig struct {
	Dir         string `yaml:"dir"`
	Compression string `yaml:"compression"`

	// Retention prunes exports older than this after each export. Zero keeps all.
	Retention Duration `yaml:"retention"`
}

// AuthConfig configures the admin shell credential gate.
type AuthConfig struct {
	// PasswordEnv names the environment variable holding the admin password.
	PasswordEnv string `yaml:"password_env"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		TimeZone: config.DefaultTimeZone,

		Metastore: MetastoreConfig{
			Path:            config.DefaultMetastorePath,
			MaxOpenConns:    config.DefaultMaxOpenConns,
			MaxIdleConns:    2,
			ConnMaxLifetime: Duration(5 * time.Minute),
			QueryTimeout:    Duration(time.Duration(config.DefaultQueryTimeoutSec) * time.Second),
		},

		Aggregation: AggregationConfig{
			BatchSize:    config.DefaultBatchSize,
			FetchWorkers: config.DefaultFetchWorkers,
			Interval:     Duration(config.DefaultAggregationInterval),
		},

		Logging: LoggingConfig{
			Level: "info",
		},

		Export: ExportConfig{
			Dir:         config.DefaultExportDir,
			Compression: config.DefaultExportCompression,
		},

		Auth: AuthConfig{
			PasswordEnv: config.DefaultPasswordEnv,
		},
	}
}

// =============================================================================
// Duration
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
// Supports: "15m", "1h30m", or plain seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int (seconds)
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
