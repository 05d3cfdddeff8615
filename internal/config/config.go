// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Keys are flat snake_case and map 1:1 to NEUROGAME_* env vars.
//   - New returns a Config populated with defaults; Load layers file and env on top.
//   - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// CompareMetricNames are the session metrics the analytics job can compare.
// It is also the default compare_metrics list.
var CompareMetricNames = []string{
	"accuracy", "answered_rate", "mean_rt", "rt_variance",
	"switch_cost", "fatigue_trend", "level_gain",
}

// DefaultAPIKey is the development key. The server warns when it is in use.
const DefaultAPIKey = "dev-key-change-me"

// Config contains process configuration for the server, the client library
// and the analytics job. Each binary reads the subset it needs.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8000".
	Addr string `koanf:"addr"`
	// APIKey is the shared secret clients present on ingest and export.
	APIKey string `koanf:"api_key"`
	// MaxBodyBytes bounds a POST /v1/events body.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
	// MaxBatchSize bounds the number of events in one ingest batch.
	MaxBatchSize int `koanf:"max_batch_size"`

	// StoreDriver selects the durable store: sqlite, postgres or memory.
	StoreDriver string `koanf:"store_driver"`
	// StorePath is the SQLite database file.
	StorePath string `koanf:"store_path"`
	// PostgresDSN is used when StoreDriver is postgres.
	PostgresDSN string `koanf:"postgres_dsn"`

	// DedupeSize and DedupeTTLSec size the recently-committed id cache.
	DedupeSize   int `koanf:"dedupe_size"`
	DedupeTTLSec int `koanf:"dedupe_ttl_sec"`

	LeaderboardDefaultLimit    int `koanf:"leaderboard_default_limit"`
	LeaderboardMaxLimit        int `koanf:"leaderboard_max_limit"`
	LeaderboardDefaultMinTasks int `koanf:"leaderboard_default_min_tasks"`
	ExportDefaultLimit         int `koanf:"export_default_limit"`
	ExportMaxLimit             int `koanf:"export_max_limit"`

	// Client side.
	EndpointURL           string  `koanf:"endpoint_url"`
	ClientVersion         string  `koanf:"client_version"`
	QueuePath             string  `koanf:"queue_path"`
	ClientBatchSize       int     `koanf:"client_batch_size"`
	FlushIntervalMS       int     `koanf:"flush_interval_ms"`
	SendTimeoutMS         int     `koanf:"send_timeout_ms"`
	BackoffInitialMS      int     `koanf:"backoff_initial_ms"`
	BackoffMaxMS          int     `koanf:"backoff_max_ms"`
	BackoffJitter         float64 `koanf:"backoff_jitter"`
	QueueMaxRetentionHour int     `koanf:"queue_max_retention_hours"`

	// Analytics job.
	AnalyticsServer   string   `koanf:"analytics_server"`
	AnalyticsPageSize int      `koanf:"analytics_page_size"`
	AnalyticsMaxPages int      `koanf:"analytics_max_pages"`
	DatasetDir        string   `koanf:"dataset_dir"`
	ReportsDir        string   `koanf:"reports_dir"`
	Permutations      int      `koanf:"permutations"`
	MinSessions       int      `koanf:"min_sessions"`
	Seed              uint64   `koanf:"seed"`
	SwitchWindow      int      `koanf:"switch_window"`
	CompareMetrics    []string `koanf:"compare_metrics"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:     "info",
		LogFormat:    "text",
		Addr:         ":8000",
		APIKey:       DefaultAPIKey,
		MaxBodyBytes: 4 << 20,
		MaxBatchSize: 500,

		StoreDriver: DriverSQLite,
		StorePath:   "data/telemetry.db",

		DedupeSize:   100_000,
		DedupeTTLSec: 600,

		LeaderboardDefaultLimit:    100,
		LeaderboardMaxLimit:        500,
		LeaderboardDefaultMinTasks: 30,
		ExportDefaultLimit:         1000,
		ExportMaxLimit:             5000,

		EndpointURL:           "http://127.0.0.1:8000",
		ClientVersion:         "neurogame-go/1",
		QueuePath:             "telemetry_queue.jsonl",
		ClientBatchSize:       100,
		FlushIntervalMS:       5000,
		SendTimeoutMS:         2500,
		BackoffInitialMS:      500,
		BackoffMaxMS:          60_000,
		BackoffJitter:         0.5,
		QueueMaxRetentionHour: 0,

		AnalyticsServer:   "http://127.0.0.1:8000",
		AnalyticsPageSize: 1000,
		AnalyticsMaxPages: 10_000,
		DatasetDir:        "data",
		ReportsDir:        "reports",
		Permutations:      10_000,
		MinSessions:       5,
		Seed:              42,
		SwitchWindow:      3,
		CompareMetrics:    slices.Clone(CompareMetricNames),
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.APIKey) == "":
		return fmt.Errorf("%w: api_key must not be empty", ErrInvalidConfig)
	case c.MaxBatchSize <= 0:
		return fmt.Errorf("%w: max_batch_size must be positive", ErrInvalidConfig)
	case c.LeaderboardMaxLimit <= 0 || c.ExportMaxLimit <= 0:
		return fmt.Errorf("%w: query limits must be positive", ErrInvalidConfig)
	case c.ClientBatchSize <= 0:
		return fmt.Errorf("%w: client_batch_size must be positive", ErrInvalidConfig)
	case c.BackoffJitter < 0 || c.BackoffJitter > 1:
		return fmt.Errorf("%w: backoff_jitter must be within [0,1]", ErrInvalidConfig)
	case c.Permutations <= 0:
		return fmt.Errorf("%w: permutations must be positive", ErrInvalidConfig)
	case c.MinSessions < 1:
		return fmt.Errorf("%w: min_sessions must be at least 1", ErrInvalidConfig)
	case c.SwitchWindow < 1:
		return fmt.Errorf("%w: switch_window must be at least 1", ErrInvalidConfig)
	}
	for _, name := range c.CompareMetrics {
		if !slices.Contains(CompareMetricNames, strings.ToLower(strings.TrimSpace(name))) {
			return fmt.Errorf("%w: unknown compare metric %q", ErrInvalidConfig, name)
		}
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.StorePath) == "" {
			return fmt.Errorf("%w: store_path is required for sqlite", ErrInvalidConfig)
		}
	case DriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("%w: postgres_dsn is required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	return nil
}

// DedupeTTL returns the cache entry lifetime.
func (c *Config) DedupeTTL() time.Duration { return time.Duration(c.DedupeTTLSec) * time.Second }

// FlushInterval returns the sender's idle wake-up period.
func (c *Config) FlushInterval() time.Duration { return ms(c.FlushIntervalMS) }

// SendTimeout bounds one delivery attempt.
func (c *Config) SendTimeout() time.Duration { return ms(c.SendTimeoutMS) }

// BackoffInitial is the first retry delay.
func (c *Config) BackoffInitial() time.Duration { return ms(c.BackoffInitialMS) }

// BackoffMax caps the retry delay.
func (c *Config) BackoffMax() time.Duration { return ms(c.BackoffMaxMS) }

// QueueMaxRetention returns 0 when events are kept until acknowledged.
func (c *Config) QueueMaxRetention() time.Duration {
	return time.Duration(c.QueueMaxRetentionHour) * time.Hour
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
