package analytics

import (
	"github.com/okian/neurogame/pkg/logger"
)

// Defaults for the analytics job.
const (
	DefaultPermutations = 10_000
	DefaultMinSessions  = 5
	DefaultSeed         = 42
	DefaultSwitchWindow = 3
	DefaultDatasetDir   = "data"
	DefaultReportsDir   = "reports"
)

// DefaultMetrics are compared when no metric list is configured.
var DefaultMetrics = []string{
	MetricAccuracy, MetricAnsweredRate, MetricMeanRT, MetricRTVariance,
	MetricSwitchCost, MetricFatigueTrend, MetricLevelGain,
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithDatasetDir sets where the dataset bridge files are written.
func WithDatasetDir(dir string) Option {
	return func(e *Engine) {
		if dir != "" {
			e.datasetDir = dir
		}
	}
}

// WithReportsDir sets where the report files are written.
func WithReportsDir(dir string) Option {
	return func(e *Engine) {
		if dir != "" {
			e.reportsDir = dir
		}
	}
}

// WithPermutations sets the permutation count of the significance test.
func WithPermutations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.cmp.Permutations = n
		}
	}
}

// WithMinSessions sets the per-group minimum for a comparison.
func WithMinSessions(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.cmp.MinSessions = n
		}
	}
}

// WithSeed fixes the permutation random source.
func WithSeed(seed uint64) Option {
	return func(e *Engine) { e.cmp.Seed = seed }
}

// WithSwitchWindow sets how many answered tasks before an adaptation step
// form the switch-cost baseline.
func WithSwitchWindow(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.switchWindow = n
		}
	}
}

// WithMetrics selects the metrics compared between modes.
func WithMetrics(names ...string) Option {
	return func(e *Engine) {
		if len(names) > 0 {
			e.metrics = append([]string(nil), names...)
		}
	}
}

// WithWorkers bounds the number of sessions computed concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
