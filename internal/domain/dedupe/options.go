package dedupe

import "time"

// Option applies a configuration option to the deduper.
type Option func(*tlruDeduper)

// WithMaxSize sets the maximum number of ids kept in memory.
// Zero or negative disables the cache.
func WithMaxSize(maxSize int) Option {
	return func(d *tlruDeduper) {
		d.maxSize = maxSize
	}
}

// WithTTL sets how long a recorded id is remembered.
func WithTTL(ttl time.Duration) Option {
	return func(d *tlruDeduper) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}
