// Package dedupe keeps a bounded, expiring set of event ids that are already
// durably stored, so hot client retries can be answered without a write.
//
// The cache is an optimization only. Ids are recorded after the store has
// committed them, and a miss always falls through to the store's
// insert-if-absent, which remains the source of truth.
package dedupe

import (
	"context"
	"time"

	"github.com/ammario/tlru"
)

// Default cache sizing.
const (
	defaultMaxSize = 100_000
	defaultTTL     = 10 * time.Minute
)

// Deduper records committed event ids.
type Deduper interface {
	// Seen reports whether id is known to be stored already.
	Seen(ctx context.Context, id string) bool

	// Record marks ids as committed. Call only after a successful write.
	Record(ctx context.Context, ids ...string)
}

type tlruDeduper struct {
	cache   *tlru.Cache[string, struct{}]
	maxSize int
	ttl     time.Duration
}

// NewInMemoryDeduper creates a deduper backed by a time-aware LRU.
// A non-positive max size disables caching entirely.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &tlruDeduper{
		maxSize: defaultMaxSize,
		ttl:     defaultTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxSize <= 0 {
		return nopDeduper{}
	}
	d.cache = tlru.New[string](tlru.ConstantCost[struct{}], d.maxSize)
	return d
}

func (d *tlruDeduper) Seen(_ context.Context, id string) bool {
	_, _, ok := d.cache.Get(id)
	return ok
}

func (d *tlruDeduper) Record(_ context.Context, ids ...string) {
	for _, id := range ids {
		d.cache.Set(id, struct{}{}, d.ttl)
	}
}

type nopDeduper struct{}

func (nopDeduper) Seen(context.Context, string) bool { return false }
func (nopDeduper) Record(context.Context, ...string) {}
