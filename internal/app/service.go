// Package service implements ingestion and the read queries on top of the
// durable event store. The HTTP API depends only on its exported methods.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/okian/neurogame/internal/adapters/repository"
	"github.com/okian/neurogame/internal/domain/dedupe"
	"github.com/okian/neurogame/internal/domain/envelope"
	"github.com/okian/neurogame/internal/domain/leaderboard"
	"github.com/okian/neurogame/pkg/logger"
	"github.com/okian/neurogame/pkg/metrics"
)

// Defaults used when no option overrides them.
const (
	DefaultMaxBatchSize      = 500
	DefaultExportLimit       = 1000
	DefaultExportMaxLimit    = 5000
	DefaultRejectionsLimit   = 100
	DefaultRejectionsMax     = 1000
	DefaultDedupeSize        = 100_000
	DefaultDedupeTTL         = 10 * time.Minute
	maxStoredRawRejectionLen = 4096
)

// Service owns the ingestion pipeline and the query side.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	validator *envelope.Validator
	deduper   dedupe.Deduper

	// Configuration
	apiKey          []byte
	maxBatchSize    int
	lbDefaultLimit  int
	lbMaxLimit      int
	lbDefaultMin    int
	exportDefault   int
	exportMax       int
	dedupeSize      int
	dedupeTTL       time.Duration
	now             func() time.Time
	closeStoreOnEnd bool

	// State
	started   bool
	startedAt time.Time
	counters  counters

	logger logger.Logger
}

type counters struct {
	batches    atomic.Int64
	received   atomic.Int64
	stored     atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
	authFailed atomic.Int64
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the durable store. The service closes it on Stop.
func WithStore(s repository.Store) Option {
	return func(svc *Service) {
		if s != nil {
			svc.store = s
			svc.closeStoreOnEnd = true
		}
	}
}

// WithValidator sets a prebuilt validator.
func WithValidator(v *envelope.Validator) Option {
	return func(s *Service) {
		if v != nil {
			s.validator = v
		}
	}
}

// WithDeduper replaces the hot-retry cache.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Service) {
		if d != nil {
			s.deduper = d
		}
	}
}

// WithDedupeCache sizes the default hot-retry cache. A size of 0 disables it.
func WithDedupeCache(size int, ttl time.Duration) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
		if ttl > 0 {
			s.dedupeTTL = ttl
		}
	}
}

// WithAPIKey sets the shared key clients must present.
func WithAPIKey(key string) Option {
	return func(s *Service) {
		s.apiKey = []byte(key)
	}
}

// WithMaxBatchSize bounds the number of events per ingest request.
func WithMaxBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithLeaderboardLimits sets the default and maximum limit and the default
// minimum task count for leaderboard queries.
func WithLeaderboardLimits(defLimit, maxLimit, defMinTasks int) Option {
	return func(s *Service) {
		if maxLimit > 0 {
			s.lbMaxLimit = maxLimit
		}
		if defLimit > 0 {
			s.lbDefaultLimit = defLimit
		}
		if defMinTasks >= 0 {
			s.lbDefaultMin = defMinTasks
		}
	}
}

// WithExportLimits sets the default and maximum export page size.
func WithExportLimits(defLimit, maxLimit int) Option {
	return func(s *Service) {
		if maxLimit > 0 {
			s.exportMax = maxLimit
		}
		if defLimit > 0 {
			s.exportDefault = defLimit
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Components not supplied as options are created
// in Start.
func New(opts ...Option) *Service {
	s := &Service{
		maxBatchSize:   DefaultMaxBatchSize,
		lbDefaultLimit: leaderboard.DefaultLimit,
		lbMaxLimit:     leaderboard.MaxLimit,
		lbDefaultMin:   leaderboard.DefaultMinTasks,
		exportDefault:  DefaultExportLimit,
		exportMax:      DefaultExportMaxLimit,
		dedupeSize:     DefaultDedupeSize,
		dedupeTTL:      DefaultDedupeTTL,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start fills in missing components and marks the service ready.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.validator == nil {
		v, err := envelope.New()
		if err != nil {
			return fmt.Errorf("build validator: %w", err)
		}
		s.validator = v
	}
	if s.deduper == nil {
		s.deduper = dedupe.NewInMemoryDeduper(
			dedupe.WithMaxSize(s.dedupeSize),
			dedupe.WithTTL(s.dedupeTTL),
		)
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore(repository.WithLogger(s.logger))
		s.closeStoreOnEnd = true
		s.logger.Warn(ctx, "no store configured, events are kept in memory only")
	}
	if len(s.apiKey) == 0 {
		s.logger.Warn(ctx, "empty api key, every request will be rejected")
	}

	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "telemetry service started",
		logger.Int("maxBatchSize", s.maxBatchSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("dedupeTTL", s.dedupeTTL),
	)
	return nil
}

// Stop closes the store. It is safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if s.store != nil && s.closeStoreOnEnd {
		if err := s.store.Close(); err != nil {
			s.logger.Error(context.Background(), "close store", logger.Error(err))
		}
	}
	s.started = false
	s.logger.Info(context.Background(), "telemetry service stopped")
}

// Ready reports whether the store answers.
func (s *Service) Ready(ctx context.Context) error {
	st, err := s.components()
	if err != nil {
		return err
	}
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Service) components() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

func (s *Service) authorize(key string) error {
	if len(s.apiKey) == 0 || subtle.ConstantTimeCompare([]byte(key), s.apiKey) != 1 {
		s.counters.authFailed.Add(1)
		metrics.RecordAuthFailure()
		return ErrUnauthorized
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	started, startedAt, st := s.started, s.startedAt, s.store
	s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":      started,
		"maxBatchSize": s.maxBatchSize,
		"dedupeSize":   s.dedupeSize,
		"batches":      s.counters.batches.Load(),
		"received":     s.counters.received.Load(),
		"stored":       s.counters.stored.Load(),
		"duplicates":   s.counters.duplicates.Load(),
		"rejected":     s.counters.rejected.Load(),
		"authFailures": s.counters.authFailed.Load(),
		"goroutines":   runtime.NumGoroutine(),
	}
	if !started {
		return stats
	}
	stats["uptimeSeconds"] = int64(s.now().Sub(startedAt).Seconds())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if n, err := st.Count(ctx); err == nil {
		stats["storedEvents"] = n
		metrics.UpdateStoreEvents(n)
	} else {
		stats["storeError"] = err.Error()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metrics.UpdateSystemMemoryUsage(mem.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	return stats
}

// hashKey fingerprints the presented key for the batch record.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// clipRaw keeps a rejected candidate small enough to store. The cut lands
// on a rune boundary.
func clipRaw(raw json.RawMessage) string {
	b := []byte(raw)
	if len(b) > maxStoredRawRejectionLen {
		cut := maxStoredRawRejectionLen
		for cut > 0 && !utf8.RuneStart(b[cut]) {
			cut--
		}
		b = b[:cut]
	}
	return storableText(string(b))
}

// storableText drops invalid UTF-8 and NUL bytes, which text columns refuse.
func storableText(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, ""), "\x00", "")
}
