package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/neurogame/internal/domain/model"
	"github.com/okian/neurogame/pkg/logger"
)

const (
	defaultPageSize     = 1000
	maxPageSize         = 5000
	defaultMaxPages     = 10_000
	defaultPageTimeout  = 10 * time.Second
	defaultPageAttempts = 5
	exportPath          = "/v1/export/raw"
)

// Source yields a point-in-time copy of the stored events.
type Source interface {
	Fetch(ctx context.Context) ([]model.Event, error)
}

// Pager reads stored events in insertion order. repository.Store satisfies it.
type Pager interface {
	Page(ctx context.Context, limit, offset int) ([]model.Event, error)
}

// pageAll walks pages until an empty page or maxPages.
func pageAll(ctx context.Context, size, maxPages int, log logger.Logger, next func(ctx context.Context, limit, offset int) ([]model.Event, error)) ([]model.Event, error) {
	var (
		out   []model.Event
		short bool
	)
	offset := 0
	for page := 0; page < maxPages; page++ {
		rows, err := next(ctx, size, offset)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return out, nil
		}
		out = append(out, rows...)
		offset += len(rows)
		// A server whose export cap is below size answers every page short,
		// so only an empty page ends the export.
		if len(rows) < size && !short {
			short = true
			log.Debug(ctx, "export page shorter than requested",
				logger.Int("requested", size), logger.Int("got", len(rows)), logger.Int("offset", offset))
		}
	}
	log.Warn(ctx, "export stopped at page limit", logger.Int("maxPages", maxPages), logger.Int("rows", len(out)))
	return out, nil
}

// StoreSource reads straight from a store in the same process.
type StoreSource struct {
	pager    Pager
	pageSize int
	maxPages int
	logger   logger.Logger
}

// NewStoreSource pages through p.
func NewStoreSource(p Pager, pageSize int) *StoreSource {
	return &StoreSource{
		pager:    p,
		pageSize: clampPageSize(pageSize),
		maxPages: defaultMaxPages,
		logger:   logger.Get().Named("analytics.store"),
	}
}

// Fetch implements Source.
func (s *StoreSource) Fetch(ctx context.Context) ([]model.Event, error) {
	return pageAll(ctx, s.pageSize, s.maxPages, s.logger, s.pager.Page)
}

// HTTPSource pulls events from a running server's raw export endpoint.
type HTTPSource struct {
	endpoint string
	apiKey   string
	pageSize int
	maxPages int
	attempts uint64
	timeout  time.Duration
	client   *http.Client
	logger   logger.Logger
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithPageSize sets the export page size, clamped to the server maximum.
func WithPageSize(n int) HTTPOption {
	return func(s *HTTPSource) { s.pageSize = clampPageSize(n) }
}

// WithMaxPages bounds how many pages one fetch reads.
func WithMaxPages(n int) HTTPOption {
	return func(s *HTTPSource) {
		if n > 0 {
			s.maxPages = n
		}
	}
}

// WithPageAttempts bounds retries of one page request.
func WithPageAttempts(n int) HTTPOption {
	return func(s *HTTPSource) {
		if n > 0 {
			s.attempts = uint64(n)
		}
	}
}

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if c != nil {
			s.client = c
		}
	}
}

// WithSourceLogger sets a custom logger for the source.
func WithSourceLogger(l logger.Logger) HTTPOption {
	return func(s *HTTPSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewHTTPSource reads from the server at base, e.g. http://127.0.0.1:8000.
func NewHTTPSource(base, apiKey string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		endpoint: strings.TrimRight(base, "/") + exportPath,
		apiKey:   apiKey,
		pageSize: defaultPageSize,
		maxPages: defaultMaxPages,
		attempts: defaultPageAttempts,
		timeout:  defaultPageTimeout,
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("analytics.http")
	}
	return s
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context) ([]model.Event, error) {
	return pageAll(ctx, s.pageSize, s.maxPages, s.logger, s.page)
}

type exportResponse struct {
	OK    bool          `json:"ok"`
	Error string        `json:"error"`
	Rows  []model.Event `json:"rows"`
}

// page fetches one page, retrying transient failures with backoff. An
// authentication failure is final.
func (s *HTTPSource) page(ctx context.Context, limit, offset int) ([]model.Event, error) {
	q := url.Values{}
	q.Set("api_key", s.apiKey)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	target := s.endpoint + "?" + q.Encode()

	var rows []model.Event
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("get export page: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read export page: %w", err)
		}
		var out exportResponse
		decodeErr := json.Unmarshal(body, &out)
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrExport, out.Error))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("%w: status %d", ErrExport, resp.StatusCode)
		case decodeErr != nil:
			return fmt.Errorf("%w: decode page: %w", ErrExport, decodeErr)
		case !out.OK:
			return fmt.Errorf("%w: %s", ErrExport, out.Error)
		}
		rows = out.Rows
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	notify := func(err error, d time.Duration) {
		s.logger.Warn(ctx, "export page failed, retrying",
			logger.Int("offset", offset), logger.Duration("delay", d), logger.Error(err))
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, s.attempts-1), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return rows, nil
}

func clampPageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	return min(n, maxPageSize)
}
