// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	service "github.com/okian/neurogame/internal/app"
	"github.com/okian/neurogame/internal/domain/model"
	"github.com/okian/neurogame/internal/domain/types"
	"github.com/okian/neurogame/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	IngestDependencies
	LeaderboardDependencies
	ExportDependencies
	ReadinessChecker
}

// Server wires HTTP routes for the telemetry API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	eventsHandler      *EventsHandler
	leaderboardHandler *LeaderboardHandler
	exportHandler      *ExportHandler
}

// Option configures the Server.
type Option func(*serverOptions)

type serverOptions struct {
	maxBodyBytes int64
	logger       logger.Logger
}

// WithMaxBodyBytes bounds the size of an ingest request body.
func WithMaxBodyBytes(n int64) Option {
	return func(o *serverOptions) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// WithLogger sets the logger used for handler failures.
func WithLogger(l logger.Logger) Option {
	return func(o *serverOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	o := &serverOptions{maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("api")
	}
	return &Server{
		healthHandler:      NewHealthHandler(deps),
		statsHandler:       NewStatsHandler(statsProvider),
		eventsHandler:      NewEventsHandler(deps, o.maxBodyBytes, o.logger),
		leaderboardHandler: NewLeaderboardHandler(deps, o.logger),
		exportHandler:      NewExportHandler(deps, o.logger),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/health", MetricsMiddleware(s.healthHandler.HandleHealth, "health"))
	mux.HandleFunc("/ready", MetricsMiddleware(s.healthHandler.HandleReady, "ready"))
	mux.Handle("/metrics", s.healthHandler.MetricsHandler())
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/v1/events", MetricsMiddleware(s.eventsHandler.HandlePostEvents, "events"))
	mux.HandleFunc("/v1/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/v1/export/raw", MetricsMiddleware(s.exportHandler.HandleExportRaw, "export_raw"))
	mux.HandleFunc("/v1/diagnostics/rejections", MetricsMiddleware(s.exportHandler.HandleRejections, "rejections"))
}

// ingestRequest mirrors the OpenAPI schema for POST /v1/events.
type ingestRequest struct {
	APIKey        string            `json:"api_key"`
	ClientVersion string            `json:"client_version"`
	Events        []json.RawMessage `json:"events"`
}

func (r ingestRequest) toSubmit() service.SubmitRequest {
	return service.SubmitRequest{APIKey: r.APIKey, ClientVersion: r.ClientVersion, Events: r.Events}
}

type okResponse struct {
	OK bool `json:"ok"`
}

type ingestResponse struct {
	OK bool `json:"ok"`
	types.Receipt
}

type leaderboardResponse struct {
	OK bool `json:"ok"`
	types.Leaderboard
}

type exportResponse struct {
	OK   bool          `json:"ok"`
	Rows []model.Event `json:"rows"`
}

type rejectionsResponse struct {
	OK   bool              `json:"ok"`
	Rows []types.Rejection `json:"rows"`
}

type errorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := ""
	if err != nil && status < statusInternalError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{OK: false, Error: code, Message: msg})
}

// queryInt reads an optional integer parameter. A missing parameter yields
// nil so the service applies its default.
func queryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, WrapKind("api.query", ErrBadRequest, err)
	}
	return &n, nil
}

// apiKey takes the key from the query string or the X-API-Key header.
func apiKey(r *http.Request) string {
	if k := r.URL.Query().Get("api_key"); k != "" {
		return k
	}
	return r.Header.Get("X-API-Key")
}
