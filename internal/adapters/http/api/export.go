package api

import (
	"context"
	"net/http"

	"github.com/okian/neurogame/internal/domain/model"
	"github.com/okian/neurogame/internal/domain/types"
	"github.com/okian/neurogame/pkg/logger"
)

// ExportDependencies defines the authenticated read operations.
type ExportDependencies interface {
	Export(ctx context.Context, apiKey string, limit, offset *int) ([]model.Event, error)
	Rejections(ctx context.Context, apiKey string, limit *int) ([]types.Rejection, error)
}

// ExportHandler serves raw event pages and the rejection log.
type ExportHandler struct {
	deps   ExportDependencies
	logger logger.Logger
}

// NewExportHandler creates a new export handler.
func NewExportHandler(deps ExportDependencies, l logger.Logger) *ExportHandler {
	return &ExportHandler{deps: deps, logger: l}
}

// HandleExportRaw handles GET /v1/export/raw?api_key=&limit=&offset= requests.
func (h *ExportHandler) HandleExportRaw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	rows, err := h.deps.Export(r.Context(), apiKey(r), limit, offset)
	if err != nil {
		h.fail(w, r, "export failed", err)
		return
	}
	if rows == nil {
		rows = []model.Event{}
	}
	writeJSON(w, http.StatusOK, exportResponse{OK: true, Rows: rows})
}

// HandleRejections handles GET /v1/diagnostics/rejections?api_key=&limit= requests.
func (h *ExportHandler) HandleRejections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	rows, err := h.deps.Rejections(r.Context(), apiKey(r), limit)
	if err != nil {
		h.fail(w, r, "rejections failed", err)
		return
	}
	if rows == nil {
		rows = []types.Rejection{}
	}
	writeJSON(w, http.StatusOK, rejectionsResponse{OK: true, Rows: rows})
}

func (h *ExportHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, code := statusFor(err)
	if status >= statusInternalError {
		h.logger.Error(r.Context(), msg, logger.Error(err))
	}
	writeError(w, status, code, err)
}
