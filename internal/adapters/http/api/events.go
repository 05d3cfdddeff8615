package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/okian/neurogame/internal/app"
	"github.com/okian/neurogame/internal/domain/types"
	"github.com/okian/neurogame/pkg/logger"
)

const defaultMaxBodyBytes = 5 << 20

// IngestDependencies defines the interface for event ingestion.
type IngestDependencies interface {
	Submit(ctx context.Context, req service.SubmitRequest) (types.Receipt, error)
}

// EventsHandler handles ingest requests.
type EventsHandler struct {
	deps         IngestDependencies
	maxBodyBytes int64
	logger       logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps IngestDependencies, maxBodyBytes int64, l logger.Logger) *EventsHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &EventsHandler{deps: deps, maxBodyBytes: maxBodyBytes, logger: l}
}

// HandlePostEvents handles POST /v1/events requests. The batch is
// acknowledged with ok:true whatever mix of new, duplicate and invalid
// events it held; only auth, size and storage problems fail it.
func (h *EventsHandler) HandlePostEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_events"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var req ingestRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, WrapKind(op, ErrBodyTooLarge, err))
			return
		}
		h.fail(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}

	receipt, err := h.deps.Submit(r.Context(), req.toSubmit())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{OK: true, Receipt: receipt})
}

func (h *EventsHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= statusInternalError {
		h.logger.Error(r.Context(), "ingest failed", logger.Error(err), logger.String("code", code))
	}
	writeError(w, status, code, err)
}
