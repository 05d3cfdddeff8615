package api

import (
	"context"
	"net/http"

	"github.com/okian/neurogame/internal/domain/types"
	"github.com/okian/neurogame/pkg/logger"
)

// LeaderboardDependencies defines the interface for leaderboard operations
type LeaderboardDependencies interface {
	Leaderboard(ctx context.Context, limit, minTasks *int) (types.Leaderboard, error)
}

// LeaderboardHandler handles leaderboard requests
type LeaderboardHandler struct {
	deps   LeaderboardDependencies
	logger logger.Logger
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(deps LeaderboardDependencies, l logger.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{deps: deps, logger: l}
}

// HandleGetLeaderboard handles GET /v1/leaderboard?limit=N&min_tasks=M requests.
// Out-of-range values are clamped rather than refused.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	minTasks, err := queryInt(r, "min_tasks")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	lb, err := h.deps.Leaderboard(r.Context(), limit, minTasks)
	if err != nil {
		status, code := statusFor(err)
		h.logger.Error(r.Context(), "leaderboard failed", logger.Error(err))
		writeError(w, status, code, err)
		return
	}
	if lb.Rows == nil {
		lb.Rows = []types.LeaderboardRow{}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{OK: true, Leaderboard: lb})
}
