package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/okian/neurogame/internal/domain/types"
	"github.com/okian/neurogame/pkg/logger"
)

// leaderboardPageLimit is the largest limit the server accepts by default.
const leaderboardPageLimit = 500

type leaderboardResponse struct {
	OK   bool                   `json:"ok"`
	Rows []types.LeaderboardRow `json:"rows"`
}

// verify compares every simulated player that made it onto the leaderboard
// against the tally it produced. A player with more tasks than expected
// means events were stored twice; fewer means events were lost.
func (r *Runner) verify(ctx context.Context, expected map[string]tally) (int, error) {
	rows, err := r.leaderboard(ctx, min(len(expected), leaderboardPageLimit))
	if err != nil {
		return 0, fmt.Errorf("leaderboard retrieval failed: %w", err)
	}
	verified, err := checkRows(rows, expected)
	if err != nil {
		return verified, err
	}
	if err := checkOrder(rows); err != nil {
		return verified, err
	}
	if verified == 0 && len(expected) > 0 {
		return 0, fmt.Errorf("%w: none of %d players on the leaderboard", ErrMismatch, len(expected))
	}
	if verified < len(expected) {
		// Other users outranked some players; they were not checked.
		r.logger.Warn(ctx, "some players not on the leaderboard page",
			logger.Int("verified", verified), logger.Int("players", len(expected)))
	}
	r.logger.Info(ctx, "leaderboard verified", logger.Int("players", verified))
	return verified, nil
}

func checkRows(rows []types.LeaderboardRow, expected map[string]tally) (int, error) {
	var (
		verified int
		errs     []error
	)
	for _, row := range rows {
		want, ok := expected[row.UserID]
		if !ok {
			continue
		}
		verified++
		if row.Tasks != want.Tasks {
			errs = append(errs, fmt.Errorf("%w: %s has %d tasks, expected %d", ErrMismatch, row.UserID, row.Tasks, want.Tasks))
			continue
		}
		acc := float64(want.Correct) / float64(want.Tasks)
		if math.Abs(row.Accuracy-acc) > 1e-9 {
			errs = append(errs, fmt.Errorf("%w: %s accuracy %.4f, expected %.4f", ErrMismatch, row.UserID, row.Accuracy, acc))
		}
	}
	return verified, errors.Join(errs...)
}

// checkOrder confirms the documented ordering: accuracy desc, tasks desc,
// user id asc.
func checkOrder(rows []types.LeaderboardRow) error {
	for i := 1; i < len(rows); i++ {
		a, b := rows[i-1], rows[i]
		switch {
		case a.Accuracy > b.Accuracy:
		case a.Accuracy == b.Accuracy && a.Tasks > b.Tasks:
		case a.Accuracy == b.Accuracy && a.Tasks == b.Tasks && a.UserID < b.UserID:
		default:
			return fmt.Errorf("%w: rows %d and %d out of order", ErrMismatch, i-1, i)
		}
	}
	return nil
}

func (r *Runner) leaderboard(ctx context.Context, limit int) ([]types.LeaderboardRow, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(max(1, limit)))
	q.Set("min_tasks", "0")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/v1/leaderboard?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("leaderboard returned status %d", resp.StatusCode)
	}
	var out leaderboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode leaderboard: %w", err)
	}
	return out.Rows, nil
}
