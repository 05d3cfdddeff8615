// Package leaderboard ranks users by task accuracy.
package leaderboard

import (
	"slices"
	"strings"

	"github.com/okian/neurogame/internal/domain/types"
)

// Query bounds.
const (
	DefaultLimit    = 100
	MaxLimit        = 500
	DefaultMinTasks = 30
)

// Query holds a normalized leaderboard request.
type Query struct {
	Limit    int
	MinTasks int
}

// Normalize clamps a raw request: missing values (nil) take the defaults,
// limit is forced into [1, maxLimit] and min_tasks is at least 0.
func Normalize(limit, minTasks *int, defLimit, maxLimit, defMinTasks int) Query {
	q := Query{Limit: defLimit, MinTasks: defMinTasks}
	if limit != nil {
		q.Limit = *limit
	}
	if minTasks != nil {
		q.MinTasks = *minTasks
	}
	q.Limit = max(1, min(q.Limit, maxLimit))
	q.MinTasks = max(0, q.MinTasks)
	return q
}

// Rank filters users below q.MinTasks and orders the rest by accuracy desc,
// tasks desc, user id asc. Accuracy is compared as an exact ratio so equal
// fractions tie regardless of float rounding. Ranks are 1-based positions.
func Rank(totals []types.UserTotals, q Query) []types.LeaderboardRow {
	eligible := make([]types.UserTotals, 0, len(totals))
	for _, t := range totals {
		if t.Tasks > 0 && t.Tasks >= int64(q.MinTasks) {
			eligible = append(eligible, t)
		}
	}

	slices.SortFunc(eligible, compare)

	n := min(len(eligible), q.Limit)
	rows := make([]types.LeaderboardRow, n)
	for i := 0; i < n; i++ {
		t := eligible[i]
		rows[i] = types.LeaderboardRow{
			Rank:     i + 1,
			UserID:   t.UserID,
			Accuracy: float64(t.Correct) / float64(t.Tasks),
			Tasks:    int(t.Tasks),
		}
	}
	return rows
}

func compare(a, b types.UserTotals) int {
	// a.Correct/a.Tasks vs b.Correct/b.Tasks without division.
	l, r := a.Correct*b.Tasks, b.Correct*a.Tasks
	switch {
	case l > r:
		return -1
	case l < r:
		return 1
	}
	switch {
	case a.Tasks > b.Tasks:
		return -1
	case a.Tasks < b.Tasks:
		return 1
	}
	return strings.Compare(a.UserID, b.UserID)
}
