package service

import (
	"context"
	"fmt"

	"github.com/okian/neurogame/internal/domain/leaderboard"
	"github.com/okian/neurogame/internal/domain/model"
	"github.com/okian/neurogame/internal/domain/types"
)

// Leaderboard ranks users by accuracy over their stored task results. nil
// arguments take the configured defaults.
func (s *Service) Leaderboard(ctx context.Context, limit, minTasks *int) (types.Leaderboard, error) {
	st, err := s.components()
	if err != nil {
		return types.Leaderboard{}, err
	}
	q := leaderboard.Normalize(limit, minTasks, s.lbDefaultLimit, s.lbMaxLimit, s.lbDefaultMin)
	totals, err := st.UserTotals(ctx)
	if err != nil {
		return types.Leaderboard{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	rows := leaderboard.Rank(totals, q)
	return types.Leaderboard{Rows: rows, Count: len(rows), Limit: q.Limit, MinTasks: q.MinTasks}, nil
}

// Export returns one page of stored events in insertion order. It takes
// the same key as ingestion.
func (s *Service) Export(ctx context.Context, apiKey string, limit, offset *int) ([]model.Event, error) {
	st, err := s.components()
	if err != nil {
		return nil, err
	}
	if err := s.authorize(apiKey); err != nil {
		return nil, err
	}
	l, o := clampPage(limit, offset, s.exportDefault, s.exportMax)
	rows, err := st.Page(ctx, l, o)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return rows, nil
}

// Rejections lists the most recent rejected events, newest first.
func (s *Service) Rejections(ctx context.Context, apiKey string, limit *int) ([]types.Rejection, error) {
	st, err := s.components()
	if err != nil {
		return nil, err
	}
	if err := s.authorize(apiKey); err != nil {
		return nil, err
	}
	l, _ := clampPage(limit, nil, DefaultRejectionsLimit, DefaultRejectionsMax)
	rows, err := st.Rejections(ctx, l)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return rows, nil
}

func clampPage(limit, offset *int, def, maxLimit int) (int, int) {
	l, o := def, 0
	if limit != nil {
		l = *limit
	}
	if offset != nil {
		o = *offset
	}
	return max(1, min(l, maxLimit)), max(0, o)
}
