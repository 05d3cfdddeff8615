package analytics

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/okian/neurogame/internal/domain/model"
)

// SessionMetrics summarizes one session's task results. Reaction-time
// figures cover answered tasks only; accuracy counts timeouts as wrong.
// LevelGain is the last reported task level minus the first.
type SessionMetrics struct {
	SessionID     string     `json:"session_id"`
	UserID        string     `json:"user_id"`
	Mode          model.Mode `json:"mode"`
	Tasks         int        `json:"tasks"`
	Answered      int        `json:"answered"`
	Correct       int        `json:"correct"`
	Accuracy      float64    `json:"accuracy"`
	AnsweredRate  float64    `json:"answered_rate"`
	MeanRT        float64    `json:"mean_rt"`
	RTStdDev      float64    `json:"rt_stddev"`
	RTVariance    float64    `json:"rt_variance"`
	SwitchCost    float64    `json:"switch_cost"`
	SwitchSamples int        `json:"switch_samples"`
	FatigueTrend  float64    `json:"fatigue_trend"`
	LevelGain     float64    `json:"level_gain"`
	Adaptations   int        `json:"adaptations"`
	Ended         bool       `json:"ended"`
	Partial       bool       `json:"partial"`
	ModeConflicts int        `json:"mode_conflicts,omitempty"`
}

// sessionEvents is one session's events in timeline order.
type sessionEvents struct {
	id     string
	events []model.Event
}

// groupSessions buckets events by session and orders each bucket by
// timestamp with event_id as the tie-break. Buckets come back sorted by id.
func groupSessions(events []model.Event) []sessionEvents {
	bySession := make(map[string][]model.Event)
	for _, e := range events {
		bySession[e.SessionID] = append(bySession[e.SessionID], e)
	}
	out := make([]sessionEvents, 0, len(bySession))
	for id, evs := range bySession {
		slices.SortFunc(evs, model.ByTimeThenID)
		out = append(out, sessionEvents{id: id, events: evs})
	}
	slices.SortFunc(out, func(a, b sessionEvents) int { return strings.Compare(a.id, b.id) })
	return out
}

// ComputeSessions derives per-session metrics. Sessions without task
// results yield no row. Rows are sorted by session id, whatever the
// worker count.
func ComputeSessions(ctx context.Context, events []model.Event, switchWindow, workers int) ([]SessionMetrics, error) {
	if switchWindow < 1 {
		switchWindow = DefaultSwitchWindow
	}
	groups := groupSessions(events)
	results := make([]*SessionMetrics, len(groups))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, grp := range groups {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, ok, err := summarize(grp, switchWindow)
			if err != nil {
				return fmt.Errorf("session %s: %w", grp.id, err)
			}
			if ok {
				results[i] = &m
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]SessionMetrics, 0, len(results))
	for _, m := range results {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// summarize computes one session. ok is false when the session holds no
// task results.
func summarize(s sessionEvents, switchWindow int) (SessionMetrics, bool, error) {
	m := SessionMetrics{SessionID: s.id}
	if len(s.events) == 0 {
		return m, false, nil
	}
	first := s.events[0]
	m.UserID = first.UserID
	m.Mode = first.Mode()

	var (
		rts       []float64 // answered reaction times
		pending   []float64 // switch baselines waiting for their first answered task
		switchSum float64
		levels    []int
	)
	for _, e := range s.events {
		if mode := e.Mode(); mode != m.Mode {
			m.ModeConflicts++
		}
		p, err := e.Decode()
		if err != nil {
			return m, false, fmt.Errorf("event %s: %w", e.EventID, err)
		}
		switch v := p.(type) {
		case model.TaskResult:
			m.Tasks++
			if v.Correct {
				m.Correct++
			}
			if v.Level != nil {
				levels = append(levels, *v.Level)
			}
			if v.RTMs == nil {
				continue
			}
			rt := float64(*v.RTMs)
			for _, base := range pending {
				switchSum += rt - base
				m.SwitchSamples++
			}
			pending = pending[:0]
			rts = append(rts, rt)
		case model.AdaptationStep:
			m.Adaptations++
			if len(rts) > 0 {
				window := rts[max(0, len(rts)-switchWindow):]
				pending = append(pending, stat.Mean(window, nil))
			}
		case model.SessionEnd:
			m.Ended = true
			m.Partial = m.Partial || v.Partial
		}
	}
	if m.Tasks == 0 {
		return m, false, nil
	}

	m.Answered = len(rts)
	m.Accuracy = float64(m.Correct) / float64(m.Tasks)
	m.AnsweredRate = float64(m.Answered) / float64(m.Tasks)
	if len(levels) > 0 {
		m.LevelGain = float64(levels[len(levels)-1] - levels[0])
	}
	if len(rts) > 0 {
		m.MeanRT, m.RTVariance = stat.PopMeanVariance(rts, nil)
		m.RTStdDev = math.Sqrt(m.RTVariance)
	}
	if m.SwitchSamples > 0 {
		m.SwitchCost = switchSum / float64(m.SwitchSamples)
	}
	// The trend runs over answered tasks in order; timeouts leave no gap.
	if len(rts) >= 2 {
		xs := make([]float64, len(rts))
		for i := range xs {
			xs[i] = float64(i)
		}
		_, m.FatigueTrend = stat.LinearRegression(xs, rts, nil, false)
	}
	return m, true, nil
}
