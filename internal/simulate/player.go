package simulate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/okian/neurogame/internal/client"
	"github.com/okian/neurogame/internal/domain/model"
)

// Player is a synthetic user with a fixed skill and pace.
type Player struct {
	UserID string
	Mode   model.Mode
	Skill  float64 // chance of a correct answer at the lowest level
	BaseRT float64 // reaction time in ms at level zero

	faker *gofakeit.Faker
}

// ModelVersion is the model_version the player's client reports.
func (p *Player) ModelVersion() string {
	if p.Mode == model.ModeModel {
		return "ppo-v1"
	}
	return "baseline-v1"
}

// NewPlayers creates n players. Even indexes play the baseline policy, odd
// ones the model policy. The same seed and prefix give the same players.
func NewPlayers(n int, seed uint64, prefix string) []*Player {
	players := make([]*Player, n)
	for i := range n {
		f := gofakeit.New(seed + uint64(i))
		mode := model.ModeBaseline
		if i%2 == 1 {
			mode = model.ModeModel
		}
		id := fmt.Sprintf("%s-%03d", f.Username(), i)
		if prefix != "" {
			id = prefix + "-" + id
		}
		players[i] = &Player{
			UserID: id,
			Mode:   mode,
			Skill:  f.Float64Range(0.6, 0.95),
			BaseRT: f.Float64Range(350, 650),
			faker:  f,
		}
	}
	return players
}

// tally is what a player expects the server to count for them.
type tally struct {
	Tasks   int
	Correct int
}

// simClock advances a fixed amount per reading so event timestamps within a
// player are strictly increasing.
type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSimClock(start time.Time) *simClock { return &simClock{now: start} }

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(taskGapMS * time.Millisecond)
	return c.now
}

// Play runs one session through tr and returns what it tracked.
func (p *Player) Play(ctx context.Context, tr *client.Tracker, sessionID string, tasks, adaptEvery int) (tally, int, error) {
	var (
		t       tally
		events  int
		level   = 3
		window  []bool
		rtSum   float64
		rtCount int
		steps   int
	)
	mode := string(p.Mode)
	for i := range tasks {
		rt := p.BaseRT + levelRTCostMS*float64(level) + fatiguePerTask*float64(i) +
			p.faker.Float64Range(-rtJitterMS, rtJitterMS)
		pCorrect := max(0.05, min(0.98, p.Skill-levelPenalty*float64(level-levelMin)))

		res := model.TaskResult{TaskID: fmt.Sprintf("task-%d", i), Mode: mode, Level: model.IntPtr(level)}
		if rt <= deadlineMS {
			res.RTMs = model.IntPtr(int(rt))
			res.Correct = p.faker.Float64Range(0, 1) < pCorrect
			rtSum += rt
			rtCount++
		}
		if _, err := tr.Track(ctx, p.UserID, sessionID, res); err != nil {
			return t, events, err
		}
		events++
		t.Tasks++
		if res.Correct {
			t.Correct++
		}
		window = append(window, res.Correct)

		if (i+1)%adaptEvery != 0 || i+1 == tasks {
			continue
		}
		delta := p.adapt(window)
		window = window[:0]
		level = max(levelMin, min(levelMax, level+delta))
		steps++
		step := model.AdaptationStep{Step: steps, DeltaLevel: delta, Level: level, Mode: mode}
		if _, err := tr.Track(ctx, p.UserID, sessionID, step); err != nil {
			return t, events, err
		}
		events++
	}

	end := model.SessionEnd{TotalTasks: t.Tasks, ExitReason: "completed", Mode: mode}
	if t.Tasks > 0 {
		end.AccuracyTotal = float64(t.Correct) / float64(t.Tasks)
	}
	if rtCount > 0 {
		end.MeanRT = rtSum / float64(rtCount)
	}
	if _, err := tr.Track(ctx, p.UserID, sessionID, end); err != nil {
		return t, events, err
	}
	return t, events + 1, nil
}

// adapt picks the next level change. The baseline policy is a fixed
// staircase; the model policy follows recent accuracy.
func (p *Player) adapt(window []bool) int {
	if p.Mode != model.ModeModel {
		return 1
	}
	correct := 0
	for _, ok := range window {
		if ok {
			correct++
		}
	}
	acc := float64(correct) / float64(len(window))
	switch {
	case acc >= adaptUpAcc:
		return 1
	case acc <= adaptDownAcc:
		return -1
	}
	return 0
}
