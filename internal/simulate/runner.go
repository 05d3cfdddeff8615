// Package simulate drives synthetic players through the real client stack
// (tracker, durable queue and sender) against a running server, then checks
// the leaderboard against what the players produced.
package simulate

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/neurogame/internal/adapters/mq/queue"
	"github.com/okian/neurogame/internal/adapters/mq/sender"
	"github.com/okian/neurogame/internal/client"
	"github.com/okian/neurogame/pkg/logger"
)

// Runner executes simulations.
type Runner struct {
	cfg    Config
	http   *http.Client
	start  time.Time
	prefix string
	logger logger.Logger
}

// NewRunner prepares a run. prefix namespaces the generated user ids so
// repeated runs against one server do not mix.
func NewRunner(cfg Config, prefix string, start time.Time) *Runner {
	cfg = cfg.withDefaults()
	return &Runner{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		start:  start,
		prefix: prefix,
		logger: logger.Get().Named("simulate"),
	}
}

// Run plays every player's sessions, waits for delivery and verifies the
// leaderboard.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now(), PerModeUser: map[string]int{}}
	cfg := r.cfg

	r.logger.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("users", cfg.Users),
		logger.Int("sessionsPerUser", cfg.SessionsPerUser),
		logger.Int("tasksPerSession", cfg.TasksPerSession),
		logger.Int("workers", cfg.Workers),
	)

	if err := r.checkHealth(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	players := NewPlayers(cfg.Users, cfg.Seed, r.prefix)
	var (
		mu       sync.Mutex
		expected = make(map[string]tally, len(players))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, p := range players {
		g.Go(func() error {
			t, res, err := r.runPlayer(gctx, p, r.start.Add(time.Duration(i)*time.Hour))
			if err != nil {
				return fmt.Errorf("player %s: %w", p.UserID, err)
			}
			mu.Lock()
			defer mu.Unlock()
			expected[p.UserID] = t
			stats.Players++
			stats.Sessions += cfg.SessionsPerUser
			stats.Events += res.events
			stats.Tasks += t.Tasks
			stats.Attempts += res.sender.Attempts
			stats.Failures += res.sender.Failures
			stats.PerModeUser[string(p.Mode)]++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	verified, err := r.verify(ctx, expected)
	stats.Verified = verified
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	r.displayFinalStats(ctx, stats)
	if err != nil {
		return stats, err
	}
	r.logger.Info(ctx, "simulation completed successfully")
	return stats, nil
}

type playerResult struct {
	events int
	sender sender.Stats
}

// runPlayer gives one player its own queue, tracker and sender, plays all
// sessions and waits until the queue is empty.
func (r *Runner) runPlayer(ctx context.Context, p *Player, start time.Time) (tally, playerResult, error) {
	cfg := r.cfg
	var (
		total tally
		res   playerResult
	)

	q, err := queue.Open(ctx, filepath.Join(cfg.QueueDir, p.UserID+".jsonl"),
		queue.WithMaxRetention(cfg.MaxRetention),
		queue.WithLogger(r.logger),
	)
	if err != nil {
		return total, res, err
	}
	defer func() {
		if err := q.Close(); err != nil {
			r.logger.Error(ctx, "close queue", logger.String("user", p.UserID), logger.Error(err))
		}
	}()

	clock := newSimClock(start)
	tr, err := client.NewTracker(q,
		client.WithModelVersion(p.ModelVersion()),
		client.WithClock(clock.Now),
		client.WithLogger(r.logger),
	)
	if err != nil {
		return total, res, err
	}
	snd, err := sender.New(q, cfg.BaseURL,
		sender.WithAPIKey(cfg.APIKey),
		sender.WithClientVersion(cfg.ClientVersion),
		sender.WithBatchSize(cfg.BatchSize),
		sender.WithSendTimeout(cfg.Timeout),
		sender.WithFlushInterval(cfg.FlushInterval),
		sender.WithBackoff(cfg.BackoffInitial, cfg.BackoffMax, cfg.BackoffJitter),
		sender.WithHTTPClient(r.http),
		sender.WithLogger(r.logger),
	)
	if err != nil {
		return total, res, err
	}
	go snd.Run(ctx)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = snd.Shutdown(sctx)
	}()

	for s := range cfg.SessionsPerUser {
		sessionID := fmt.Sprintf("%s-s%02d", p.UserID, s)
		t, n, err := p.Play(ctx, tr, sessionID, cfg.TasksPerSession, cfg.AdaptEvery)
		if err != nil {
			return total, res, err
		}
		total.Tasks += t.Tasks
		total.Correct += t.Correct
		res.events += n
	}

	dctx, cancel := context.WithTimeout(ctx, cfg.DrainTimeout)
	defer cancel()
	if err := tr.Drain(dctx); err != nil {
		return total, res, err
	}
	res.sender = snd.Stats()
	return total, res, nil
}

func (r *Runner) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (r *Runner) displayFinalStats(ctx context.Context, stats *Stats) {
	var eventsPerSecond float64
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.Events) / stats.Duration.Seconds()
	}
	r.logger.Info(ctx, "final statistics",
		logger.Int("players", stats.Players),
		logger.Int("sessions", stats.Sessions),
		logger.Int("events", stats.Events),
		logger.Int("tasks", stats.Tasks),
		logger.Int64("sendAttempts", stats.Attempts),
		logger.Int64("sendFailures", stats.Failures),
		logger.Int("verifiedUsers", stats.Verified),
		logger.Duration("duration", stats.Duration),
		logger.Float64("eventsPerSecond", eventsPerSecond),
		logger.Any("usersPerMode", stats.PerModeUser),
	)
}
