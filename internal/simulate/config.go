package simulate

import (
	"errors"
	"time"
)

// ErrMismatch is returned when the server's leaderboard disagrees with what
// the simulated players produced.
var ErrMismatch = errors.New("leaderboard mismatch")

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL         string        // Server base URL
	APIKey          string        // Ingest key
	ClientVersion   string        // client_version sent with every batch
	Users           int           // Number of simulated players
	SessionsPerUser int           // Sessions each player plays
	TasksPerSession int           // Tasks per session
	AdaptEvery      int           // Tasks between adaptation steps
	Seed            uint64        // Seed for player generation
	Workers         int           // Players simulated concurrently
	QueueDir        string        // Directory for the per-player durable queues
	BatchSize       int           // Sender batch size
	Timeout         time.Duration // Per-request timeout
	DrainTimeout    time.Duration // How long to wait for queues to empty
	FlushInterval   time.Duration // Sender idle wake-up period
	BackoffInitial  time.Duration // First retry delay
	BackoffMax      time.Duration // Retry delay cap
	BackoffJitter   float64       // Randomization factor in [0,1]
	MaxRetention    time.Duration // Queue retention, 0 keeps events until acked
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.Users <= 0 {
		c.Users = defaultUsers
	}
	if c.SessionsPerUser <= 0 {
		c.SessionsPerUser = defaultSessionsPerUser
	}
	if c.TasksPerSession <= 0 {
		c.TasksPerSession = defaultTasksPerSession
	}
	if c.AdaptEvery <= 0 {
		c.AdaptEvery = defaultAdaptEvery
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = defaultBackoffInitial
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = max(defaultBackoffMax, c.BackoffInitial)
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		c.BackoffJitter = defaultBackoffJitter
	}
	if c.ClientVersion == "" {
		c.ClientVersion = "neurogame-sim/1"
	}
	return c
}

// Stats holds simulation statistics.
type Stats struct {
	Players     int
	Sessions    int
	Events      int
	Tasks       int
	Attempts    int64
	Failures    int64
	Verified    int
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	PerModeUser map[string]int
}
