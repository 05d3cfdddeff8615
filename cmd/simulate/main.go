package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/okian/neurogame/internal/config"
	"github.com/okian/neurogame/internal/simulate"
	"github.com/okian/neurogame/pkg/logger"
)

// Default configuration constants.
const (
	defaultUsers    = 20
	defaultSessions = 2
	defaultTasks    = 40
	defaultWorkers  = 4
	defaultTimeout  = 5 * time.Second
	runTimeout      = 10 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	var (
		baseURL  = flag.String("url", cfg.EndpointURL, "Base URL of the server")
		apiKey   = flag.String("api-key", cfg.APIKey, "Ingest api key")
		users    = flag.Int("users", defaultUsers, "Number of simulated players")
		sessions = flag.Int("sessions", defaultSessions, "Sessions per player")
		tasks    = flag.Int("tasks", defaultTasks, "Tasks per session")
		workers  = flag.Int("workers", defaultWorkers, "Players simulated concurrently")
		seed     = flag.Uint64("seed", cfg.Seed, "Player generation seed")
		queueDir = flag.String("queue-dir", "sim_queues", "Directory for the per-player queues")
		prefix   = flag.String("prefix", "sim"+strconv.FormatInt(time.Now().Unix(), 10), "User id prefix for this run")
		timeout  = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		flush    = flag.Duration("flush", 200*time.Millisecond, "Sender flush interval")
		verbose  = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	r := simulate.NewRunner(simulate.Config{
		BaseURL:         *baseURL,
		APIKey:          *apiKey,
		ClientVersion:   cfg.ClientVersion,
		Users:           *users,
		SessionsPerUser: *sessions,
		TasksPerSession: *tasks,
		Seed:            *seed,
		Workers:         *workers,
		QueueDir:        *queueDir,
		BatchSize:       cfg.ClientBatchSize,
		Timeout:         *timeout,
		FlushInterval:   *flush,
		BackoffInitial:  cfg.BackoffInitial(),
		BackoffMax:      cfg.BackoffMax(),
		BackoffJitter:   cfg.BackoffJitter,
		MaxRetention:    cfg.QueueMaxRetention(),
	}, *prefix, time.Now().UTC())

	if _, err := r.Run(ctx); err != nil {
		os.Stderr.WriteString("simulation failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
