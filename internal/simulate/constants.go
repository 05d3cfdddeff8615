package simulate

import "time"

// Simulation defaults.
const (
	defaultUsers           = 20
	defaultSessionsPerUser = 2
	defaultTasksPerSession = 40
	defaultAdaptEvery      = 5
	defaultWorkers         = 4
	defaultBatchSize       = 50
	defaultTimeout         = 5 * time.Second
	defaultDrainTimeout    = 2 * time.Minute
	defaultFlushInterval   = 200 * time.Millisecond
	defaultBackoffInitial  = 100 * time.Millisecond
	defaultBackoffMax      = 2 * time.Second
	defaultBackoffJitter   = 0.2
)

// Task model constants.
const (
	deadlineMS     = 1500
	levelMin       = 1
	levelMax       = 10
	levelPenalty   = 0.06
	levelRTCostMS  = 25
	fatiguePerTask = 1.5
	rtJitterMS     = 60
	taskGapMS      = 900
	adaptUpAcc     = 0.8
	adaptDownAcc   = 0.5
)
