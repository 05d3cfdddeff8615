// Package analytics is the offline evaluation job. It exports the stored
// events, writes the dataset bridge, computes per-session metrics and
// compares the baseline policy against the model policy with a
// permutation test.
//
// A run is deterministic for a given dataset and seed. Reports are written
// only after every computation succeeded, so a failed run never replaces
// the reports of an earlier one.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/natefinch/atomic"

	"github.com/okian/neurogame/internal/domain/model"
	"github.com/okian/neurogame/pkg/logger"
	"github.com/okian/neurogame/pkg/metrics"
)

// Report file names.
const (
	SessionMetricsFile = "session_metrics.json"
	ModeAggregateFile  = "mode_aggregate.json"
	ModeComparisonFile = "mode_comparison.json"
)

// ComparisonReport is the content of mode_comparison.json.
type ComparisonReport struct {
	BaselineSessions int          `json:"baseline_sessions"`
	ModelSessions    int          `json:"model_sessions"`
	MinSessions      int          `json:"min_sessions"`
	Permutations     int          `json:"permutations"`
	Seed             uint64       `json:"seed"`
	Metrics          []Comparison `json:"metrics"`
}

// Report is everything one run produced.
type Report struct {
	RawEvents  int
	Duplicates int
	Dataset    Dataset
	Sessions   []SessionMetrics
	Aggregates map[model.Mode]ModeAggregate
	Comparison ComparisonReport
}

// Engine runs the analytics job.
type Engine struct {
	source       Source
	writeBridge  bool
	datasetDir   string
	reportsDir   string
	switchWindow int
	workers      int
	metrics      []string
	cmp          CompareOptions

	logger logger.Logger
}

// NewEngine builds an engine reading from src. A DatasetSource replays the
// bridge files, which are then left as they are.
func NewEngine(src Source, opts ...Option) (*Engine, error) {
	if src == nil {
		return nil, errors.New("analytics: nil source")
	}
	e := &Engine{
		source:       src,
		datasetDir:   DefaultDatasetDir,
		reportsDir:   DefaultReportsDir,
		switchWindow: DefaultSwitchWindow,
		workers:      runtime.GOMAXPROCS(0),
		metrics:      DefaultMetrics,
		cmp: CompareOptions{
			Permutations: DefaultPermutations,
			MinSessions:  DefaultMinSessions,
			Seed:         DefaultSeed,
		},
	}
	_, replay := src.(*DatasetSource)
	e.writeBridge = !replay
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("analytics")
	}
	for _, name := range e.metrics {
		if _, err := LookupMetric(name); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Run executes one full pass. On error no report file is touched.
func (e *Engine) Run(ctx context.Context) (rep *Report, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrInsufficientData):
			outcome = "insufficient_data"
		case err != nil:
			outcome = "error"
		}
		metrics.RecordAnalyticsRun(outcome, time.Since(start))
	}()

	raw, err := e.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	ds, dups := Split(raw)
	if dups > 0 {
		e.logger.Warn(ctx, "dropped repeated event ids from export", logger.Int("duplicates", dups))
	}
	if e.writeBridge {
		if err := WriteDataset(e.datasetDir, ds); err != nil {
			return nil, err
		}
		e.logger.Info(ctx, "dataset refreshed",
			logger.String("dir", e.datasetDir),
			logger.Int("raw", len(raw)),
			logger.Int("events", len(ds.Events)),
			logger.Int("adaptations", len(ds.Adaptations)),
			logger.Int("sessions", len(ds.Sessions)),
		)
	}
	if len(ds.Events) == 0 {
		return nil, ErrNoEvents
	}

	sessions, err := ComputeSessions(ctx, ds.All(), e.switchWindow, e.workers)
	if err != nil {
		return nil, fmt.Errorf("session metrics: %w", err)
	}
	for _, s := range sessions {
		if s.ModeConflicts > 0 {
			e.logger.Warn(ctx, "session mixes modes, using the earliest event's mode",
				logger.String("session", s.SessionID),
				logger.String("mode", string(s.Mode)),
				logger.Int("conflicts", s.ModeConflicts),
			)
		}
	}
	metrics.UpdateAnalyticsSessions(len(sessions))

	rep = &Report{
		RawEvents:  len(raw),
		Duplicates: dups,
		Dataset:    ds,
		Sessions:   sessions,
		Aggregates: Aggregate(sessions),
		Comparison: ComparisonReport{
			MinSessions:  e.cmp.MinSessions,
			Permutations: e.cmp.Permutations,
			Seed:         e.cmp.Seed,
		},
	}
	for _, name := range e.metrics {
		m, err := LookupMetric(name)
		if err != nil {
			return nil, err
		}
		c, err := Compare(sessions, m, e.cmp)
		if err != nil {
			return nil, err
		}
		rep.Comparison.BaselineSessions = c.BaselineSessions
		rep.Comparison.ModelSessions = c.ModelSessions
		rep.Comparison.Metrics = append(rep.Comparison.Metrics, c)
		e.logger.Info(ctx, "mode comparison",
			logger.String("metric", c.Metric),
			logger.Float64("baseline", c.BaselineMean),
			logger.Float64("model", c.ModelMean),
			logger.Float64("effect", c.Effect),
			logger.Float64("p", c.PValue),
			logger.Bool("modelBetter", c.ModelBetter),
		)
	}

	if err := e.writeReports(rep); err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "analytics run finished",
		logger.Int("sessions", len(sessions)),
		logger.String("reports", e.reportsDir),
		logger.Duration("elapsed", time.Since(start)),
	)
	return rep, nil
}

// writeReports stages every report next to its destination before any is
// replaced, then swaps them in. If a swap fails the reports already
// replaced are put back, so the directory never mixes two runs.
func (e *Engine) writeReports(rep *Report) error {
	docs := []struct {
		name string
		v    any
	}{
		{SessionMetricsFile, rep.Sessions},
		{ModeAggregateFile, rep.Aggregates},
		{ModeComparisonFile, rep.Comparison},
	}
	encoded := make([][]byte, len(docs))
	for i, d := range docs {
		b, err := json.MarshalIndent(d.v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", d.name, err)
		}
		encoded[i] = append(b, '\n')
	}
	if err := os.MkdirAll(e.reportsDir, 0o750); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}

	staged := make([]string, 0, len(docs))
	defer func() {
		// Swapped-in files are already gone from their staging names.
		for _, p := range staged {
			_ = os.Remove(p)
		}
	}()
	for i, d := range docs {
		p, err := stageFile(e.reportsDir, d.name, encoded[i])
		if err != nil {
			return fmt.Errorf("stage %s: %w", d.name, err)
		}
		staged = append(staged, p)
	}

	var swapped []replaced
	for i, d := range docs {
		dest := filepath.Join(e.reportsDir, d.name)
		prev, err := keepPrevious(dest)
		if err == nil {
			err = atomic.ReplaceFile(staged[i], dest)
			if err != nil && prev != "" {
				_ = os.Remove(prev)
			}
		}
		if err != nil {
			e.rollback(swapped)
			return fmt.Errorf("replace %s: %w", d.name, err)
		}
		swapped = append(swapped, replaced{dest: dest, prev: prev})
	}
	for _, r := range swapped {
		if r.prev != "" {
			_ = os.Remove(r.prev)
		}
	}
	return nil
}

// replaced records a swapped report and the hard link holding the file it
// replaced ("" when there was none).
type replaced struct {
	dest string
	prev string
}

func (e *Engine) rollback(swapped []replaced) {
	for i := len(swapped) - 1; i >= 0; i-- {
		r := swapped[i]
		var err error
		if r.prev != "" {
			err = atomic.ReplaceFile(r.prev, r.dest)
		} else {
			err = os.Remove(r.dest)
		}
		if err != nil {
			e.logger.Error(context.Background(), "restore previous report",
				logger.String("file", r.dest), logger.Error(err))
		}
	}
}

// stageFile writes data to a synced hidden temp file in dir.
func stageFile(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", err
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// keepPrevious hard-links an existing report aside so it can be restored.
func keepPrevious(dest string) (string, error) {
	fi, err := os.Lstat(dest)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", dest)
	}
	prev := dest + ".prev"
	_ = os.Remove(prev)
	if err := os.Link(dest, prev); err != nil {
		return "", err
	}
	return prev, nil
}
