package analytics

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/neurogame/internal/domain/model"
)

// Comparable metric names.
const (
	MetricAccuracy     = "accuracy"
	MetricMeanRT       = "mean_rt"
	MetricRTVariance   = "rt_variance"
	MetricSwitchCost   = "switch_cost"
	MetricFatigueTrend = "fatigue_trend"
	MetricAnsweredRate = "answered_rate"
	MetricLevelGain    = "level_gain"
)

// effectTolerance absorbs float noise when comparing permuted and observed effects.
const effectTolerance = 1e-12

// Metric selects one per-session value for comparison.
type Metric struct {
	Name           string
	HigherIsBetter bool
	Value          func(SessionMetrics) float64
}

var registry = map[string]Metric{
	MetricAccuracy:     {MetricAccuracy, true, func(m SessionMetrics) float64 { return m.Accuracy }},
	MetricMeanRT:       {MetricMeanRT, false, func(m SessionMetrics) float64 { return m.MeanRT }},
	MetricRTVariance:   {MetricRTVariance, false, func(m SessionMetrics) float64 { return m.RTVariance }},
	MetricSwitchCost:   {MetricSwitchCost, false, func(m SessionMetrics) float64 { return m.SwitchCost }},
	MetricFatigueTrend: {MetricFatigueTrend, false, func(m SessionMetrics) float64 { return m.FatigueTrend }},
	MetricAnsweredRate: {MetricAnsweredRate, true, func(m SessionMetrics) float64 { return m.AnsweredRate }},
	MetricLevelGain:    {MetricLevelGain, true, func(m SessionMetrics) float64 { return m.LevelGain }},
}

// LookupMetric returns the registered metric called name.
func LookupMetric(name string) (Metric, error) {
	m, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Metric{}, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	return m, nil
}

// CompareOptions tunes the permutation test.
type CompareOptions struct {
	Permutations int
	MinSessions  int
	Seed         uint64
}

// Comparison is the outcome of one metric's mode comparison.
type Comparison struct {
	Metric           string  `json:"metric"`
	HigherIsBetter   bool    `json:"higher_is_better"`
	BaselineSessions int     `json:"baseline_sessions"`
	ModelSessions    int     `json:"model_sessions"`
	BaselineMean     float64 `json:"baseline_mean"`
	ModelMean        float64 `json:"model_mean"`
	Effect           float64 `json:"effect"`
	PValue           float64 `json:"p_value"`
	Permutations     int     `json:"permutations"`
	Seed             uint64  `json:"seed"`
	ModelBetter      bool    `json:"model_better"`
}

// Compare tests whether metric differs between model and baseline sessions.
// The effect is mean(model) - mean(baseline). The p-value is the share of
// label permutations whose effect magnitude reaches the observed one.
// Sessions of any other mode are ignored.
func Compare(sessions []SessionMetrics, metric Metric, opts CompareOptions) (Comparison, error) {
	if opts.Permutations <= 0 {
		opts.Permutations = DefaultPermutations
	}
	if opts.MinSessions <= 0 {
		opts.MinSessions = DefaultMinSessions
	}

	// The pooled set is taken in session id order so the outcome depends
	// only on the data and the seed.
	ordered := slices.Clone(sessions)
	slices.SortFunc(ordered, func(a, b SessionMetrics) int { return strings.Compare(a.SessionID, b.SessionID) })

	var base, mdl, pooled []float64
	for _, s := range ordered {
		v := metric.Value(s)
		switch s.Mode {
		case model.ModeBaseline:
			base = append(base, v)
		case model.ModeModel:
			mdl = append(mdl, v)
		default:
			continue
		}
		pooled = append(pooled, v)
	}

	c := Comparison{
		Metric:           metric.Name,
		HigherIsBetter:   metric.HigherIsBetter,
		BaselineSessions: len(base),
		ModelSessions:    len(mdl),
		Permutations:     opts.Permutations,
		Seed:             opts.Seed,
	}
	if len(base) < opts.MinSessions || len(mdl) < opts.MinSessions {
		return c, fmt.Errorf("%w: %s needs %d sessions per mode, have baseline=%d model=%d",
			ErrInsufficientData, metric.Name, opts.MinSessions, len(base), len(mdl))
	}

	c.BaselineMean = stat.Mean(base, nil)
	c.ModelMean = stat.Mean(mdl, nil)
	c.Effect = c.ModelMean - c.BaselineMean
	if metric.HigherIsBetter {
		c.ModelBetter = c.Effect > 0
	} else {
		c.ModelBetter = c.Effect < 0
	}

	// Splitting at the smaller group's size keeps the permuted magnitudes
	// independent of which group carries which label.
	k := min(len(base), len(mdl))
	observed := math.Abs(c.Effect)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	hits := 0
	for range opts.Permutations {
		rng.Shuffle(len(pooled), func(i, j int) { pooled[i], pooled[j] = pooled[j], pooled[i] })
		diff := stat.Mean(pooled[:k], nil) - stat.Mean(pooled[k:], nil)
		if math.Abs(diff) >= observed-effectTolerance {
			hits++
		}
	}
	c.PValue = float64(hits) / float64(opts.Permutations)
	return c, nil
}

// ModeAggregate averages session metrics over one mode.
type ModeAggregate struct {
	Sessions     int     `json:"sessions"`
	Tasks        int     `json:"tasks"`
	Accuracy     float64 `json:"accuracy"`
	AnsweredRate float64 `json:"answered_rate"`
	MeanRT       float64 `json:"mean_rt"`
	RTVariance   float64 `json:"rt_variance"`
	SwitchCost   float64 `json:"switch_cost"`
	FatigueTrend float64 `json:"fatigue_trend"`
	LevelGain    float64 `json:"level_gain"`
}

// Aggregate groups sessions by mode and averages each metric with equal
// weight per session.
func Aggregate(sessions []SessionMetrics) map[model.Mode]ModeAggregate {
	sums := make(map[model.Mode]*ModeAggregate)
	for _, s := range sessions {
		a, ok := sums[s.Mode]
		if !ok {
			a = &ModeAggregate{}
			sums[s.Mode] = a
		}
		a.Sessions++
		a.Tasks += s.Tasks
		a.Accuracy += s.Accuracy
		a.AnsweredRate += s.AnsweredRate
		a.MeanRT += s.MeanRT
		a.RTVariance += s.RTVariance
		a.SwitchCost += s.SwitchCost
		a.FatigueTrend += s.FatigueTrend
		a.LevelGain += s.LevelGain
	}
	out := make(map[model.Mode]ModeAggregate, len(sums))
	for mode, a := range sums {
		n := float64(a.Sessions)
		out[mode] = ModeAggregate{
			Sessions:     a.Sessions,
			Tasks:        a.Tasks,
			Accuracy:     a.Accuracy / n,
			AnsweredRate: a.AnsweredRate / n,
			MeanRT:       a.MeanRT / n,
			RTVariance:   a.RTVariance / n,
			SwitchCost:   a.SwitchCost / n,
			FatigueTrend: a.FatigueTrend / n,
			LevelGain:    a.LevelGain / n,
		}
	}
	return out
}
