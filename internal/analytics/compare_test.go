package analytics_test

import (
	"errors"
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/neurogame/internal/analytics"
	"github.com/okian/neurogame/internal/config"
	"github.com/okian/neurogame/internal/domain/model"
)

// sessionsWith builds one SessionMetrics per accuracy value.
func sessionsWith(prefix string, mode model.Mode, accuracies ...float64) []analytics.SessionMetrics {
	out := make([]analytics.SessionMetrics, len(accuracies))
	for i, a := range accuracies {
		out[i] = analytics.SessionMetrics{
			SessionID: fmt.Sprintf("%s%02d", prefix, i),
			Mode:      mode,
			Tasks:     10,
			Accuracy:  a,
			MeanRT:    400 - 100*a,
		}
	}
	return out
}

func swapModes(in []analytics.SessionMetrics) []analytics.SessionMetrics {
	out := make([]analytics.SessionMetrics, len(in))
	for i, s := range in {
		switch s.Mode {
		case model.ModeBaseline:
			s.Mode = model.ModeModel
		case model.ModeModel:
			s.Mode = model.ModeBaseline
		}
		out[i] = s
	}
	return out
}

func TestCompare(t *testing.T) {
	accuracy, err := analytics.LookupMetric("accuracy")
	if err != nil {
		t.Fatal(err)
	}
	opts := analytics.CompareOptions{Permutations: 2000, MinSessions: 5, Seed: 7}

	Convey("Given clearly separated groups", t, func() {
		sessions := append(
			sessionsWith("b", model.ModeBaseline, 0.50, 0.52, 0.55, 0.48, 0.51, 0.53),
			sessionsWith("m", model.ModeModel, 0.80, 0.82, 0.79, 0.85, 0.81, 0.83)...,
		)

		c, err := analytics.Compare(sessions, accuracy, opts)

		Convey("The effect is mean(model) - mean(baseline) and is significant", func() {
			So(err, ShouldBeNil)
			So(c.BaselineSessions, ShouldEqual, 6)
			So(c.ModelSessions, ShouldEqual, 6)
			So(c.Effect, ShouldAlmostEqual, c.ModelMean-c.BaselineMean, 1e-12)
			So(c.Effect, ShouldBeGreaterThan, 0.25)
			So(c.PValue, ShouldBeLessThan, 0.05)
			So(c.ModelBetter, ShouldBeTrue)
			So(c.Permutations, ShouldEqual, 2000)
		})

		Convey("Swapping the labels negates the effect and keeps the p-value", func() {
			swapped, err := analytics.Compare(swapModes(sessions), accuracy, opts)
			So(err, ShouldBeNil)
			So(swapped.Effect, ShouldEqual, -c.Effect)
			So(swapped.PValue, ShouldEqual, c.PValue)
			So(swapped.ModelBetter, ShouldBeFalse)
		})

		Convey("The same seed gives the same p-value regardless of input order", func() {
			reversed := make([]analytics.SessionMetrics, len(sessions))
			for i, s := range sessions {
				reversed[len(sessions)-1-i] = s
			}
			again, err := analytics.Compare(reversed, accuracy, opts)
			So(err, ShouldBeNil)
			So(again.PValue, ShouldEqual, c.PValue)
		})

		Convey("A lower-is-better metric flips the verdict", func() {
			rt, err := analytics.LookupMetric("mean_rt")
			So(err, ShouldBeNil)
			cr, err := analytics.Compare(sessions, rt, opts)
			So(err, ShouldBeNil)
			So(cr.Effect, ShouldBeLessThan, 0)
			So(cr.HigherIsBetter, ShouldBeFalse)
			So(cr.ModelBetter, ShouldBeTrue)
		})
	})

	Convey("Given groups of unequal size, swapping labels still keeps the p-value", t, func() {
		sessions := append(
			sessionsWith("b", model.ModeBaseline, 0.6, 0.7, 0.65, 0.72, 0.58, 0.61, 0.69, 0.66),
			sessionsWith("m", model.ModeModel, 0.7, 0.75, 0.68, 0.74, 0.71)...,
		)
		c, err := analytics.Compare(sessions, accuracy, opts)
		So(err, ShouldBeNil)
		swapped, err := analytics.Compare(swapModes(sessions), accuracy, opts)
		So(err, ShouldBeNil)
		So(swapped.Effect, ShouldEqual, -c.Effect)
		So(swapped.PValue, ShouldEqual, c.PValue)
	})

	Convey("Given identical groups", t, func() {
		sessions := append(
			sessionsWith("b", model.ModeBaseline, 0.7, 0.7, 0.7, 0.7, 0.7),
			sessionsWith("m", model.ModeModel, 0.7, 0.7, 0.7, 0.7, 0.7)...,
		)
		c, err := analytics.Compare(sessions, accuracy, opts)

		Convey("Every permutation is at least as extreme", func() {
			So(err, ShouldBeNil)
			So(c.Effect, ShouldEqual, 0)
			So(c.PValue, ShouldEqual, 1.0)
		})
	})

	Convey("Given 2 baseline sessions and 50 model sessions", t, func() {
		acc := make([]float64, 50)
		for i := range acc {
			acc[i] = 0.8
		}
		sessions := append(sessionsWith("b", model.ModeBaseline, 0.5, 0.6), sessionsWith("m", model.ModeModel, acc...)...)

		c, err := analytics.Compare(sessions, accuracy, opts)

		Convey("The comparison fails with ErrInsufficientData", func() {
			So(errors.Is(err, analytics.ErrInsufficientData), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "baseline=2")
			So(err.Error(), ShouldContainSubstring, "model=50")
			So(c.BaselineSessions, ShouldEqual, 2)
			So(c.ModelSessions, ShouldEqual, 50)
		})
	})

	Convey("Given sessions where the model climbs levels and answers more often", t, func() {
		sessions := append(
			sessionsWith("b", model.ModeBaseline, 0.6, 0.6, 0.6, 0.6, 0.6),
			sessionsWith("m", model.ModeModel, 0.6, 0.6, 0.6, 0.6, 0.6)...,
		)
		for i := range sessions {
			if sessions[i].Mode == model.ModeModel {
				sessions[i].AnsweredRate = 0.9 + 0.01*float64(i%5)
				sessions[i].LevelGain = float64(3 + i%2)
			} else {
				sessions[i].AnsweredRate = 0.6 + 0.01*float64(i%5)
				sessions[i].LevelGain = float64(i % 2)
			}
		}

		Convey("Both are higher-is-better metrics the model wins", func() {
			for _, name := range []string{analytics.MetricAnsweredRate, analytics.MetricLevelGain} {
				m, err := analytics.LookupMetric(name)
				So(err, ShouldBeNil)
				So(m.HigherIsBetter, ShouldBeTrue)

				c, err := analytics.Compare(sessions, m, opts)
				So(err, ShouldBeNil)
				So(c.Metric, ShouldEqual, name)
				So(c.Effect, ShouldBeGreaterThan, 0)
				So(c.ModelBetter, ShouldBeTrue)
				So(c.PValue, ShouldBeLessThan, 0.05)
			}
		})

		Convey("They are compared by default", func() {
			So(analytics.DefaultMetrics, ShouldContain, analytics.MetricAnsweredRate)
			So(analytics.DefaultMetrics, ShouldContain, analytics.MetricLevelGain)
		})
	})

	Convey("Given an unknown metric name", t, func() {
		_, err := analytics.LookupMetric("speed")
		So(errors.Is(err, analytics.ErrUnknownMetric), ShouldBeTrue)
	})

	Convey("Given the metric names configuration accepts", t, func() {
		Convey("Every one is registered and they match the defaults", func() {
			for _, name := range config.CompareMetricNames {
				_, err := analytics.LookupMetric(name)
				So(err, ShouldBeNil)
			}
			So(config.CompareMetricNames, ShouldResemble, analytics.DefaultMetrics)
		})
	})
}

func TestAggregate(t *testing.T) {
	Convey("Given sessions of both modes", t, func() {
		sessions := append(
			sessionsWith("b", model.ModeBaseline, 0.5, 0.7),
			sessionsWith("m", model.ModeModel, 0.9)...,
		)
		sessions[0].LevelGain, sessions[1].LevelGain = 2, 4
		sessions[0].AnsweredRate, sessions[1].AnsweredRate = 0.8, 1
		agg := analytics.Aggregate(sessions)

		Convey("Each mode averages its sessions", func() {
			So(agg[model.ModeBaseline].LevelGain, ShouldAlmostEqual, 3, 1e-12)
			So(agg[model.ModeBaseline].AnsweredRate, ShouldAlmostEqual, 0.9, 1e-12)
			So(len(agg), ShouldEqual, 2)
			So(agg[model.ModeBaseline].Sessions, ShouldEqual, 2)
			So(agg[model.ModeBaseline].Tasks, ShouldEqual, 20)
			So(agg[model.ModeBaseline].Accuracy, ShouldAlmostEqual, 0.6, 1e-12)
			So(agg[model.ModeModel].Accuracy, ShouldAlmostEqual, 0.9, 1e-12)
			So(agg[model.ModeModel].MeanRT, ShouldAlmostEqual, 310, 1e-9)
		})
	})
}
