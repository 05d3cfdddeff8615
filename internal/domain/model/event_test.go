package model_test

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	model "github.com/okian/neurogame/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestEventType(t *testing.T) {
	convey.Convey("Given the event type enum", t, func() {
		convey.Convey("Then every listed type is valid", func() {
			for _, et := range model.EventTypes {
				convey.So(et.Valid(), convey.ShouldBeTrue)
			}
		})
		convey.Convey("Then unknown labels are not", func() {
			convey.So(model.EventType("task").Valid(), convey.ShouldBeFalse)
			convey.So(model.EventType("").Valid(), convey.ShouldBeFalse)
		})
	})
}

func TestDecodePayload(t *testing.T) {
	convey.Convey("Given raw payloads", t, func() {
		convey.Convey("When decoding a task result with a reaction time", func() {
			p, err := model.DecodePayload(model.TypeTaskResult, json.RawMessage(`{"correct":true,"rt_ms":412,"task_id":"t1","extra":1}`))

			convey.Convey("Then the typed variant is returned", func() {
				convey.So(err, convey.ShouldBeNil)
				tr, ok := p.(model.TaskResult)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(tr.Correct, convey.ShouldBeTrue)
				convey.So(*tr.RTMs, convey.ShouldEqual, 412)
				convey.So(tr.Type(), convey.ShouldEqual, model.TypeTaskResult)
			})
		})

		convey.Convey("When decoding a timed-out task", func() {
			p, err := model.DecodePayload(model.TypeTaskResult, json.RawMessage(`{"correct":false,"rt_ms":null}`))

			convey.Convey("Then the reaction time is nil", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(p.(model.TaskResult).RTMs, convey.ShouldBeNil)
			})
		})

		convey.Convey("When decoding a partial session end", func() {
			p, err := model.DecodePayload(model.TypeSessionEndPartial, json.RawMessage(`{"total_tasks":12,"exit_reason":"quit"}`))

			convey.Convey("Then Partial is derived from the type", func() {
				convey.So(err, convey.ShouldBeNil)
				se := p.(model.SessionEnd)
				convey.So(se.Partial, convey.ShouldBeTrue)
				convey.So(se.TotalTasks, convey.ShouldEqual, 12)
				convey.So(se.Type(), convey.ShouldEqual, model.TypeSessionEndPartial)
			})
		})

		convey.Convey("When the type is unknown", func() {
			_, err := model.DecodePayload("bogus", json.RawMessage(`{}`))

			convey.Convey("Then ErrUnknownType is returned", func() {
				convey.So(errors.Is(err, model.ErrUnknownType), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When an adaptation step is round-tripped through EncodePayload", func() {
			raw, err := model.EncodePayload(model.AdaptationStep{Step: 3, DeltaLevel: 1})
			convey.So(err, convey.ShouldBeNil)
			p, err := model.DecodePayload(model.TypeAdaptationStep, raw)

			convey.Convey("Then the step survives", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(p.(model.AdaptationStep).Step, convey.ShouldEqual, 3)
			})
		})
	})
}

func TestMode(t *testing.T) {
	convey.Convey("Given mode labels", t, func() {
		convey.So(model.ParseMode("baseline"), convey.ShouldEqual, model.ModeBaseline)
		convey.So(model.ParseMode(" PPO "), convey.ShouldEqual, model.ModeModel)
		convey.So(model.ParseMode("model"), convey.ShouldEqual, model.ModeModel)
		convey.So(model.ParseMode("random"), convey.ShouldEqual, model.ModeUnknown)

		convey.So(model.ModeFromVersion(""), convey.ShouldEqual, model.ModeBaseline)
		convey.So(model.ModeFromVersion("baseline-v1"), convey.ShouldEqual, model.ModeBaseline)
		convey.So(model.ModeFromVersion("ppo_agent-2024"), convey.ShouldEqual, model.ModeModel)
		convey.So(model.ModeFromVersion("model-v3"), convey.ShouldEqual, model.ModeModel)
		convey.So(model.ModeFromVersion("Model-V3"), convey.ShouldEqual, model.ModeModel)
		convey.So(model.ModeFromVersion("legacy-PPO"), convey.ShouldEqual, model.ModeModel)
		// "model" only counts as a prefix.
		convey.So(model.ModeFromVersion("baseline-model-v1"), convey.ShouldEqual, model.ModeBaseline)
	})

	convey.Convey("Given events", t, func() {
		convey.Convey("When the payload names a mode", func() {
			e := model.Event{ModelVersion: "baseline-v1", Payload: json.RawMessage(`{"mode":"ppo"}`)}

			convey.Convey("Then payload.mode wins over model_version", func() {
				convey.So(e.Mode(), convey.ShouldEqual, model.ModeModel)
			})
		})

		convey.Convey("When the payload has no mode", func() {
			e := model.Event{ModelVersion: "ppo-v2", Payload: json.RawMessage(`{"correct":true}`)}

			convey.Convey("Then model_version decides", func() {
				convey.So(e.Mode(), convey.ShouldEqual, model.ModeModel)
			})
		})
	})
}

func TestByTimeThenID(t *testing.T) {
	convey.Convey("Given events with equal timestamps", t, func() {
		ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		events := []model.Event{
			{EventID: "c", EventTS: ts},
			{EventID: "a", EventTS: ts.Add(time.Second)},
			{EventID: "b", EventTS: ts},
		}
		slices.SortFunc(events, model.ByTimeThenID)

		convey.Convey("Then ties are broken by event id", func() {
			ids := []string{events[0].EventID, events[1].EventID, events[2].EventID}
			convey.So(ids, convey.ShouldResemble, []string{"b", "c", "a"})
		})
	})
}
