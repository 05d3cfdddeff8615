package envelope_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okian/neurogame/internal/domain/envelope"
	"github.com/okian/neurogame/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func candidate(id, typ, payload string) json.RawMessage {
	return json.RawMessage(`{"event_id":"` + id + `","event_type":"` + typ +
		`","event_ts":"2024-05-01T10:00:00.123Z","user_id":"u1","session_id":"s1","model_version":"baseline-v1","payload":` + payload + `}`)
}

func TestValidator(t *testing.T) {
	v, err := envelope.New()
	if err != nil {
		t.Fatalf("compile schemas: %v", err)
	}

	Convey("Given a validator", t, func() {
		Convey("When a well-formed task result is validated", func() {
			out := v.Validate([]json.RawMessage{candidate("e1", "task_result", `{"correct":true,"rt_ms":350}`)})

			Convey("Then it is accepted with a decoded event", func() {
				So(out, ShouldHaveLength, 1)
				So(out[0].Accepted(), ShouldBeTrue)
				So(out[0].Event.EventID, ShouldEqual, "e1")
				So(out[0].Event.EventType, ShouldEqual, model.TypeTaskResult)
				So(out[0].Event.EventTS.Equal(time.Date(2024, 5, 1, 10, 0, 0, 123e6, time.UTC)), ShouldBeTrue)
				So(out[0].Event.ModelVersion, ShouldEqual, "baseline-v1")
				So(out[0].Payload.(model.TaskResult).Correct, ShouldBeTrue)
			})
		})

		Convey("When a batch mixes good and bad events", func() {
			batch := []json.RawMessage{
				candidate("e1", "task_result", `{"correct":true,"rt_ms":350}`),
				candidate("e2", "task_result", `{"correct":"yes","rt_ms":350}`),
				candidate("e3", "adaptation_step", `{"step":1,"delta_level":1}`),
				candidate("e4", "session_end", `{"total_tasks":10,"accuracy_total":0.7}`),
				candidate("e5", "task_result", `{"correct":false,"rt_ms":null}`),
			}
			out := v.Validate(batch)

			Convey("Then only the malformed payload is rejected", func() {
				accepted := 0
				for _, o := range out {
					if o.Accepted() {
						accepted++
					}
				}
				So(accepted, ShouldEqual, 4)
				So(out[1].Err, ShouldNotBeNil)
				So(out[1].Err.Reason, ShouldEqual, envelope.ReasonInvalidPayload)
				So(out[1].Err.EventID, ShouldEqual, "e2")
				So(out[1].Err.Index, ShouldEqual, 1)
			})

			Convey("Then validation is repeatable", func() {
				again := v.Validate(batch)
				for i := range out {
					So(again[i].Accepted(), ShouldEqual, out[i].Accepted())
				}
			})
		})

		Convey("When required fields are missing or empty", func() {
			out := v.ValidateOne(0, json.RawMessage(`{"event_id":"e1","event_type":"task_result","user_id":"","payload":{"correct":true,"rt_ms":1}}`))

			Convey("Then every missing field is named in sorted order", func() {
				So(out.Accepted(), ShouldBeFalse)
				So(out.Err.Reason, ShouldEqual, "missing_fields:event_ts,session_id,user_id")
				So(errors.Is(out.Err, envelope.ErrInvalidEvent), ShouldBeTrue)
			})
		})

		Convey("When the event type is unknown", func() {
			out := v.ValidateOne(0, candidate("e1", "level_up", `{}`))

			Convey("Then it is rejected as unknown_event_type", func() {
				So(out.Err.Reason, ShouldEqual, envelope.ReasonUnknownEventType)
			})
		})

		Convey("When the timestamp is not RFC 3339", func() {
			raw := json.RawMessage(`{"event_id":"e1","event_type":"task_result","event_ts":"yesterday","user_id":"u","session_id":"s","payload":{"correct":true,"rt_ms":10}}`)
			out := v.ValidateOne(0, raw)

			Convey("Then it is rejected as invalid_event_ts", func() {
				So(out.Err.Reason, ShouldEqual, envelope.ReasonInvalidEventTS)
			})
		})

		Convey("When payload constraints are violated", func() {
			cases := map[string]json.RawMessage{
				"negative rt":         candidate("a", "task_result", `{"correct":true,"rt_ms":-5}`),
				"missing rt":          candidate("b", "task_result", `{"correct":true}`),
				"negative step":       candidate("c", "adaptation_step", `{"step":-1}`),
				"accuracy above one":  candidate("d", "session_end_partial", `{"total_tasks":3,"accuracy_total":1.5}`),
				"payload not object":  candidate("e", "session_end", `[1,2]`),
				"fractional rt value": candidate("f", "task_result", `{"correct":true,"rt_ms":1.5}`),
			}
			for name, raw := range cases {
				out := v.ValidateOne(0, raw)
				Convey("Then "+name+" is an invalid payload", func() {
					So(out.Accepted(), ShouldBeFalse)
					So(out.Err.Reason, ShouldEqual, envelope.ReasonInvalidPayload)
				})
			}
		})

		Convey("When the payload carries text a jsonb column refuses", func() {
			nul := v.ValidateOne(0, candidate("e1", "task_result", `{"correct":true,"rt_ms":1,"task_id":"\u0000"}`))
			nulKey := v.ValidateOne(1, candidate("e2", "adaptation_step", `{"step":1,"a\u0000":1}`))
			badUTF8 := v.ValidateOne(2, candidate("e3", "task_result", "{\"correct\":true,\"rt_ms\":1,\"task_id\":\"\xff\"}"))

			Convey("Then each is an invalid payload", func() {
				So(nul.Accepted(), ShouldBeFalse)
				So(nul.Err.Reason, ShouldEqual, envelope.ReasonInvalidPayload)
				So(nulKey.Err.Reason, ShouldEqual, envelope.ReasonInvalidPayload)
				So(badUTF8.Err.Reason, ShouldEqual, envelope.ReasonInvalidPayload)
			})
		})

		Convey("When an identifier decodes to a NUL character", func() {
			out := v.ValidateOne(0, json.RawMessage(`{"event_id":"e1","event_type":"task_result","event_ts":"2024-05-01T10:00:00Z","user_id":"u\u0000","session_id":"s1","payload":{"correct":true,"rt_ms":1}}`))

			Convey("Then the event is malformed", func() {
				So(out.Err, ShouldNotBeNil)
				So(out.Err.Reason, ShouldEqual, envelope.ReasonMalformed)
			})
		})

		Convey("When the candidate is not an object", func() {
			out := v.ValidateOne(3, json.RawMessage(`"oops"`))

			Convey("Then it is malformed", func() {
				So(out.Err.Reason, ShouldEqual, envelope.ReasonMalformed)
				So(out.Err.Index, ShouldEqual, 3)
			})
		})

		Convey("When a typed event is validated client side", func() {
			e := model.Event{
				EventID:   "e9",
				EventType: model.TypeAdaptationStep,
				EventTS:   time.Now().UTC(),
				UserID:    "u1",
				SessionID: "s1",
				Payload:   json.RawMessage(`{"step":2}`),
			}

			Convey("Then a valid event passes and a broken one fails", func() {
				So(v.ValidateEvent(e), ShouldBeNil)
				e.SessionID = ""
				So(v.ValidateEvent(e), ShouldNotBeNil)
			})
		})
	})
}
