// Package envelope validates candidate telemetry events before they are
// queued on the client or stored on the server.
//
// Validation is pure: the same input always yields the same outcomes and
// nothing is logged or written. One bad event never affects its neighbours.
package envelope

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/okian/neurogame/internal/domain/model"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// schemaFiles maps each event type to its payload schema.
var schemaFiles = map[model.EventType]string{
	model.TypeTaskResult:        "task_result.json",
	model.TypeAdaptationStep:    "adaptation_step.json",
	model.TypeSessionEnd:        "session_end.json",
	model.TypeSessionEndPartial: "session_end.json",
}

var requiredFields = []string{"event_id", "event_type", "event_ts", "user_id", "session_id", "payload"}

// Outcome is the result of validating one candidate.
// Err is nil for accepted events, in which case Event and Payload are set.
type Outcome struct {
	Index   int
	EventID string
	Event   model.Event
	Payload model.Payload
	Err     *ValidationError
}

// Accepted reports whether the candidate passed every check.
func (o Outcome) Accepted() bool { return o.Err == nil }

// Validator checks envelopes and payload shapes. It is safe for concurrent use.
type Validator struct {
	schemas map[model.EventType]*jsonschema.Schema
}

// New compiles the embedded payload schemas.
func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	compiled := make(map[string]*jsonschema.Schema)
	v := &Validator{schemas: make(map[model.EventType]*jsonschema.Schema, len(schemaFiles))}

	for et, name := range schemaFiles {
		if s, ok := compiled[name]; ok {
			v.schemas[et] = s
			continue
		}
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		s, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		compiled[name] = s
		v.schemas[et] = s
	}
	return v, nil
}

// MustNew is New for package-level initialization; the schemas are embedded
// so a failure is a build defect.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate returns one outcome per candidate, in input order.
func (v *Validator) Validate(batch []json.RawMessage) []Outcome {
	out := make([]Outcome, len(batch))
	for i, raw := range batch {
		out[i] = v.ValidateOne(i, raw)
	}
	return out
}

// ValidateEvent checks an already-typed event, as the client does before enqueueing.
func (v *Validator) ValidateEvent(e model.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return &ValidationError{EventID: e.EventID, Reason: ReasonMalformed, Detail: err.Error()}
	}
	if o := v.ValidateOne(0, raw); o.Err != nil {
		return o.Err
	}
	return nil
}

// ValidateOne checks a single candidate. Checks run in a fixed order:
// required fields, event type, payload schema, timestamp.
func (v *Validator) ValidateOne(index int, raw json.RawMessage) Outcome {
	o := Outcome{Index: index}
	reject := func(reason, detail string) Outcome {
		o.Err = &ValidationError{Index: index, EventID: o.EventID, Reason: reason, Detail: detail}
		return o
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return reject(ReasonMalformed, "event must be a JSON object")
	}

	strs := make(map[string]string, len(requiredFields))
	var missing []string
	for _, name := range requiredFields {
		val, ok := fields[name]
		if !ok || isNull(val) {
			missing = append(missing, name)
			continue
		}
		if name == "payload" {
			continue
		}
		var s string
		if err := json.Unmarshal(val, &s); err != nil || strings.TrimSpace(s) == "" {
			missing = append(missing, name)
			continue
		}
		strs[name] = s
	}
	o.EventID = strs["event_id"]
	if len(missing) > 0 {
		sort.Strings(missing)
		return reject(ReasonMissingFields+":"+strings.Join(missing, ","), "")
	}
	for _, name := range requiredFields {
		if strings.ContainsRune(strs[name], 0) {
			return reject(ReasonMalformed, name+" contains a NUL character")
		}
	}

	et := model.EventType(strs["event_type"])
	if !et.Valid() {
		return reject(ReasonUnknownEventType, string(et))
	}

	payload := fields["payload"]
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return reject(ReasonInvalidPayload, err.Error())
	}
	// Stored payloads must be representable as Postgres jsonb.
	if !utf8.Valid(payload) || hasNUL(doc) {
		return reject(ReasonInvalidPayload, "payload must be UTF-8 without NUL characters")
	}
	if err := v.schemas[et].Validate(doc); err != nil {
		return reject(ReasonInvalidPayload, firstLine(err.Error()))
	}
	typed, err := model.DecodePayload(et, payload)
	if err != nil {
		return reject(ReasonInvalidPayload, err.Error())
	}

	ts, err := time.Parse(time.RFC3339Nano, strs["event_ts"])
	if err != nil {
		return reject(ReasonInvalidEventTS, strs["event_ts"])
	}

	var version string
	if mv, ok := fields["model_version"]; ok && !isNull(mv) {
		if err := json.Unmarshal(mv, &version); err != nil {
			return reject(ReasonInvalidModelVersion, "model_version must be a string")
		}
		if strings.ContainsRune(version, 0) {
			return reject(ReasonInvalidModelVersion, "model_version contains a NUL character")
		}
	}

	o.Event = model.Event{
		EventID:      strs["event_id"],
		EventType:    et,
		EventTS:      ts.UTC(),
		UserID:       strs["user_id"],
		SessionID:    strs["session_id"],
		ModelVersion: version,
		Payload:      append(json.RawMessage(nil), payload...),
	}
	o.Payload = typed
	return o
}

// hasNUL reports whether any string or object key in doc holds U+0000.
func hasNUL(doc any) bool {
	switch v := doc.(type) {
	case string:
		return strings.ContainsRune(v, 0)
	case []any:
		for _, e := range v {
			if hasNUL(e) {
				return true
			}
		}
	case map[string]any:
		for k, e := range v {
			if strings.ContainsRune(k, 0) || hasNUL(e) {
				return true
			}
		}
	}
	return false
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
