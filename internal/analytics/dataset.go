package analytics

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/okian/neurogame/internal/domain/model"
)

// Dataset bridge file names.
const (
	EventsFile      = "events.jsonl"
	AdaptationsFile = "adaptations.jsonl"
	SessionsFile    = "sessions.jsonl"
)

const maxDatasetLine = 1 << 20

// Dataset is the exported event log split by kind.
type Dataset struct {
	Events      []model.Event // task_result
	Adaptations []model.Event // adaptation_step
	Sessions    []model.Event // session_end and session_end_partial
}

// Split sorts events into the bridge files, keeping input order and dropping
// repeated event ids. It returns how many repeats were dropped.
func Split(events []model.Event) (Dataset, int) {
	var ds Dataset
	seen := make(map[string]struct{}, len(events))
	dups := 0
	for _, e := range events {
		if _, ok := seen[e.EventID]; ok {
			dups++
			continue
		}
		seen[e.EventID] = struct{}{}
		switch e.EventType {
		case model.TypeTaskResult:
			ds.Events = append(ds.Events, e)
		case model.TypeAdaptationStep:
			ds.Adaptations = append(ds.Adaptations, e)
		case model.TypeSessionEnd, model.TypeSessionEndPartial:
			ds.Sessions = append(ds.Sessions, e)
		}
	}
	return ds, dups
}

// All returns every event of the dataset.
func (d Dataset) All() []model.Event {
	out := make([]model.Event, 0, len(d.Events)+len(d.Adaptations)+len(d.Sessions))
	out = append(out, d.Events...)
	out = append(out, d.Adaptations...)
	return append(out, d.Sessions...)
}

// Len is the total number of events.
func (d Dataset) Len() int { return len(d.Events) + len(d.Adaptations) + len(d.Sessions) }

// WriteDataset replaces the three bridge files in dir. Each file is swapped
// in atomically.
func WriteDataset(dir string, d Dataset) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	files := []struct {
		name   string
		events []model.Event
	}{
		{EventsFile, d.Events},
		{AdaptationsFile, d.Adaptations},
		{SessionsFile, d.Sessions},
	}
	for _, f := range files {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, e := range f.events {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("encode %s: %w", f.name, err)
			}
		}
		if err := atomic.WriteFile(filepath.Join(dir, f.name), &buf); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return nil
}

// LoadDataset reads the bridge files from dir. Missing files are empty.
func LoadDataset(dir string) (Dataset, error) {
	var (
		d   Dataset
		err error
	)
	if d.Events, err = readJSONL(filepath.Join(dir, EventsFile)); err != nil {
		return Dataset{}, err
	}
	if d.Adaptations, err = readJSONL(filepath.Join(dir, AdaptationsFile)); err != nil {
		return Dataset{}, err
	}
	if d.Sessions, err = readJSONL(filepath.Join(dir, SessionsFile)); err != nil {
		return Dataset{}, err
	}
	return d, nil
}

func readJSONL(path string) ([]model.Event, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var out []model.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxDatasetLine)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e model.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}

// DatasetSource replays a previously written dataset instead of exporting.
type DatasetSource struct {
	dir string
}

// NewDatasetSource reads the bridge files in dir.
func NewDatasetSource(dir string) *DatasetSource { return &DatasetSource{dir: dir} }

// Fetch implements Source.
func (s *DatasetSource) Fetch(ctx context.Context) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := LoadDataset(s.dir)
	if err != nil {
		return nil, err
	}
	return d.All(), nil
}
