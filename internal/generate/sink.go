package generate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tordrt/seedkit/internal/atomicfile"
	"github.com/tordrt/seedkit/internal/content"
)

// Sink accumulates generated items and rewrites the output file as one JSON
// array on every Flush.
type Sink struct {
	path  string
	items []json.RawMessage
}

// OpenSink starts from the items already in path, if it exists.
func OpenSink(path string) (*Sink, error) {
	s := &Sink{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read output file: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.items); err != nil {
			return nil, fmt.Errorf("output file %s is not a JSON array: %w", path, err)
		}
	}
	return s, nil
}

func (s *Sink) Path() string { return s.path }

func (s *Sink) Len() int { return len(s.items) }

// Since returns the items from position n on.
func (s *Sink) Since(n int) []json.RawMessage {
	if n >= len(s.items) {
		return nil
	}
	return s.items[n:]
}

// Truncate drops items beyond n, used when resuming from a checkpoint that
// was saved before the output file was last flushed.
func (s *Sink) Truncate(n int) {
	if n >= 0 && n < len(s.items) {
		s.items = s.items[:n]
	}
}

func (s *Sink) Add(recs ...content.Record) error {
	for _, r := range recs {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode %s item: %w", r.Kind(), err)
		}
		s.items = append(s.items, raw)
	}
	return nil
}

func (s *Sink) Flush() error {
	items := s.items
	if items == nil {
		items = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return atomicfile.Write(s.path, data, 0o644)
}
