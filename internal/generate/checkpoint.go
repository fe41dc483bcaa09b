package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tordrt/seedkit/internal/atomicfile"
)

// ErrLocked is returned when another process holds the run.
var ErrLocked = errors.New("run is locked by another process")

// Checkpoint is the resume point of a generation run.
type Checkpoint struct {
	RunID string `json:"run_id"`
	Plan  string `json:"plan"`
	// Next is the index of the first job not yet attempted.
	Next   int      `json:"next"`
	Items  int      `json:"items"`
	Errors int      `json:"errors"`
	Failed []string `json:"failed,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointStore persists checkpoints and guards a run against concurrent
// writers.
type CheckpointStore interface {
	// Load returns nil, nil when the run has no checkpoint.
	Load(ctx context.Context, runID string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	// Delete is not an error when nothing is stored.
	Delete(ctx context.Context, runID string) error
	// Lock returns ErrLocked when the run is already held.
	Lock(ctx context.Context, runID string) (unlock func() error, err error)
}

// FileCheckpointStore keeps one JSON file per run in a directory.
type FileCheckpointStore struct {
	dir string
}

func NewFileCheckpointStore(dir string) *FileCheckpointStore {
	return &FileCheckpointStore{dir: dir}
}

func (s *FileCheckpointStore) path(runID, ext string) string {
	return filepath.Join(s.dir, safeName(runID)+ext)
}

func (s *FileCheckpointStore) Load(_ context.Context, runID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(runID, ".checkpoint.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *FileCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return atomicfile.Write(s.path(cp.RunID, ".checkpoint.json"), data, 0o644)
}

func (s *FileCheckpointStore) Delete(_ context.Context, runID string) error {
	err := os.Remove(s.path(runID, ".checkpoint.json"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (s *FileCheckpointStore) Lock(_ context.Context, runID string) (func() error, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	path := s.path(runID, ".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: remove %s if no other process is running", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()

	return func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove lock file: %w", err)
		}
		return nil
	}, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}
