package importer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tordrt/seedkit/internal/atomicfile"
	"github.com/tordrt/seedkit/internal/content"
	"github.com/tordrt/seedkit/internal/db"
	"gopkg.in/yaml.v3"
)

// ReadItems loads a JSON array of items from path. A single top-level object
// is read as one item.
func ReadItems(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '{' {
		return []json.RawMessage{json.RawMessage(data)}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return items, nil
}

// FailedPath is the sidecar file for items of input that did not import.
// A sidecar is its own sidecar, so re-running one rewrites or removes it
// instead of stacking up ".failed.failed.json" files.
func FailedPath(input string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	base = strings.TrimSuffix(base, ".failed")
	return base + ".failed.json"
}

// WriteFailed writes every rejected item and every item of a failed batch to
// path, in input order, so a re-run can target just those. With nothing to
// write a stale sidecar is removed. It returns the number of items written.
func WriteFailed(path string, raws []json.RawMessage, res Result) (int, error) {
	idx := make(map[int]struct{})
	for _, r := range res.Rejected {
		idx[r.Index] = struct{}{}
	}
	for _, f := range res.Failures {
		for row := f.Start; row < f.End; row++ {
			idx[res.sourceIndex(row)] = struct{}{}
		}
	}

	if len(idx) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("failed to remove stale %s: %w", path, err)
		}
		return 0, nil
	}

	out := make([]json.RawMessage, 0, len(idx))
	for i, raw := range raws {
		if _, ok := idx[i]; ok {
			out = append(out, raw)
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode failed items: %w", err)
	}
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return 0, err
	}
	return len(out), nil
}

// Entry maps one file of generated content to a table. OnConflict and
// IgnoreDuplicates make the import re-runnable; see db.NewConflict.
type Entry struct {
	Name             string       `yaml:"name"`
	File             string       `yaml:"file"`
	Table            string       `yaml:"table"`
	Kind             content.Kind `yaml:"kind"`
	OnConflict       string       `yaml:"on_conflict"`
	IgnoreDuplicates bool         `yaml:"ignore_duplicates"`
}

// Conflict is the entry's conflict handling.
func (e Entry) Conflict() db.Conflict {
	return db.NewConflict(e.OnConflict, e.IgnoreDuplicates)
}

// Manifest is a list of files to import in order. Prepare, when set, is a
// SQL file applied before any import; its failure is reported but does not
// stop the imports.
type Manifest struct {
	BaseDir string  `yaml:"base_dir"`
	Prepare string  `yaml:"prepare"`
	Imports []Entry `yaml:"imports"`
}

// LoadManifest reads a manifest and resolves relative paths against
// base_dir, or the manifest's own directory when base_dir is unset.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	base := filepath.Dir(path)
	if m.BaseDir != "" {
		base = resolve(base, m.BaseDir)
	}
	if m.Prepare != "" {
		m.Prepare = resolve(base, m.Prepare)
	}
	if len(m.Imports) == 0 {
		return nil, fmt.Errorf("manifest %s lists no imports", path)
	}

	for i := range m.Imports {
		e := &m.Imports[i]
		if e.File == "" {
			return nil, fmt.Errorf("manifest entry %d has no file", i)
		}
		e.File = resolve(base, e.File)
		if e.Kind != "" {
			k, err := content.ParseKind(string(e.Kind))
			if err != nil {
				return nil, fmt.Errorf("manifest entry %d: %w", i, err)
			}
			e.Kind = k
			if e.Table == "" {
				e.Table = k.DefaultTable()
			}
		}
		if e.Table == "" {
			return nil, fmt.Errorf("manifest entry %d (%s) has no table", i, e.File)
		}
		if e.Name == "" {
			e.Name = e.Table
		}
	}
	return &m, nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
