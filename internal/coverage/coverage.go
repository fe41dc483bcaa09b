// Package coverage compares an expected set of identifiers against the set
// actually present somewhere else, e.g. rule ids referenced by practice
// problems versus rule ids that have guided practice.
package coverage

import (
	"math"
	"sort"
)

// KeySet is an unordered, deduplicated set of non-empty identifiers.
type KeySet map[string]struct{}

// NewKeySet builds a set from keys, dropping empty strings.
func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// Add inserts k and reports whether it was new. Empty keys are ignored.
func (s KeySet) Add(k string) bool {
	if k == "" {
		return false
	}
	if _, ok := s[k]; ok {
		return false
	}
	s[k] = struct{}{}
	return true
}

func (s KeySet) Has(k string) bool {
	_, ok := s[k]
	return ok
}

func (s KeySet) Len() int { return len(s) }

// Sorted returns the keys in lexical order.
func (s KeySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same keys.
func (s KeySet) Equal(o KeySet) bool {
	if len(s) != len(o) {
		return false
	}
	for k := range s {
		if !o.Has(k) {
			return false
		}
	}
	return true
}

// Result is derived on every run and never persisted.
type Result struct {
	Covered       KeySet
	Missing       KeySet
	TotalExpected int
	// Percentage is 100*|Covered|/|expected| rounded to the nearest
	// integer, and 0 when nothing was expected.
	Percentage int
}

// Compare computes covered = expected ∩ present and missing = expected − present.
func Compare(expected, present KeySet) Result {
	res := Result{
		Covered:       make(KeySet),
		Missing:       make(KeySet),
		TotalExpected: len(expected),
	}
	for k := range expected {
		if present.Has(k) {
			res.Covered[k] = struct{}{}
		} else {
			res.Missing[k] = struct{}{}
		}
	}
	if res.TotalExpected > 0 {
		res.Percentage = int(math.Round(100 * float64(len(res.Covered)) / float64(res.TotalExpected)))
	}
	return res
}

// Complete reports whether every expected key is present.
func (r Result) Complete() bool {
	return len(r.Missing) == 0
}
