// Package content defines the structured items produced by generation and
// consumed by import. Every item is one of a closed set of variants, each of
// which validates itself and knows how to turn into a table row.
package content

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Kind string

const (
	KindExplanation     Kind = "explanation"
	KindMistakePattern  Kind = "mistake_pattern"
	KindAnalogy         Kind = "analogy"
	KindStuckResponse   Kind = "stuck_response"
	KindPracticeProblem Kind = "practice_problem"
)

var defaultTables = map[Kind]string{
	KindExplanation:     "explanation_library",
	KindMistakePattern:  "mistake_patterns",
	KindAnalogy:         "subject_analogies",
	KindStuckResponse:   "kid_stuck_responses",
	KindPracticeProblem: "practice_problems",
}

// Kinds returns every known kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindExplanation, KindMistakePattern, KindAnalogy, KindStuckResponse, KindPracticeProblem}
}

// ParseKind accepts the kind name, also with dashes instead of underscores.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if _, ok := defaultTables[k]; !ok {
		names := make([]string, 0, len(defaultTables))
		for _, known := range Kinds() {
			names = append(names, string(known))
		}
		return "", fmt.Errorf("unknown content kind %q (want one of %s)", s, strings.Join(names, ", "))
	}
	return k, nil
}

// DefaultTable is the table items of this kind are imported into unless
// overridden.
func (k Kind) DefaultTable() string {
	return defaultTables[k]
}

// Record is one validated-or-validatable content item.
type Record interface {
	Kind() Kind
	Validate() error
	Row() map[string]any
	sealed()
}

// ValidationError describes why an item was rejected.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s: %s", e.Kind, e.Field, e.Reason)
}

// Decode unmarshals raw into the variant for kind. It does not validate.
func Decode(kind Kind, raw json.RawMessage) (Record, error) {
	var rec Record
	switch kind {
	case KindExplanation:
		rec = &Explanation{}
	case KindMistakePattern:
		rec = &MistakePattern{}
	case KindAnalogy:
		rec = &Analogy{}
	case KindStuckResponse:
		rec = &StuckResponse{}
	case KindPracticeProblem:
		rec = &PracticeProblem{}
	default:
		return nil, fmt.Errorf("unknown content kind %q", kind)
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, &ValidationError{Kind: kind, Reason: fmt.Sprintf("malformed item: %v", err)}
	}
	return rec, nil
}

// DecodeValid is Decode followed by Validate.
func DecodeValid(kind Kind, raw json.RawMessage) (Record, error) {
	rec, err := Decode(kind, raw)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
