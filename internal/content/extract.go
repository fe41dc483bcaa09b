package content

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var jsonFence = regexp.MustCompile("```json\\s*\\n?([\\s\\S]*?)\\n?```")

// ErrNoJSON is returned when a response holds nothing that looks like JSON.
var ErrNoJSON = errors.New("no JSON found in response")

// ExtractJSON pulls the JSON payload out of a model response: the body of the
// first ```json fence if there is one, else the whole text. Any prose before
// the first '[' or '{' is dropped.
func ExtractJSON(text string) (string, error) {
	body := text
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		body = m[1]
	}
	i := strings.IndexAny(body, "[{")
	if i < 0 {
		return "", ErrNoJSON
	}
	return strings.TrimSpace(body[i:]), nil
}

// SplitItems parses a response into its raw items. A top-level object is
// treated as a single item.
func SplitItems(text string) ([]json.RawMessage, error) {
	body, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(body))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return []json.RawMessage{raw}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return items, nil
}

// ParseRecords turns a model response into validated records. err is set only
// when the response is not JSON at all; items that fail to decode or validate
// are returned in invalid and the rest are kept.
func ParseRecords(kind Kind, text string) (recs []Record, invalid []error, err error) {
	items, err := SplitItems(text)
	if err != nil {
		return nil, nil, err
	}
	for i, raw := range items {
		rec, err := DecodeValid(kind, raw)
		if err != nil {
			invalid = append(invalid, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, invalid, nil
}
