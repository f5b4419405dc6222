package generate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var errNoJSON = errors.New("no JSON object found in output")

// parse extracts the JSON object from a model reply, decodes it into T and
// checks T's validate rules.
func parse[T any](text string) (T, error) {
	var out T
	raw, err := extractJSON(text)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return out, fmt.Errorf("schema violation: %w", err)
	}
	return out, nil
}

// extractJSON strips markdown fences and surrounding prose, returning the
// outermost object.
func extractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errNoJSON
	}
	return s[start : end+1], nil
}
