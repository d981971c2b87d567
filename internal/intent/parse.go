package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapask/pkg/core"
)

// rawIntent mirrors the wire shape. Pointers distinguish null from absent.
type rawIntent struct {
	AnalysisType *string  `json:"analysis_type"`
	Metric       *string  `json:"metric"`
	GroupBy      []string `json:"group_by"`
	TimeField    *string  `json:"time_field"`
	TopN         *int     `json:"top_n"`
}

// ParseIntent validates a classifier response and converts it to an Intent.
// Code fences and surrounding prose are tolerated; anything else about the
// object must match the schema exactly.
func ParseIntent(response string) (core.Intent, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return core.Intent{}, errors.New("no JSON object in classifier response")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(jsonStr)))
	dec.DisallowUnknownFields()
	var raw rawIntent
	if err := dec.Decode(&raw); err != nil {
		return core.Intent{}, fmt.Errorf("decode intent: %w", err)
	}

	if raw.AnalysisType == nil {
		return core.Intent{}, errors.New("analysis_type is required")
	}
	at := core.AnalysisType(strings.ToLower(strings.TrimSpace(*raw.AnalysisType)))
	if !at.Valid() {
		return core.Intent{}, fmt.Errorf("unknown analysis_type %q", *raw.AnalysisType)
	}
	if raw.TopN != nil && *raw.TopN <= 0 {
		return core.Intent{}, fmt.Errorf("top_n must be a positive integer, got %d", *raw.TopN)
	}

	in := core.Intent{
		AnalysisType: at,
		Metric:       trimmed(raw.Metric),
		TimeField:    trimmed(raw.TimeField),
		TopN:         raw.TopN,
	}
	for _, g := range raw.GroupBy {
		if g = strings.TrimSpace(g); g != "" {
			in.GroupBy = append(in.GroupBy, g)
		}
	}
	return in, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// extractJSON finds the JSON object in a model response: a ```json fence,
// a generic fence holding an object, or the first balanced object in the text.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	if start := strings.Index(response, "{"); start != -1 {
		return extractJSONObject(response, start)
	}
	return ""
}

// extractJSONObject returns the balanced object starting at start, skipping
// braces inside strings. It returns "" if the object is not closed.
func extractJSONObject(s string, start int) string {
	if start >= len(s) || s[start] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
