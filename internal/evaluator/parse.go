package evaluator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/valpere/straightener/internal/engine"
	"github.com/valpere/straightener/internal/postprocess"
)

const (
	fieldMatch      = "MATCH"
	fieldConfidence = "CONFIDENCE"
	fieldCorrect    = "CORRECT_ELEMENTS"
	fieldMissing    = "MISSING_ELEMENTS"
	fieldImprove    = "IMPROVEMENTS"
)

// labelRe matches "MATCH: YES", "**Confidence:** 0.8", "2. IMPROVEMENTS: ..."
// and similar field lines.
var labelRe = regexp.MustCompile(
	`(?i)^\s*(?:[-*]\s+)?(?:\d+[.)]\s*)?\**\s*(MATCH|CONFIDENCE|CORRECT[_ ]ELEMENTS|MISSING[_ ]ELEMENTS|IMPROVEMENTS)\s*\**\s*:\s*\**\s*(.*?)\s*$`,
)

var numberRe = regexp.MustCompile(`([-+]?(?:\d+(?:\.\d+)?|\.\d+))\s*(%|/\s*(\d+(?:\.\d+)?))?`)

// Parse extracts an evaluation from a model response. Both the labelled
// text format and a JSON object with the same keys are accepted. A response
// without a usable confidence is malformed.
func Parse(response string) (*engine.Evaluation, error) {
	text := postprocess.Clean(response)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", engine.ErrMalformedEvaluation)
	}
	if strings.HasPrefix(text, "{") {
		return parseJSON(text)
	}
	return parseLabelled(text)
}

func parseLabelled(text string) (*engine.Evaluation, error) {
	fields := make(map[string]string)
	current := ""
	for _, line := range strings.Split(text, "\n") {
		if m := labelRe.FindStringSubmatch(line); m != nil {
			current = strings.ReplaceAll(strings.ToUpper(m[1]), " ", "_")
			fields[current] = m[2]
			continue
		}
		if current != "" && strings.TrimSpace(line) != "" {
			fields[current] = strings.TrimSpace(fields[current] + "\n" + strings.TrimSpace(line))
		}
	}

	raw, ok := fields[fieldConfidence]
	if !ok {
		return nil, fmt.Errorf("%w: no CONFIDENCE field", engine.ErrMalformedEvaluation)
	}
	confidence, err := parseConfidence(raw)
	if err != nil {
		return nil, err
	}

	return &engine.Evaluation{
		MatchesIntent:   parseMatch(fields[fieldMatch]),
		Confidence:      confidence,
		CorrectElements: postprocess.Unquote(fields[fieldCorrect]),
		MissingElements: postprocess.Unquote(fields[fieldMissing]),
		Improvements:    postprocess.Unquote(fields[fieldImprove]),
	}, nil
}

type jsonEvaluation struct {
	Match           json.RawMessage `json:"match"`
	MatchesIntent   json.RawMessage `json:"matches_intent"`
	Confidence      json.RawMessage `json:"confidence"`
	CorrectElements flexText        `json:"correct_elements"`
	MissingElements flexText        `json:"missing_elements"`
	Improvements    flexText        `json:"improvements"`
}

func parseJSON(text string) (*engine.Evaluation, error) {
	var parsed jsonEvaluation
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON verdict: %v", engine.ErrMalformedEvaluation, err)
	}

	if len(parsed.Confidence) == 0 || bytes.Equal(parsed.Confidence, []byte("null")) {
		return nil, fmt.Errorf("%w: no confidence field", engine.ErrMalformedEvaluation)
	}
	confidence, err := parseConfidence(rawString(parsed.Confidence))
	if err != nil {
		return nil, err
	}

	match := parsed.Match
	if len(match) == 0 {
		match = parsed.MatchesIntent
	}

	return &engine.Evaluation{
		MatchesIntent:   parseMatch(rawString(match)),
		Confidence:      confidence,
		CorrectElements: string(parsed.CorrectElements),
		MissingElements: string(parsed.MissingElements),
		Improvements:    string(parsed.Improvements),
	}, nil
}

// rawString returns a JSON scalar as text: strings are unquoted, numbers and
// booleans are returned as written.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// flexText accepts a string, a list of strings or null.
type flexText string

func (f *flexText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexText(strings.TrimSpace(s))
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = flexText(strings.Join(list, "; "))
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	return fmt.Errorf("expected string or list of strings, got %s", data)
}

func parseMatch(s string) bool {
	s = strings.ToUpper(postprocess.Unquote(s))
	return strings.HasPrefix(s, "YES") || strings.HasPrefix(s, "TRUE")
}

// parseConfidence reads the first number in s. Percentages ("85%") and
// ratios ("8/10") are scaled, a bare number above 1 is read as a percentage,
// and the result is clamped to [0, 1].
func parseConfidence(s string) (float64, error) {
	m := numberRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: confidence %q is not a number", engine.ErrMalformedEvaluation, s)
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: confidence %q: %v", engine.ErrMalformedEvaluation, s, err)
	}

	switch {
	case m[2] == "%":
		v /= 100
	case m[3] != "":
		scale, err := strconv.ParseFloat(m[3], 64)
		if err != nil || scale == 0 {
			return 0, fmt.Errorf("%w: confidence %q has a bad scale", engine.ErrMalformedEvaluation, s)
		}
		v /= scale
	case v > 1 && v <= 100:
		v /= 100
	}

	return min(max(v, 0), 1), nil
}
