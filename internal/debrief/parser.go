package debrief

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Delimiter separates narrative prose from the structured data block in a
// GM response. This is the canonical marker; LegacyDelimiter is accepted on
// input only.
const (
	Delimiter       = "---SYSTEM_DATA_FOLLOWS---"
	LegacyDelimiter = "SYSTEM_UPDATE:"
)

// ErrParse is returned when the structured block cannot be parsed. The
// error is recoverable: callers surface it inline and leave state alone.
var ErrParse = errors.New("failed to parse response")

// jsonObjectPattern greedily grabs the outermost {...} span so prose
// surrounding the JSON block is tolerated
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// Parsed is the split form of a pasted response
type Parsed struct {
	Narrative string
	Payload   *Payload
}

// Parse splits raw pasted text into narrative and structured data. Text
// before the delimiter is narrative; the JSON object after it becomes the
// payload. Without a delimiter the whole text is tried as JSON first and
// treated as pure narrative when it clearly is not a JSON document.
func Parse(raw string) (*Parsed, error) {
	narrative, data, hasMarker := split(raw)

	if !hasMarker {
		trimmed := strings.TrimSpace(raw)
		if strings.HasPrefix(trimmed, "{") {
			payload, err := parsePayload(trimmed)
			if err != nil {
				return nil, err
			}
			return &Parsed{Narrative: "", Payload: payload}, nil
		}
		return &Parsed{Narrative: trimmed}, nil
	}

	match := jsonObjectPattern.FindString(data)
	if match == "" {
		return nil, fmt.Errorf("%w: no JSON object after delimiter", ErrParse)
	}

	payload, err := parsePayload(match)
	if err != nil {
		return nil, err
	}
	return &Parsed{Narrative: narrative, Payload: payload}, nil
}

func split(raw string) (narrative, data string, hasMarker bool) {
	if idx := strings.Index(raw, Delimiter); idx >= 0 {
		return strings.TrimSpace(raw[:idx]), raw[idx+len(Delimiter):], true
	}
	if idx := strings.Index(raw, LegacyDelimiter); idx >= 0 {
		return strings.TrimSpace(raw[:idx]), raw[idx+len(LegacyDelimiter):], true
	}
	return "", "", false
}

func parsePayload(jsonText string) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &payload, nil
}
