package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSON = errors.New("no JSON object in response")

// parseResult extracts and decodes the JSON object embedded in a model
// reply. Models wrap the JSON in prose or markdown fences often enough
// that decoding the raw reply directly is not viable.
func parseResult(text string) (*Result, error) {
	payload, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var resp modelResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}
	if resp.EnhancedNote == nil && resp.BasicNote == nil {
		return nil, errors.New("response contains no SOAP note")
	}
	return resp.toResult(), nil
}

// extractJSON returns the span from the first '{' to the last '}',
// cleaned of control characters the model occasionally leaks into
// string values.
func extractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", errNoJSON
	}
	return cleanJSON(text[start : end+1]), nil
}

// cleanJSON removes control characters that are illegal inside JSON
// strings. Tab, newline and carriage return survive: they are valid
// between tokens and json.Unmarshal rejects them inside strings anyway,
// which is the signal to fall back to the basic analysis.
func cleanJSON(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20 || (r >= 0x7f && r <= 0x9f):
			return -1
		}
		return r
	}, s)
}
