package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractJSON pulls the first JSON object or array out of a model response,
// tolerating markdown code fences and surrounding prose. Returns an error if
// no parseable JSON is found.
func ExtractJSON(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)

	// Strip a fenced code block if present.
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "\n")
		if end := strings.Index(rest, "```"); end >= 0 {
			text = rest[:end]
		} else {
			text = rest
		}
		text = strings.TrimSpace(text)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, eris.New("anthropic: no JSON found in response")
	}

	candidate := text[start:]
	if end := matchBracket(candidate); end > 0 {
		candidate = candidate[:end]
	}

	if !json.Valid([]byte(candidate)) {
		return nil, eris.New("anthropic: response JSON is malformed")
	}
	return json.RawMessage(candidate), nil
}

// UnmarshalResponse extracts JSON from a response body and decodes it into v.
func UnmarshalResponse(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return eris.Wrap(err, "anthropic: decode response JSON")
	}
	return nil
}

// matchBracket returns the index one past the close of the first balanced
// bracket pair, skipping brackets inside string literals. Returns 0 if the
// brackets never balance.
func matchBracket(s string) int {
	if len(s) == 0 {
		return 0
	}
	open := s[0]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return 0
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return 0
}
