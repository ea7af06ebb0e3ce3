// Package toolcall extracts structured function invocations from model
// output. Assistants emit calls in a few wire shapes; the parser tries
// each in order and treats anything unparseable as plain text.
package toolcall

import (
	"regexp"

	"github.com/goccy/go-json"
)

// FunctionCall is one parsed invocation. Arguments is always a JSON
// string: object arguments are re-serialized, string arguments pass
// through.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<function_call>\s*(\{.*?\})\s*</function_call>`),
	regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`),
	regexp.MustCompile(`\{[^{}]*"name"\s*:\s*"[^"]+"\s*,\s*"arguments"\s*:\s*\{[^{}]*\}[^{}]*\}`),
}

// Parse scans response for a tool invocation. The boolean is false when
// no pattern matched or the matched JSON did not parse; that is ordinary
// text output, not an error.
func Parse(response string) (FunctionCall, bool) {
	for _, pattern := range patterns {
		m := pattern.FindStringSubmatch(response)
		if m == nil {
			continue
		}
		raw := m[0]
		if len(m) > 1 {
			raw = m[1]
		}
		if call, ok := decode(raw); ok {
			return call, true
		}
	}
	return FunctionCall{}, false
}

func decode(raw string) (FunctionCall, bool) {
	var payload struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return FunctionCall{}, false
	}
	if payload.Name == "" {
		return FunctionCall{}, false
	}

	call := FunctionCall{Name: payload.Name}
	if len(payload.Arguments) == 0 {
		return call, true
	}

	var asString string
	if err := json.Unmarshal(payload.Arguments, &asString); err == nil {
		call.Arguments = asString
		return call, true
	}

	var asObject map[string]any
	if err := json.Unmarshal(payload.Arguments, &asObject); err != nil {
		return FunctionCall{}, false
	}
	encoded, err := json.Marshal(asObject)
	if err != nil {
		return FunctionCall{}, false
	}
	call.Arguments = string(encoded)
	return call, true
}
