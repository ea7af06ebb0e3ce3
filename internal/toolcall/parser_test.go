package toolcall

import "testing"

func TestParseFunctionCallTag(t *testing.T) {
	response := "Sure!\n<function_call>{\"name\":\"play_music\",\"arguments\":{\"q\":\"jazz\"}}</function_call>"
	call, ok := Parse(response)
	if !ok {
		t.Fatalf("no call parsed")
	}
	if call.Name != "play_music" {
		t.Fatalf("name: got %q", call.Name)
	}
	if call.Arguments != `{"q":"jazz"}` {
		t.Fatalf("arguments: got %q", call.Arguments)
	}
}

func TestParseToolCallTag(t *testing.T) {
	response := "<tool_call>\n{\"name\": \"navigate_to\", \"arguments\": {\"destination\": \"airport\"}}\n</tool_call>"
	call, ok := Parse(response)
	if !ok {
		t.Fatalf("no call parsed")
	}
	if call.Name != "navigate_to" {
		t.Fatalf("name: got %q", call.Name)
	}
	if call.Arguments != `{"destination":"airport"}` {
		t.Fatalf("arguments: got %q", call.Arguments)
	}
}

func TestParseBareJSONObject(t *testing.T) {
	response := `I'll do that. {"name": "control_window", "arguments": {"action": "open"}}`
	call, ok := Parse(response)
	if !ok {
		t.Fatalf("no call parsed")
	}
	if call.Name != "control_window" {
		t.Fatalf("name: got %q", call.Name)
	}
	if call.Arguments != `{"action":"open"}` {
		t.Fatalf("arguments: got %q", call.Arguments)
	}
}

func TestParseStringArgumentsPassThrough(t *testing.T) {
	response := `<function_call>{"name":"echo","arguments":"verbatim text"}</function_call>`
	call, ok := Parse(response)
	if !ok {
		t.Fatalf("no call parsed")
	}
	if call.Arguments != "verbatim text" {
		t.Fatalf("arguments: got %q", call.Arguments)
	}
}

func TestParseTagPatternWinsOverBareJSON(t *testing.T) {
	response := `{"name": "late", "arguments": {"x": "1"}} <function_call>{"name":"early","arguments":{}}</function_call>`
	call, ok := Parse(response)
	if !ok {
		t.Fatalf("no call parsed")
	}
	if call.Name != "early" {
		t.Fatalf("pattern order violated: got %q", call.Name)
	}
}

func TestParseMultilinePayload(t *testing.T) {
	response := "<function_call>\n{\"name\": \"set_temp\",\n \"arguments\": {\"celsius\": \"21\"}}\n</function_call>"
	call, ok := Parse(response)
	if !ok {
		t.Fatalf("dotall matching failed")
	}
	if call.Name != "set_temp" {
		t.Fatalf("name: got %q", call.Name)
	}
}

func TestParseNoMatch(t *testing.T) {
	cases := map[string]string{
		"plain-text":      "The cabin temperature is 21 degrees.",
		"invalid-json":    "<function_call>{not json}</function_call>",
		"missing-name":    `{"arguments": {"q": "jazz"}}`,
		"empty":           "",
		"name-not-string": `<tool_call>{"name": 42, "arguments": {}}</tool_call>`,
	}
	for name, response := range cases {
		if call, ok := Parse(response); ok {
			t.Fatalf("%s: unexpected call %+v", name, call)
		}
	}
}
