package inference

import (
	"regexp"
	"strings"
)

var (
	// thinkSpanRe matches a closed reasoning block; thinkTailRe matches
	// an unclosed one, which swallows the rest of the text.
	thinkSpanRe = regexp.MustCompile(`(?is)<think>.*?</think>`)
	thinkTailRe = regexp.MustCompile(`(?is)<think>.*$`)
)

// SanitizeAssistantForContext removes reasoning blocks and terminal
// markers from assistant text before it is fed back into subsequent
// turns.
func SanitizeAssistantForContext(text string) string {
	s := stripThinkBlocks(text)
	for _, token := range []string{
		"<|im_end|>",
		"<|im_start|>",
		"<|endoftext|>",
		"<|eot_id|>",
		"</s>",
	} {
		s = strings.ReplaceAll(s, token, "")
	}
	return strings.TrimSpace(s)
}

func stripThinkBlocks(text string) string {
	if !strings.Contains(strings.ToLower(text), "<think>") {
		return text
	}
	return thinkTailRe.ReplaceAllString(thinkSpanRe.ReplaceAllString(text, ""), "")
}
