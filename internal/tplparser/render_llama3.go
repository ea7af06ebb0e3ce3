package tplparser

import "strings"

func renderLlama3(opts RenderOptions) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	for _, msg := range opts.Messages {
		b.WriteString("<|start_header_id|>")
		b.WriteString(msg.Role)
		b.WriteString("<|end_header_id|>\n\n")
		b.WriteString(msg.Content)
		b.WriteString("<|eot_id|>")
	}
	if opts.AddGenerationPrompt {
		b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	}
	return b.String()
}
