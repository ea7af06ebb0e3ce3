package tplparser

import "strings"

// renderLlama2 emits the [INST] wire format. The system message, if any,
// is folded into the first user turn inside <<SYS>> markers.
func renderLlama2(opts RenderOptions) string {
	var b strings.Builder

	system := ""
	for _, msg := range opts.Messages {
		if msg.Role == "system" {
			system = msg.Content
			break
		}
	}

	firstUser := true
	for _, msg := range opts.Messages {
		switch msg.Role {
		case "user":
			b.WriteString("<s>[INST] ")
			if firstUser && system != "" {
				b.WriteString("<<SYS>>\n")
				b.WriteString(system)
				b.WriteString("\n<</SYS>>\n\n")
			}
			firstUser = false
			b.WriteString(msg.Content)
			b.WriteString(" [/INST]")
		case "assistant":
			b.WriteString(" ")
			b.WriteString(msg.Content)
			b.WriteString(" </s>")
		}
	}
	return b.String()
}
