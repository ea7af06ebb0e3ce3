package tplparser

// Message is one chat turn handed to a renderer.
type Message struct {
	Role    string
	Content string
}

// Kind selects a template family.
type Kind int

const (
	Auto Kind = iota
	ChatML
	Llama2
	Llama3
	Qwen
	Custom
)

func (k Kind) String() string {
	switch k {
	case Auto:
		return "auto"
	case ChatML:
		return "chatml"
	case Llama2:
		return "llama2"
	case Llama3:
		return "llama3"
	case Qwen:
		return "qwen"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// RenderOptions configures a single render pass.
type RenderOptions struct {
	Kind                Kind
	Messages            []Message
	AddGenerationPrompt bool
}
