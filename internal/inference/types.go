package inference

import (
	"time"

	"github.com/calebodell/ember/internal/logits"
	"github.com/calebodell/ember/internal/tokenizer"
)

// Message is one chat turn handed to the engine.
type Message = tokenizer.Message

// StreamCallback receives generated pieces in emission order. It is
// called zero or more times with isEnd false, then exactly once with an
// empty piece and isEnd true.
type StreamCallback func(piece string, isEnd bool)

// GenerationConfig bounds and shapes one generation call.
type GenerationConfig struct {
	Temperature      float32
	TopP             float32
	TopK             int
	MaxTokens        int
	RepeatPenalty    float32
	RepeatLastN      int
	FrequencyPenalty float32
	PresencePenalty  float32
	Seed             int64
	StopSequences    []string
}

// DefaultGenerationConfig returns the stock generation parameters.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:   0.7,
		TopP:          0.9,
		TopK:          40,
		MaxTokens:     512,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
		Seed:          -1,
		StopSequences: []string{"<|im_end|>", "<|endoftext|>", "</s>"},
	}
}

func (g GenerationConfig) samplerConfig() logits.Config {
	return logits.Config{
		Temperature:      g.Temperature,
		TopP:             g.TopP,
		TopK:             g.TopK,
		RepeatPenalty:    g.RepeatPenalty,
		RepeatLastN:      g.RepeatLastN,
		FrequencyPenalty: g.FrequencyPenalty,
		PresencePenalty:  g.PresencePenalty,
		Seed:             g.Seed,
	}
}

// Stats reports the most recent generation. It is written once at the
// end of a generate call and may be read from other goroutines at any
// time; readers observe either the pre- or post-call snapshot.
type Stats struct {
	TokensGenerated int
	GenerationTime  time.Duration
	TokensPerSecond float64
	PromptTokens    int
	ContextTokens   int
}
