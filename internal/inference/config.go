package inference

import (
	"runtime"
	"strings"

	"github.com/calebodell/ember/internal/backend"
	"github.com/calebodell/ember/internal/tokenizer"
	"github.com/calebodell/ember/internal/tplparser"
)

// Config configures engine construction.
type Config struct {
	ModelPath  string
	NCtx       int
	NBatch     int
	NGPULayers int
	NThreads   int
	UseMmap    bool
	UseMlock   bool

	// ChatTemplate overrides template detection: a family name
	// ("chatml", "llama2", "llama3", "qwen") or a custom template
	// string. Empty or "auto" detects from the vocabulary.
	ChatTemplate string
}

// DefaultConfig returns the stock engine parameters for a model path.
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath:  modelPath,
		NCtx:       4096,
		NBatch:     512,
		NGPULayers: 35,
		NThreads:   max(1, runtime.NumCPU()/2),
		UseMmap:    true,
	}
}

func (c *Config) fillDefaults() {
	if c.NCtx <= 0 {
		c.NCtx = 4096
	}
	if c.NBatch <= 0 {
		c.NBatch = 512
	}
	if c.NThreads <= 0 {
		c.NThreads = max(1, runtime.NumCPU()/2)
	}
}

func (c Config) backendConfig() backend.Config {
	return backend.Config{
		ModelPath:  c.ModelPath,
		NCtx:       c.NCtx,
		NBatch:     c.NBatch,
		NGPULayers: c.NGPULayers,
		NThreads:   c.NThreads,
		UseMmap:    c.UseMmap,
		UseMlock:   c.UseMlock,
	}
}

// tokenizerOptions maps the ChatTemplate setting onto tokenizer options.
func (c Config) tokenizerOptions() []tokenizer.Option {
	switch strings.ToLower(strings.TrimSpace(c.ChatTemplate)) {
	case "", "auto":
		return nil
	case "chatml":
		return []tokenizer.Option{tokenizer.WithKind(tplparser.ChatML)}
	case "llama2":
		return []tokenizer.Option{tokenizer.WithKind(tplparser.Llama2)}
	case "llama3":
		return []tokenizer.Option{tokenizer.WithKind(tplparser.Llama3)}
	case "qwen":
		return []tokenizer.Option{tokenizer.WithKind(tplparser.Qwen)}
	default:
		return []tokenizer.Option{tokenizer.WithCustomTemplate(c.ChatTemplate)}
	}
}
