// Package inference orchestrates one conversational turn: render the
// chat template, encode, reuse whatever prefix the KV cache still holds,
// prefill the remainder, then run the sample/emit/decode loop until EOS,
// a stop sequence, cancellation, or the token budget.
package inference

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calebodell/ember/internal/backend"
	"github.com/calebodell/ember/internal/kvcache"
	"github.com/calebodell/ember/internal/logger"
	"github.com/calebodell/ember/internal/logits"
	"github.com/calebodell/ember/internal/tokenizer"
	"github.com/calebodell/ember/internal/toolcall"
)

// Engine drives generation against one loaded model. At most one
// generate call may be in flight at a time; StopGeneration and the stats
// accessors are safe from any goroutine.
type Engine struct {
	cfg     Config
	model   backend.Model
	tok     *tokenizer.Tokenizer
	sampler *logits.Sampler
	cache   *kvcache.Cache
	log     logger.Logger

	// nPast counts tokens materialized in backend KV. It matches the
	// cache history length except right after LoadSession, where the
	// history is ahead and the next generate re-prefills.
	nPast int

	stopFlag atomic.Bool

	statsMu sync.Mutex
	stats   Stats

	functionSchema string
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithLogger routes engine logging.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New loads the model named by cfg.ModelPath and builds an engine on it.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.fillDefaults()
	model, err := backend.Open(cfg.backendConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInit, err)
	}
	return NewWithModel(model, cfg, opts...), nil
}

// NewWithModel builds an engine over an already-loaded backend. The
// engine takes ownership of the model.
func NewWithModel(model backend.Model, cfg Config, opts ...Option) *Engine {
	cfg.fillDefaults()
	if model.NCtx() > 0 && cfg.NCtx > model.NCtx() {
		cfg.NCtx = model.NCtx()
	}
	e := &Engine{
		cfg:     cfg,
		model:   model,
		tok:     tokenizer.New(model, cfg.tokenizerOptions()...),
		sampler: logits.NewSampler(logits.DefaultConfig()),
		cache:   kvcache.New(kvcache.Geometry{NCtx: cfg.NCtx}),
		log:     logger.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close releases the backend.
func (e *Engine) Close() error {
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	return err
}

// Tokenizer exposes the engine's tokenizer for prompt tooling.
func (e *Engine) Tokenizer() *tokenizer.Tokenizer { return e.tok }

// Generate runs a turn without streaming.
func (e *Engine) Generate(ctx context.Context, messages []Message, cfg GenerationConfig) (string, error) {
	return e.GenerateStream(ctx, messages, nil, cfg)
}

// GenerateStream runs one turn, invoking callback for every emitted
// piece and exactly once with isEnd true. The returned string is the
// concatenation of every sampled piece, cut at the start of the first
// stop sequence when one fires. The piece that completes a stop sequence
// is not streamed; earlier pieces of a stop sequence that spans several
// pieces have already been streamed.
func (e *Engine) GenerateStream(ctx context.Context, messages []Message, callback StreamCallback, cfg GenerationConfig) (string, error) {
	e.stopFlag.Store(false)
	start := time.Now()

	prompt := e.tok.ApplyChatTemplate(messages, true)
	tokens := e.tok.Encode(prompt, true)
	if len(tokens) >= e.cfg.NCtx {
		return "", fmt.Errorf("%w: prompt is %d tokens, context holds %d", ErrContextOverflow, len(tokens), e.cfg.NCtx)
	}
	promptTokens := len(tokens)

	// Drop whatever diverged from the previous turn, keep the rest.
	reuse := min(e.cache.CheckReusable(tokens), e.nPast)
	if reuse < e.nPast {
		e.model.KVDrop(reuse, e.nPast)
		e.cache.Truncate(reuse)
		e.nPast = reuse
	}

	if len(tokens) > e.nPast {
		if err := e.prefill(tokens[e.nPast:]); err != nil {
			e.cache.Truncate(e.nPast)
			return "", fmt.Errorf("%w: prefill: %v", ErrDecode, err)
		}
		e.nPast = len(tokens)
	}
	e.cache.Update(tokens)
	e.sampler.UpdateConfig(cfg.samplerConfig())

	e.log.Debug("generation start",
		"prompt_tokens", promptTokens,
		"reused", reuse,
		"template", e.tok.Kind().String(),
	)

	var result string
	generated := make([]int, 0, cfg.MaxTokens)

	for i := 0; i < cfg.MaxTokens; i++ {
		if e.stopFlag.Load() || ctx.Err() != nil {
			break
		}
		if e.nPast >= e.cfg.NCtx {
			break
		}

		tok := e.sampler.Sample(e.model.LogitsAt(-1), generated)
		if e.tok.IsEOS(tok) {
			break
		}

		piece := e.tok.DecodeToken(tok)
		result += piece

		shouldStop := false
		for _, stop := range cfg.StopSequences {
			if idx := strings.Index(result, stop); idx >= 0 {
				result = result[:idx]
				shouldStop = true
				break
			}
		}

		if !shouldStop && callback != nil {
			callback(piece, false)
		}

		generated = append(generated, tok)
		e.cache.Append(tok)

		single := backend.NewBatch(1)
		single.Add(tok, e.nPast, true)
		if err := e.model.Decode(*single); err != nil {
			// Fail soft, but roll the history back so it matches what the
			// backend actually holds.
			e.cache.Truncate(e.nPast)
			e.log.Warn("decode failed mid-generation", "error", err, "position", e.nPast)
			break
		}
		e.nPast++

		if shouldStop {
			break
		}
	}

	if callback != nil {
		callback("", true)
	}

	elapsed := time.Since(start)
	e.statsMu.Lock()
	e.stats = Stats{
		TokensGenerated: len(generated),
		GenerationTime:  elapsed,
		PromptTokens:    promptTokens,
		ContextTokens:   e.nPast,
	}
	if elapsed > 0 {
		e.stats.TokensPerSecond = float64(len(generated)) / elapsed.Seconds()
	}
	e.statsMu.Unlock()

	return result, nil
}

// prefill feeds the token suffix in NBatch-sized chunks, requesting
// logits at the final position only.
func (e *Engine) prefill(suffix []int) error {
	pos := e.nPast
	for len(suffix) > 0 {
		n := min(len(suffix), e.cfg.NBatch)
		batch := backend.NewBatch(n)
		for i := 0; i < n; i++ {
			batch.Add(suffix[i], pos+i, false)
		}
		if n == len(suffix) {
			batch.MarkLastLogits()
		}
		if err := e.model.Decode(*batch); err != nil {
			return err
		}
		suffix = suffix[n:]
		pos += n
	}
	return nil
}

// StopGeneration asks an in-flight generate to exit at its next loop
// boundary. Safe from any goroutine; a no-op when nothing is running.
func (e *Engine) StopGeneration() {
	e.stopFlag.Store(true)
}

// ClearCache forgets the conversation state on both sides.
func (e *Engine) ClearCache() {
	e.model.KVClear()
	e.cache.Clear()
	e.nPast = 0
}

// ParseFunctionCall extracts a tool invocation from a completed
// response. The boolean is false for plain text.
func (e *Engine) ParseFunctionCall(response string) (toolcall.FunctionCall, bool) {
	return toolcall.Parse(response)
}

// SetFunctionSchema stores the JSON tool schema a caller intends to
// surface to the model. The engine does not render prompts from it.
func (e *Engine) SetFunctionSchema(schema string) {
	e.functionSchema = schema
}

// FunctionSchema returns the stored schema.
func (e *Engine) FunctionSchema() string { return e.functionSchema }

// Stats returns the snapshot from the most recent generation.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// ResetStats zeroes the snapshot.
func (e *Engine) ResetStats() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats = Stats{}
}

// ContextUsage returns how many context positions are occupied.
func (e *Engine) ContextUsage() int { return e.nPast }

// MaxContext returns the context window.
func (e *Engine) MaxContext() int { return e.cfg.NCtx }

// ModelInfo summarizes the loaded model.
func (e *Engine) ModelInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model: %s\n", e.cfg.ModelPath)
	fmt.Fprintf(&b, "Context size: %d\n", e.cfg.NCtx)
	fmt.Fprintf(&b, "Vocab size: %d\n", e.model.VocabSize())
	fmt.Fprintf(&b, "Embedding size: %d\n", e.model.EmbedDim())
	return b.String()
}
