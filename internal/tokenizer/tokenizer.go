// Package tokenizer converts between text and token ids and renders chat
// conversations into model prompts. It wraps the backend's vocabulary and
// detects the chat template family from the marker tokens it finds there.
package tokenizer

import (
	"strings"

	"github.com/calebodell/ember/internal/backend"
	"github.com/calebodell/ember/internal/tplparser"
)

// Message is one chat turn.
type Message = tplparser.Message

// SpecialTokens holds the well-known ids resolved from the vocabulary.
// Ids are -1 when the vocabulary has no such token.
type SpecialTokens struct {
	BOS     int
	EOS     int
	PAD     int
	IMStart int
	IMEnd   int
}

// Tokenizer is bound to one loaded model's vocabulary.
type Tokenizer struct {
	model   backend.Model
	special SpecialTokens
	kind    tplparser.Kind
	custom  string
}

// Option adjusts tokenizer construction.
type Option func(*Tokenizer)

// WithKind overrides template auto-detection.
func WithKind(kind tplparser.Kind) Option {
	return func(t *Tokenizer) { t.kind = kind }
}

// WithCustomTemplate supplies a template string. Without a template
// engine wired in, rendering falls back to ChatML.
func WithCustomTemplate(tpl string) Option {
	return func(t *Tokenizer) {
		t.custom = tpl
		t.kind = tplparser.Custom
	}
}

// New builds a tokenizer over the model's vocabulary and detects the chat
// template family unless an option pins it.
func New(m backend.Model, opts ...Option) *Tokenizer {
	t := &Tokenizer{
		model: m,
		kind:  tplparser.Auto,
		special: SpecialTokens{
			BOS:     m.BOSID(),
			EOS:     m.EOSID(),
			PAD:     m.PADID(),
			IMStart: singleTokenID(m, "<|im_start|>"),
			IMEnd:   singleTokenID(m, "<|im_end|>"),
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.kind == tplparser.Auto {
		t.kind = t.detectKind()
	}
	return t
}

// detectKind inspects the vocabulary for marker tokens. ChatML wins when
// both im markers exist; Llama-3 and Llama-2 are recognized by their own
// markers; anything else formats as ChatML.
func (t *Tokenizer) detectKind() tplparser.Kind {
	switch {
	case t.special.IMStart >= 0 && t.special.IMEnd >= 0:
		return tplparser.ChatML
	case singleTokenID(t.model, "<|start_header_id|>") >= 0:
		return tplparser.Llama3
	case singleTokenID(t.model, "[INST]") >= 0:
		return tplparser.Llama2
	default:
		return tplparser.ChatML
	}
}

// singleTokenID returns the id a marker string tokenizes to, or -1 when
// the vocabulary splits it.
func singleTokenID(m backend.Model, piece string) int {
	ids := m.Tokenize(piece, false, true)
	if len(ids) != 1 {
		return -1
	}
	return ids[0]
}

// Kind reports the template family in effect.
func (t *Tokenizer) Kind() tplparser.Kind { return t.kind }

// Special returns the resolved special-token ids.
func (t *Tokenizer) Special() SpecialTokens { return t.special }

// VocabSize returns the vocabulary size.
func (t *Tokenizer) VocabSize() int { return t.model.VocabSize() }

// Encode converts text to ids. When special is true, marker strings in
// the input collapse to their dedicated ids; otherwise they tokenize as
// literal text.
func (t *Tokenizer) Encode(text string, special bool) []int {
	return t.model.Tokenize(text, false, special)
}

// Decode converts ids back to text. When skipSpecial is true, BOS, EOS,
// PAD and the im markers are dropped from the output.
func (t *Tokenizer) Decode(ids []int, skipSpecial bool) string {
	var b strings.Builder
	for _, id := range ids {
		if skipSpecial && t.IsSpecial(id) {
			continue
		}
		b.WriteString(t.model.TokenToPiece(id, !skipSpecial))
	}
	return b.String()
}

// DecodeToken returns the surface piece for one id.
func (t *Tokenizer) DecodeToken(id int) string {
	return t.model.TokenToPiece(id, true)
}

// IsSpecial reports whether the id is one of the filtered markers.
func (t *Tokenizer) IsSpecial(id int) bool {
	s := t.special
	return (id == s.BOS && s.BOS >= 0) ||
		(id == s.EOS && s.EOS >= 0) ||
		(id == s.PAD && s.PAD >= 0) ||
		(id == s.IMStart && s.IMStart >= 0) ||
		(id == s.IMEnd && s.IMEnd >= 0)
}

// IsEOS reports whether the id terminates a generation: the model's EOS,
// or <|im_end|> when the vocabulary has it.
func (t *Tokenizer) IsEOS(id int) bool {
	if t.special.EOS >= 0 && id == t.special.EOS {
		return true
	}
	return t.special.IMEnd >= 0 && id == t.special.IMEnd
}

// ApplyChatTemplate renders the conversation in the detected family's
// wire format.
func (t *Tokenizer) ApplyChatTemplate(msgs []Message, addGenerationPrompt bool) string {
	return tplparser.Render(tplparser.RenderOptions{
		Kind:                t.kind,
		Messages:            msgs,
		AddGenerationPrompt: addGenerationPrompt,
	})
}
