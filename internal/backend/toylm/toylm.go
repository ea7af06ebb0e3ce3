// Package toylm is a miniature deterministic language model. It exists so
// the runtime can be exercised end to end (CLI included) without real
// weights: tokenization is byte-level with a handful of marker tokens, and
// logits come from hash-mixed pseudo weights. Importing the package
// registers it for ".toy" model paths.
package toylm

import (
	"fmt"
	"math"

	"github.com/calebodell/ember/internal/backend"
)

const (
	unkID = iota
	bosID
	eosID
	padID
	imStartID
	imEndID
	endOfTextID
	numSpecial
)

var specialPieces = [numSpecial]string{
	"<unk>",
	"<s>",
	"</s>",
	"<pad>",
	"<|im_start|>",
	"<|im_end|>",
	"<|endoftext|>",
}

const (
	vocabSize = numSpecial + 256
	embedDim  = 64
)

func init() {
	backend.Register(".toy", func(cfg backend.Config) (backend.Model, error) {
		return New(cfg.NCtx), nil
	})
}

// Model implements backend.Model over the toy vocabulary.
type Model struct {
	nCtx   int
	kv     []int
	logits map[int][]float32
	last   []float32
}

// New returns a toy model with the given context window.
func New(nCtx int) *Model {
	if nCtx <= 0 {
		nCtx = 4096
	}
	return &Model{
		nCtx:   nCtx,
		logits: make(map[int][]float32),
	}
}

func (m *Model) VocabSize() int { return vocabSize }
func (m *Model) EmbedDim() int  { return embedDim }
func (m *Model) NCtx() int      { return m.nCtx }
func (m *Model) BOSID() int     { return bosID }
func (m *Model) EOSID() int     { return eosID }
func (m *Model) PADID() int     { return padID }

func (m *Model) TokenToPiece(id int, renderSpecial bool) string {
	switch {
	case id < 0 || id >= vocabSize:
		return ""
	case id < numSpecial:
		if renderSpecial {
			return specialPieces[id]
		}
		return ""
	default:
		return string([]byte{byte(id - numSpecial)})
	}
}

func (m *Model) Tokenize(text string, addBOS, allowSpecial bool) []int {
	ids := make([]int, 0, len(text)+1)
	if addBOS {
		ids = append(ids, bosID)
	}
	for i := 0; i < len(text); {
		if allowSpecial {
			if id, n := matchSpecial(text[i:]); n > 0 {
				ids = append(ids, id)
				i += n
				continue
			}
		}
		ids = append(ids, numSpecial+int(text[i]))
		i++
	}
	return ids
}

func matchSpecial(s string) (int, int) {
	for id := numSpecial - 1; id > unkID; id-- {
		piece := specialPieces[id]
		if len(s) >= len(piece) && s[:len(piece)] == piece {
			return id, len(piece)
		}
	}
	return 0, 0
}

func (m *Model) KVDrop(start, end int) {
	if start < 0 {
		start = 0
	}
	if end > len(m.kv) || end < 0 {
		end = len(m.kv)
	}
	if start >= end {
		return
	}
	m.kv = m.kv[:start]
	for pos := range m.logits {
		if pos >= start {
			delete(m.logits, pos)
		}
	}
}

func (m *Model) KVClear() {
	m.kv = m.kv[:0]
	m.logits = make(map[int][]float32)
	m.last = nil
}

func (m *Model) Decode(b backend.Batch) error {
	for i, tok := range b.Tokens {
		pos := b.Positions[i]
		if pos != len(m.kv) {
			return fmt.Errorf("toylm: position %d is not contiguous with kv length %d", pos, len(m.kv))
		}
		if pos >= m.nCtx {
			return fmt.Errorf("toylm: context window exhausted at %d", m.nCtx)
		}
		m.kv = append(m.kv, tok)
		if b.Logits[i] {
			l := m.forward(tok, pos)
			m.logits[pos] = l
			m.last = l
		}
	}
	return nil
}

func (m *Model) LogitsAt(pos int) []float32 {
	if pos == -1 {
		return m.last
	}
	return m.logits[pos]
}

func (m *Model) Close() error {
	m.KVClear()
	return nil
}

// forward fabricates a logits vector from a hash mix of (token, position).
// EOS gets a slowly growing bias so toy generations terminate.
func (m *Model) forward(tok, pos int) []float32 {
	logits := make([]float32, vocabSize)
	state := uint64(tok)*0x9e3779b97f4a7c15 + uint64(pos)*0xbf58476d1ce4e5b9
	for i := range logits {
		state ^= state >> 27
		state *= 0x94d049bb133111eb
		state ^= state << 13
		logits[i] = float32(int64(state%2000)-1000) / 250
	}
	logits[eosID] += float32(math.Min(float64(pos)/64, 8))
	logits[unkID] = -30
	logits[padID] = -30
	return logits
}
