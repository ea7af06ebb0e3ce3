// Package logits turns a model's output distribution into a chosen token
// id. The stage order matters: penalties act on raw logits, temperature on
// penalized logits, and the top-k/top-p filters on scaled logits.
package logits

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

// Config configures the behaviour of a Sampler.
type Config struct {
	Temperature      float32
	TopP             float32
	TopK             int
	RepeatPenalty    float32
	RepeatLastN      int
	FrequencyPenalty float32
	PresencePenalty  float32
	Seed             int64
}

// DefaultConfig returns the stock sampling parameters.
func DefaultConfig() Config {
	return Config{
		Temperature:   0.7,
		TopP:          0.9,
		TopK:          40,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
		Seed:          -1,
	}
}

// Sampler applies the full sampling stack. It is not safe for concurrent
// use; the engine owns one and reconfigures it for every generation.
type Sampler struct {
	rng *rand.Rand
	cfg Config

	// scratch, reused across draws
	order  []int
	counts map[int]int
}

// NewSampler returns a sampler seeded from cfg.Seed. A negative seed
// draws the seed from the clock.
func NewSampler(cfg Config) *Sampler {
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	s := &Sampler{cfg: cfg, counts: make(map[int]int)}
	s.ResetRNG(cfg.Seed)
	return s
}

// Config returns the active configuration.
func (s *Sampler) Config() Config { return s.cfg }

// UpdateConfig swaps the configuration. The RNG is reseeded only when the
// new seed is nonnegative, so an in-flight stream keeps its sequence.
func (s *Sampler) UpdateConfig(cfg Config) {
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	s.cfg = cfg
	if cfg.Seed >= 0 {
		s.ResetRNG(cfg.Seed)
	}
}

// ResetRNG reseeds the generator. Negative seeds use the clock.
func (s *Sampler) ResetRNG(seed int64) {
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	s.rng = rand.New(rand.NewSource(seed))
}

// Sample mutates logits in place through the configured stages and draws
// one token id. last is the lookback window source for the penalties.
func (s *Sampler) Sample(logits []float32, last []int) int {
	s.applyRepetitionPenalty(logits, last)
	s.applyFrequencyPresence(logits, last)

	if s.cfg.Temperature <= 0 {
		return argmax(logits)
	}
	for i := range logits {
		logits[i] /= s.cfg.Temperature
	}

	s.applyTopK(logits)
	s.applyTopP(logits)

	softmax(logits)
	return s.draw(logits)
}

// SampleWithProb samples on a copy of logits and also returns the value
// left at the chosen index after the stages ran. With a positive
// temperature that is the softmax probability over the filtered
// distribution; with temperature <= 0 it is the penalized logit. Neither
// is the token's probability under the unmodified logits.
func (s *Sampler) SampleWithProb(logits []float32, last []int) (int, float32) {
	scratch := append([]float32(nil), logits...)
	tok := s.Sample(scratch, last)
	return tok, scratch[tok]
}

// TokenProb pairs a token id with its softmax probability.
type TokenProb struct {
	ID   int
	Prob float32
}

// TopTokens returns the k most likely tokens with probabilities from a
// plain softmax of the unmodified logits. None of the sampling stages
// apply; this is a preview for tooling, not part of the decode loop.
func (s *Sampler) TopTokens(logits []float32, k int) []TokenProb {
	if k <= 0 || len(logits) == 0 {
		return nil
	}
	if k > len(logits) {
		k = len(logits)
	}

	maxv := logits[0]
	for _, v := range logits[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - maxv))
	}

	order := s.sortedOrder(logits)
	out := make([]TokenProb, k)
	for i := 0; i < k; i++ {
		id := order[i]
		out[i] = TokenProb{
			ID:   id,
			Prob: float32(math.Exp(float64(logits[id]-maxv)) / sum),
		}
	}
	return out
}

func (s *Sampler) applyRepetitionPenalty(logits []float32, last []int) {
	if s.cfg.RepeatPenalty == 1 || s.cfg.RepeatPenalty <= 0 || len(last) == 0 {
		return
	}
	start := max(0, len(last)-s.cfg.RepeatLastN)
	for _, id := range last[start:] {
		if id < 0 || id >= len(logits) {
			continue
		}
		if logits[id] > 0 {
			logits[id] /= s.cfg.RepeatPenalty
		} else {
			logits[id] *= s.cfg.RepeatPenalty
		}
	}
}

func (s *Sampler) applyFrequencyPresence(logits []float32, last []int) {
	if (s.cfg.FrequencyPenalty == 0 && s.cfg.PresencePenalty == 0) || len(last) == 0 {
		return
	}
	clear(s.counts)
	start := max(0, len(last)-s.cfg.RepeatLastN)
	for _, id := range last[start:] {
		s.counts[id]++
	}
	for id, count := range s.counts {
		if id < 0 || id >= len(logits) {
			continue
		}
		logits[id] -= s.cfg.FrequencyPenalty*float32(count) + s.cfg.PresencePenalty
	}
}

func (s *Sampler) applyTopK(logits []float32) {
	k := s.cfg.TopK
	if k <= 0 || k >= len(logits) {
		return
	}
	order := s.sortedOrder(logits)
	threshold := logits[order[k-1]]
	for i := range logits {
		if logits[i] < threshold {
			logits[i] = float32(math.Inf(-1))
		}
	}
}

func (s *Sampler) applyTopP(logits []float32) {
	if s.cfg.TopP <= 0 || s.cfg.TopP >= 1 {
		return
	}
	order := s.sortedOrder(logits)

	maxv := logits[order[0]]
	var sum float64
	probs := make([]float64, len(order))
	for i, id := range order {
		probs[i] = math.Exp(float64(logits[id] - maxv))
		sum += probs[i]
	}

	// The token that crosses the threshold stays inside the nucleus.
	cutoff := len(order)
	var cum float64
	for i := range probs {
		cum += probs[i] / sum
		if cum > float64(s.cfg.TopP) {
			cutoff = i + 1
			break
		}
	}
	for _, id := range order[cutoff:] {
		logits[id] = float32(math.Inf(-1))
	}
}

// draw performs a categorical draw over an already-softmaxed vector.
func (s *Sampler) draw(probs []float32) int {
	r := s.rng.Float64()
	var cum float64
	for i, p := range probs {
		cum += float64(p)
		if r <= cum {
			return i
		}
	}
	return argmax(probs)
}

// sortedOrder returns vocabulary indices ordered by descending logit.
func (s *Sampler) sortedOrder(logits []float32) []int {
	if cap(s.order) < len(logits) {
		s.order = make([]int, len(logits))
	}
	order := s.order[:len(logits)]
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return logits[order[a]] > logits[order[b]]
	})
	return order
}

// softmax normalizes in place with the usual max subtraction.
func softmax(logits []float32) {
	maxv := float32(math.Inf(-1))
	for _, v := range logits {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxv))
		logits[i] = float32(e)
		sum += e
	}
	if sum == 0 {
		return
	}
	for i := range logits {
		logits[i] = float32(float64(logits[i]) / sum)
	}
}

// argmax returns the index of the maximum value. It panics on an empty
// slice.
func argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}
