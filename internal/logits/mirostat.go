package logits

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

// Mirostat implements Mirostat 2: it truncates the distribution where the
// per-token surprise exceeds mu, then steers mu toward the target tau
// after every draw so the output's information rate stays near constant.
type Mirostat struct {
	tau float32
	eta float32
	mu  float32
	rng *rand.Rand
}

// NewMirostat returns a sampler targeting surprise tau with learning rate
// eta. Zero or negative arguments take the stock values tau=5, eta=0.1.
// A negative seed draws from the clock.
func NewMirostat(tau, eta float32, seed int64) *Mirostat {
	if tau <= 0 {
		tau = 5.0
	}
	if eta <= 0 {
		eta = 0.1
	}
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	return &Mirostat{
		tau: tau,
		eta: eta,
		mu:  2 * tau,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Mu exposes the current truncation level.
func (m *Mirostat) Mu() float32 { return m.mu }

// Reset restores mu to its starting value 2*tau.
func (m *Mirostat) Reset() {
	m.mu = 2 * m.tau
}

// Sample draws one token id. logits are not modified.
func (m *Mirostat) Sample(logits []float32) int {
	if len(logits) == 0 {
		panic("mirostat: empty logits")
	}

	order := make([]int, len(logits))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return logits[order[a]] > logits[order[b]]
	})

	maxv := logits[order[0]]
	probs := make([]float64, len(order))
	var sum float64
	for i, id := range order {
		probs[i] = math.Exp(float64(logits[id] - maxv))
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}

	// Truncate where surprise crosses mu; keep at least the head token.
	k := len(probs)
	for i, p := range probs {
		if -math.Log2(p) > float64(m.mu) {
			k = max(1, i)
			break
		}
	}

	var truncSum float64
	for _, p := range probs[:k] {
		truncSum += p
	}

	r := m.rng.Float64() * truncSum
	var cum float64
	drawn := k - 1
	for i, p := range probs[:k] {
		cum += p
		if r <= cum {
			drawn = i
			break
		}
	}

	surprise := -math.Log2(probs[drawn])
	m.mu -= m.eta * float32(surprise-float64(m.tau))

	return order[drawn]
}
