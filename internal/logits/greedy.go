package logits

// GreedySampler always picks the highest logit. It keeps no state.
type GreedySampler struct{}

// Sample returns the argmax of logits.
func (GreedySampler) Sample(logits []float32) int {
	return argmax(logits)
}
