// Package kvcache tracks which token prefix is materialized in the
// backend's attention state, so the engine can skip re-prefilling work
// that survived from the previous turn. The cache holds token ids only;
// the tensors themselves live behind the backend interface.
package kvcache

import (
	"encoding/binary"
	"fmt"
)

// Geometry describes the attention shape used for memory estimates.
type Geometry struct {
	NCtx    int
	NLayer  int
	NHead   int
	HeadDim int
	FP16    bool
}

// Cache mirrors the token prefix currently held by the backend KV state.
type Cache struct {
	geom    Geometry
	history []int
}

// New returns an empty cache for the given geometry.
func New(geom Geometry) *Cache {
	return &Cache{
		geom:    geom,
		history: make([]int, 0, max(geom.NCtx, 0)),
	}
}

// CachedTokens returns how many tokens the backend currently holds.
func (c *Cache) CachedTokens() int { return len(c.history) }

// Capacity returns the context window.
func (c *Cache) Capacity() int { return c.geom.NCtx }

// Tokens returns a copy of the cached token prefix.
func (c *Cache) Tokens() []int {
	return append([]int(nil), c.history...)
}

// CheckReusable returns the length of the longest common prefix between
// newTokens and the cached history. The result never exceeds either
// length.
func (c *Cache) CheckReusable(newTokens []int) int {
	n := min(len(newTokens), len(c.history))
	reusable := 0
	for i := 0; i < n; i++ {
		if newTokens[i] != c.history[i] {
			break
		}
		reusable++
	}
	return reusable
}

// Update replaces the cached prefix with tokens.
func (c *Cache) Update(tokens []int) {
	c.history = append(c.history[:0], tokens...)
}

// Append records one more token pushed into the backend.
func (c *Cache) Append(tok int) {
	c.history = append(c.history, tok)
}

// Truncate shortens the cached prefix to length. Longer or negative
// lengths are clamped.
func (c *Cache) Truncate(length int) {
	if length < 0 {
		length = 0
	}
	if length < len(c.history) {
		c.history = c.history[:length]
	}
}

// Clear forgets everything.
func (c *Cache) Clear() {
	c.history = c.history[:0]
}

// Serialize encodes the token prefix as a little-endian u64 count
// followed by int32 ids.
func (c *Cache) Serialize() []byte {
	return EncodeTokens(c.history)
}

// Deserialize replaces the cached prefix from Serialize output. The
// cache is left untouched on malformed input.
func (c *Cache) Deserialize(data []byte) error {
	tokens, err := DecodeTokens(data)
	if err != nil {
		return err
	}
	c.Update(tokens)
	return nil
}

// MemoryUsage estimates the bytes the backend spends on this prefix:
// keys and values per layer per head, plus the id bookkeeping here.
func (c *Cache) MemoryUsage() int {
	elem := 4
	if c.geom.FP16 {
		elem = 2
	}
	kv := 2 * c.geom.NLayer * len(c.history) * c.geom.NHead * c.geom.HeadDim * elem
	return kv + cap(c.history)*8
}

// EncodeTokens renders ids in the session wire format: little-endian
// u64 length, then length int32 ids.
func EncodeTokens(tokens []int) []byte {
	buf := make([]byte, 8+4*len(tokens))
	binary.LittleEndian.PutUint64(buf, uint64(len(tokens)))
	for i, tok := range tokens {
		binary.LittleEndian.PutUint32(buf[8+4*i:], uint32(int32(tok)))
	}
	return buf
}

// DecodeTokens parses EncodeTokens output, rejecting length mismatches.
func DecodeTokens(data []byte) ([]int, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("token blob too short: %d bytes", len(data))
	}
	n := binary.LittleEndian.Uint64(data)
	if uint64(len(data)-8) != n*4 {
		return nil, fmt.Errorf("token blob length mismatch: header %d, payload %d bytes", n, len(data)-8)
	}
	tokens := make([]int, n)
	for i := range tokens {
		tokens[i] = int(int32(binary.LittleEndian.Uint32(data[8+4*i:])))
	}
	return tokens, nil
}
