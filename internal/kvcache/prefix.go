package kvcache

// PrefixEntry is one shared-prefix snapshot: the token ids and the
// backend-provided state blob, plus access bookkeeping for eviction.
type PrefixEntry struct {
	Tokens      []int
	Blob        []byte
	LastAccess  int64
	AccessCount int
}

// PrefixCache is a bounded store of prefix snapshots with LRU eviction.
// Reads touch the access metadata, so even the lookup methods mutate; if
// the cache is shared across engines the caller must serialize access.
type PrefixCache struct {
	maxEntries int
	entries    []PrefixEntry
	clock      int64
}

// DefaultPrefixEntries bounds the cache when the caller does not care.
const DefaultPrefixEntries = 10

// NewPrefixCache returns a cache holding at most maxEntries snapshots.
func NewPrefixCache(maxEntries int) *PrefixCache {
	if maxEntries <= 0 {
		maxEntries = DefaultPrefixEntries
	}
	return &PrefixCache{
		maxEntries: maxEntries,
		entries:    make([]PrefixEntry, 0, maxEntries),
	}
}

// Len returns the number of stored entries.
func (p *PrefixCache) Len() int { return len(p.entries) }

// FindPrefix returns the index of the entry whose token sequence is the
// longest full prefix of tokens, breaking length ties by most recent
// access. It returns -1 when no entry qualifies.
func (p *PrefixCache) FindPrefix(tokens []int) int {
	best := -1
	bestLen := 0
	var bestAccess int64
	for i := range p.entries {
		entry := &p.entries[i]
		if len(entry.Tokens) > len(tokens) || len(entry.Tokens) == 0 {
			continue
		}
		if !isPrefix(entry.Tokens, tokens) {
			continue
		}
		if len(entry.Tokens) > bestLen ||
			(len(entry.Tokens) == bestLen && entry.LastAccess > bestAccess) {
			best = i
			bestLen = len(entry.Tokens)
			bestAccess = entry.LastAccess
		}
	}
	return best
}

// AddPrefix stores a snapshot. An entry with the identical token sequence
// is overwritten in place and touched; otherwise the least recently used
// entry makes room when the cache is full.
func (p *PrefixCache) AddPrefix(tokens []int, blob []byte) {
	for i := range p.entries {
		if equalTokens(p.entries[i].Tokens, tokens) {
			p.entries[i].Blob = append([]byte(nil), blob...)
			p.entries[i].LastAccess = p.tick()
			p.entries[i].AccessCount++
			return
		}
	}

	if len(p.entries) >= p.maxEntries {
		p.evictLRU()
	}

	p.entries = append(p.entries, PrefixEntry{
		Tokens:      append([]int(nil), tokens...),
		Blob:        append([]byte(nil), blob...),
		LastAccess:  p.tick(),
		AccessCount: 1,
	})
}

// GetEntry returns the entry at index and touches its access metadata.
// Out-of-range indices return nil.
func (p *PrefixCache) GetEntry(index int) *PrefixEntry {
	if index < 0 || index >= len(p.entries) {
		return nil
	}
	p.entries[index].LastAccess = p.tick()
	p.entries[index].AccessCount++
	return &p.entries[index]
}

// Clear drops every entry.
func (p *PrefixCache) Clear() {
	p.entries = p.entries[:0]
}

// evictLRU removes the entry with the smallest LastAccess. Ties resolve
// to the first such entry, which is deterministic for a given insertion
// order.
func (p *PrefixCache) evictLRU() {
	if len(p.entries) == 0 {
		return
	}
	lru := 0
	for i := 1; i < len(p.entries); i++ {
		if p.entries[i].LastAccess < p.entries[lru].LastAccess {
			lru = i
		}
	}
	p.entries = append(p.entries[:lru], p.entries[lru+1:]...)
}

// tick advances the logical clock used for recency ordering. A counter
// beats wall time here: it can never collide or run backwards.
func (p *PrefixCache) tick() int64 {
	p.clock++
	return p.clock
}

func isPrefix(prefix, tokens []int) bool {
	for i, tok := range prefix {
		if tokens[i] != tok {
			return false
		}
	}
	return true
}

func equalTokens(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	return isPrefix(a, b)
}
