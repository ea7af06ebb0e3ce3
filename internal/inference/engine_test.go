package inference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/calebodell/ember/internal/backend"
)

// mockBackend tokenizes per byte with a ChatML marker vocabulary and
// emits scripted token ids: LogitsAt peaks at the next scripted id, or
// at EOS once the script runs dry. Every KVDrop and Decode is recorded.
type mockBackend struct {
	nCtx   int
	kv     int
	script []int
	step   int

	kvDrops  [][2]int
	decodes  [][]int
	kvClears int

	failGenDecode bool // fail single-token decodes
	failPrefill   bool // fail multi-token decodes
}

var mockSpecials = []string{"<unk>", "<s>", "</s>", "<pad>", "<|im_start|>", "<|im_end|>"}

const (
	mockEOS      = 2
	mockNumSpec  = 6
	mockVocabLen = mockNumSpec + 256
)

// byteTok returns the mock token id for a byte.
func byteTok(b byte) int { return mockNumSpec + int(b) }

func newMockBackend(nCtx int, script ...int) *mockBackend {
	return &mockBackend{nCtx: nCtx, script: script}
}

func (m *mockBackend) VocabSize() int { return mockVocabLen }
func (m *mockBackend) EmbedDim() int  { return 16 }
func (m *mockBackend) NCtx() int      { return m.nCtx }
func (m *mockBackend) BOSID() int     { return 1 }
func (m *mockBackend) EOSID() int     { return mockEOS }
func (m *mockBackend) PADID() int     { return 3 }

func (m *mockBackend) TokenToPiece(id int, renderSpecial bool) string {
	if id >= 0 && id < mockNumSpec {
		if renderSpecial {
			return mockSpecials[id]
		}
		return ""
	}
	if id >= mockNumSpec && id < mockVocabLen {
		return string([]byte{byte(id - mockNumSpec)})
	}
	return ""
}

func (m *mockBackend) Tokenize(text string, addBOS, allowSpecial bool) []int {
	var ids []int
	if addBOS {
		ids = append(ids, 1)
	}
	for i := 0; i < len(text); {
		if allowSpecial {
			matched := false
			for id, piece := range mockSpecials {
				if piece != "" && strings.HasPrefix(text[i:], piece) {
					ids = append(ids, id)
					i += len(piece)
					matched = true
					break
				}
			}
			if matched {
				continue
			}
		}
		ids = append(ids, byteTok(text[i]))
		i++
	}
	return ids
}

func (m *mockBackend) KVDrop(start, end int) {
	m.kvDrops = append(m.kvDrops, [2]int{start, end})
	if start < m.kv {
		m.kv = start
	}
}

func (m *mockBackend) KVClear() {
	m.kvClears++
	m.kv = 0
}

func (m *mockBackend) Decode(b backend.Batch) error {
	if len(b.Tokens) == 1 && m.failGenDecode {
		return errors.New("mock: refused single-token batch")
	}
	if len(b.Tokens) > 1 && m.failPrefill {
		return errors.New("mock: refused prefill batch")
	}
	m.decodes = append(m.decodes, append([]int(nil), b.Tokens...))
	m.kv += len(b.Tokens)
	return nil
}

func (m *mockBackend) LogitsAt(pos int) []float32 {
	logits := make([]float32, mockVocabLen)
	for i := range logits {
		logits[i] = -10
	}
	next := mockEOS
	if m.step < len(m.script) {
		next = m.script[m.step]
		m.step++
	}
	logits[next] = 10
	return logits
}

func (m *mockBackend) Close() error { return nil }

func greedyConfig(maxTokens int, stops ...string) GenerationConfig {
	cfg := DefaultGenerationConfig()
	cfg.Temperature = 0
	cfg.MaxTokens = maxTokens
	cfg.StopSequences = stops
	return cfg
}

func newTestEngine(m *mockBackend) *Engine {
	return NewWithModel(m, Config{ModelPath: "mock.toy", NCtx: m.nCtx, NBatch: 64})
}

func TestPrefillChunksRespectNBatch(t *testing.T) {
	m := newMockBackend(256)
	e := NewWithModel(m, Config{ModelPath: "mock.toy", NCtx: 256, NBatch: 4})

	if _, err := e.Generate(context.Background(), []Message{{Role: "user", Content: "hello there"}}, greedyConfig(1)); err != nil {
		t.Fatalf("generate: %v", err)
	}

	// The empty script makes the first sample an EOS, so every decode on
	// record is a prefill chunk.
	var prefilled []int
	for _, batch := range m.decodes {
		if len(batch) > 4 {
			t.Fatalf("batch of %d exceeds NBatch", len(batch))
		}
		prefilled = append(prefilled, batch...)
	}
	prompt := e.tok.ApplyChatTemplate([]Message{{Role: "user", Content: "hello there"}}, true)
	want := e.tok.Encode(prompt, true)
	if !reflect.DeepEqual(prefilled, want) {
		t.Fatalf("prefilled %v, want %v", prefilled, want)
	}
}

func TestGenerateGreedyScript(t *testing.T) {
	m := newMockBackend(256, byteTok('h'), byteTok('i'))
	e := newTestEngine(m)

	out, err := e.Generate(context.Background(), []Message{{Role: "user", Content: "hey"}}, greedyConfig(32))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "hi" {
		t.Fatalf("got %q, want %q", out, "hi")
	}

	stats := e.Stats()
	if stats.TokensGenerated != 2 {
		t.Fatalf("tokens generated: %d", stats.TokensGenerated)
	}
	if stats.PromptTokens == 0 || stats.ContextTokens == 0 {
		t.Fatalf("stats not filled: %+v", stats)
	}
}

func TestGenerateStreamPiecesConcatenateToResult(t *testing.T) {
	m := newMockBackend(256, byteTok('a'), byteTok('b'), byteTok('c'))
	e := newTestEngine(m)

	var pieces []string
	ends := 0
	endLast := false
	out, err := e.GenerateStream(context.Background(), []Message{{Role: "user", Content: "go"}},
		func(piece string, isEnd bool) {
			if isEnd {
				ends++
				endLast = true
				if piece != "" {
					t.Fatalf("is-end piece not empty: %q", piece)
				}
				return
			}
			endLast = false
			pieces = append(pieces, piece)
		}, greedyConfig(32))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if got := strings.Join(pieces, ""); got != out {
		t.Fatalf("pieces %q != result %q", got, out)
	}
	if ends != 1 {
		t.Fatalf("is-end called %d times", ends)
	}
	if !endLast {
		t.Fatalf("is-end was not the final callback")
	}
}

func TestGenerateStopSequenceTruncates(t *testing.T) {
	m := newMockBackend(256, byteTok('A'), byteTok('X'), byteTok('Y'), byteTok('B'))
	e := newTestEngine(m)

	var pieces []string
	out, err := e.GenerateStream(context.Background(), []Message{{Role: "user", Content: "go"}},
		func(piece string, isEnd bool) {
			if !isEnd {
				pieces = append(pieces, piece)
			}
		}, greedyConfig(32, "XY"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "A" {
		t.Fatalf("got %q, want %q", out, "A")
	}
	// The piece that completed the stop sequence is never streamed.
	for _, p := range pieces {
		if p == "Y" {
			t.Fatalf("stop-sequence tail streamed: %v", pieces)
		}
	}
	// History stays consistent after an early stop.
	if e.cache.CachedTokens() != e.nPast {
		t.Fatalf("history %d != nPast %d", e.cache.CachedTokens(), e.nPast)
	}
}

func TestGeneratePrefixReuse(t *testing.T) {
	m := newMockBackend(512, byteTok('o'), byteTok('k'))
	e := newTestEngine(m)

	first := []Message{{Role: "user", Content: "hello"}}
	if _, err := e.Generate(context.Background(), first, greedyConfig(8)); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	nPastAfterFirst := e.nPast

	// Second turn shares the rendered prefix up to the divergent byte.
	firstPrompt := e.tok.ApplyChatTemplate(first, true)
	second := []Message{{Role: "user", Content: "howdy"}}
	secondPrompt := e.tok.ApplyChatTemplate(second, true)
	firstTokens := e.tok.Encode(firstPrompt, true)
	secondTokens := e.tok.Encode(secondPrompt, true)
	wantReuse := 0
	for wantReuse < len(firstTokens) && wantReuse < len(secondTokens) &&
		firstTokens[wantReuse] == secondTokens[wantReuse] {
		wantReuse++
	}
	// "hello" and "howdy" diverge after 'h', inside the shared template
	// prefix plus one byte.
	if wantReuse == 0 || wantReuse >= len(secondTokens) {
		t.Fatalf("test setup: degenerate reuse %d", wantReuse)
	}

	m.script = []int{byteTok('o'), byteTok('k')}
	m.step = 0
	m.kvDrops = nil
	m.decodes = nil

	if _, err := e.Generate(context.Background(), second, greedyConfig(8)); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if len(m.kvDrops) == 0 {
		t.Fatalf("no KVDrop issued")
	}
	if got := m.kvDrops[0]; got != [2]int{wantReuse, nPastAfterFirst} {
		t.Fatalf("KVDrop got %v, want [%d %d]", got, wantReuse, nPastAfterFirst)
	}
	if len(m.decodes) == 0 {
		t.Fatalf("no prefill decode issued")
	}
	if got := m.decodes[0]; !reflect.DeepEqual(got, secondTokens[wantReuse:]) {
		t.Fatalf("prefill decoded %v, want suffix %v", got, secondTokens[wantReuse:])
	}
}

func TestGenerateCancellation(t *testing.T) {
	script := make([]int, 0, 1000)
	for i := 0; i < 1000; i++ {
		script = append(script, byteTok('x'))
	}
	m := newMockBackend(2048, script...)
	e := newTestEngine(m)

	cfg := greedyConfig(1000)
	_, err := e.GenerateStream(context.Background(), []Message{{Role: "user", Content: "go"}},
		func(piece string, isEnd bool) {
			if !isEnd {
				e.StopGeneration()
			}
		}, cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	stats := e.Stats()
	if stats.TokensGenerated < 1 || stats.TokensGenerated > 2 {
		t.Fatalf("tokens generated after cancel: %d", stats.TokensGenerated)
	}
	if e.cache.CachedTokens() != e.nPast {
		t.Fatalf("history %d != nPast %d after cancel", e.cache.CachedTokens(), e.nPast)
	}
}

func TestGenerateContextCancellation(t *testing.T) {
	m := newMockBackend(2048, byteTok('x'), byteTok('y'))
	e := newTestEngine(m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := e.Generate(ctx, []Message{{Role: "user", Content: "go"}}, greedyConfig(100))
	if err != nil {
		t.Fatalf("cancelled context must not error the call: %v", err)
	}
	if out != "" {
		t.Fatalf("generated despite cancelled context: %q", out)
	}
	if e.cache.CachedTokens() != e.nPast {
		t.Fatalf("history %d != nPast %d", e.cache.CachedTokens(), e.nPast)
	}
}

func TestGenerateContextOverflow(t *testing.T) {
	m := newMockBackend(16)
	e := newTestEngine(m)

	_, err := e.Generate(context.Background(),
		[]Message{{Role: "user", Content: strings.Repeat("a", 64)}}, greedyConfig(8))
	if !errors.Is(err, ErrContextOverflow) {
		t.Fatalf("got %v, want ErrContextOverflow", err)
	}
	if len(m.decodes) != 0 {
		t.Fatalf("backend consumed tokens before overflow check")
	}
}

func TestGeneratePrefillError(t *testing.T) {
	m := newMockBackend(256)
	m.failPrefill = true
	e := newTestEngine(m)

	_, err := e.Generate(context.Background(), []Message{{Role: "user", Content: "go"}}, greedyConfig(8))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("got %v, want ErrDecode", err)
	}
	if e.cache.CachedTokens() != e.nPast {
		t.Fatalf("history %d != nPast %d after prefill failure", e.cache.CachedTokens(), e.nPast)
	}
}

func TestGenerateDecodeErrorFailsSoft(t *testing.T) {
	m := newMockBackend(256, byteTok('a'), byteTok('b'))
	m.failGenDecode = true
	e := newTestEngine(m)

	out, err := e.Generate(context.Background(), []Message{{Role: "user", Content: "go"}}, greedyConfig(8))
	if err != nil {
		t.Fatalf("mid-loop decode failure must fail soft: %v", err)
	}
	if out != "a" {
		t.Fatalf("got %q, want the piece emitted before the failure", out)
	}
	if e.cache.CachedTokens() != e.nPast {
		t.Fatalf("history %d != nPast %d after decode failure", e.cache.CachedTokens(), e.nPast)
	}
}

func TestClearCache(t *testing.T) {
	m := newMockBackend(256, byteTok('a'))
	e := newTestEngine(m)
	if _, err := e.Generate(context.Background(), []Message{{Role: "user", Content: "go"}}, greedyConfig(8)); err != nil {
		t.Fatalf("generate: %v", err)
	}
	e.ClearCache()
	if e.nPast != 0 || e.cache.CachedTokens() != 0 {
		t.Fatalf("cache not cleared: nPast=%d history=%d", e.nPast, e.cache.CachedTokens())
	}
	if m.kvClears == 0 {
		t.Fatalf("backend KV not cleared")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	m := newMockBackend(256, byteTok('o'), byteTok('k'))
	e := newTestEngine(m)
	if _, err := e.Generate(context.Background(), []Message{{Role: "user", Content: "hello"}}, greedyConfig(8)); err != nil {
		t.Fatalf("generate: %v", err)
	}
	saved := e.cache.Tokens()

	path := filepath.Join(t.TempDir(), "session.bin")
	if err := e.SaveSession(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	m2 := newMockBackend(256)
	e2 := newTestEngine(m2)
	if err := e2.LoadSession(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(e2.cache.Tokens(), saved) {
		t.Fatalf("restored history %v != saved %v", e2.cache.Tokens(), saved)
	}
	if e2.nPast != 0 {
		t.Fatalf("nPast after load: %d, want 0 (re-prefill pending)", e2.nPast)
	}
	if m2.kvClears == 0 {
		t.Fatalf("backend KV not cleared on load")
	}

	// The next turn re-prefills the whole prompt from position zero.
	m2.script = []int{byteTok('o'), byteTok('k')}
	if _, err := e2.Generate(context.Background(), []Message{{Role: "user", Content: "hello"}}, greedyConfig(8)); err != nil {
		t.Fatalf("post-load generate: %v", err)
	}
	if len(m2.decodes) == 0 || m2.decodes[0][0] != saved[0] {
		t.Fatalf("post-load generate did not re-prefill from the start")
	}
}

func TestLoadSessionRejectsCorrupt(t *testing.T) {
	m := newMockBackend(256, byteTok('a'))
	e := newTestEngine(m)
	if _, err := e.Generate(context.Background(), []Message{{Role: "user", Content: "go"}}, greedyConfig(8)); err != nil {
		t.Fatalf("generate: %v", err)
	}
	before := e.cache.Tokens()
	beforeNPast := e.nPast

	path := filepath.Join(t.TempDir(), "bad.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := e.LoadSession(path)
	if !errors.Is(err, ErrSessionIO) {
		t.Fatalf("got %v, want ErrSessionIO", err)
	}
	if !reflect.DeepEqual(e.cache.Tokens(), before) || e.nPast != beforeNPast {
		t.Fatalf("failed load disturbed state")
	}

	if err := e.LoadSession(filepath.Join(t.TempDir(), "missing.bin")); !errors.Is(err, ErrSessionIO) {
		t.Fatalf("missing file: got %v, want ErrSessionIO", err)
	}
}

func TestResetStats(t *testing.T) {
	m := newMockBackend(256, byteTok('a'))
	e := newTestEngine(m)
	if _, err := e.Generate(context.Background(), []Message{{Role: "user", Content: "go"}}, greedyConfig(8)); err != nil {
		t.Fatalf("generate: %v", err)
	}
	e.ResetStats()
	if e.Stats() != (Stats{}) {
		t.Fatalf("stats not reset: %+v", e.Stats())
	}
}

func TestSanitizeAssistantForContext(t *testing.T) {
	cases := map[string]string{
		"plain text":                   "plain text",
		"done<|im_end|>":               "done",
		"done</s>\n":                   "done",
		"<|im_start|>assistant\nhi":    "assistant\nhi",
		"end<|endoftext|>tail":         "endtail",
		"  spaced  ":                   "spaced",
		"finished<|eot_id|>":           "finished",
		"<think>plan</think>answer":    "answer",
		"pre<think>unclosed tail":      "pre",
	}
	for in, want := range cases {
		if got := SanitizeAssistantForContext(in); got != want {
			t.Fatalf("%q: got %q, want %q", in, got, want)
		}
	}
}

func TestParseFunctionCallViaEngine(t *testing.T) {
	m := newMockBackend(256)
	e := newTestEngine(m)
	call, ok := e.ParseFunctionCall(`<function_call>{"name":"play_music","arguments":{"q":"jazz"}}</function_call>`)
	if !ok || call.Name != "play_music" {
		t.Fatalf("got %+v ok=%v", call, ok)
	}
}
