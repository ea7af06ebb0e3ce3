package toylm

import (
	"reflect"
	"testing"

	"github.com/calebodell/ember/internal/backend"
)

func TestTokenizeRoundTrip(t *testing.T) {
	m := New(128)
	text := "open the window"
	ids := m.Tokenize(text, false, true)

	var out string
	for _, id := range ids {
		out += m.TokenToPiece(id, true)
	}
	if out != text {
		t.Fatalf("round trip: got %q, want %q", out, text)
	}
}

func TestTokenizeSpecialMarkers(t *testing.T) {
	m := New(128)

	special := m.Tokenize("<|im_end|>", false, true)
	if !reflect.DeepEqual(special, []int{imEndID}) {
		t.Fatalf("special: got %v", special)
	}

	literal := m.Tokenize("<|im_end|>", false, false)
	if len(literal) != len("<|im_end|>") {
		t.Fatalf("literal: got %d ids", len(literal))
	}

	withBOS := m.Tokenize("a", true, true)
	if withBOS[0] != bosID {
		t.Fatalf("bos missing: %v", withBOS)
	}
}

func TestDecodePositionAccounting(t *testing.T) {
	m := New(16)

	b := backend.NewBatch(3)
	b.Add(numSpecial+'a', 0, false)
	b.Add(numSpecial+'b', 1, false)
	b.Add(numSpecial+'c', 2, true)
	if err := m.Decode(*b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.LogitsAt(-1) == nil || m.LogitsAt(2) == nil {
		t.Fatalf("logits not captured")
	}
	if m.LogitsAt(0) != nil {
		t.Fatalf("unrequested logits present")
	}

	gap := backend.NewBatch(1)
	gap.Add(numSpecial+'d', 5, true)
	if err := m.Decode(*gap); err == nil {
		t.Fatalf("non-contiguous position accepted")
	}
}

func TestKVDropRewindsPositions(t *testing.T) {
	m := New(16)
	b := backend.NewBatch(4)
	for i, c := range []byte("abcd") {
		b.Add(numSpecial+int(c), i, i == 3)
	}
	if err := m.Decode(*b); err != nil {
		t.Fatalf("decode: %v", err)
	}

	m.KVDrop(2, 4)
	if m.LogitsAt(3) != nil {
		t.Fatalf("dropped logits survived")
	}

	// Positions 2 and 3 are free again.
	redo := backend.NewBatch(1)
	redo.Add(numSpecial+'x', 2, true)
	if err := m.Decode(*redo); err != nil {
		t.Fatalf("decode after drop: %v", err)
	}
}

func TestContextWindowEnforced(t *testing.T) {
	m := New(2)
	b := backend.NewBatch(3)
	for i, c := range []byte("abc") {
		b.Add(numSpecial+int(c), i, false)
	}
	if err := m.Decode(*b); err == nil {
		t.Fatalf("context overflow accepted")
	}
}

func TestForwardDeterministic(t *testing.T) {
	a := New(16).forward(42, 3)
	b := New(16).forward(42, 3)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("forward is not deterministic")
	}
	if len(a) != vocabSize {
		t.Fatalf("logits length %d, want %d", len(a), vocabSize)
	}
}

func TestLoaderRegistration(t *testing.T) {
	m, err := backend.Open(backend.Config{ModelPath: "assistant.toy", NCtx: 32})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if m.NCtx() != 32 {
		t.Fatalf("nctx: %d", m.NCtx())
	}
	if _, err := backend.Open(backend.Config{ModelPath: "weights.unknown"}); err == nil {
		t.Fatalf("unknown extension accepted")
	}
}
