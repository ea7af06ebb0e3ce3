package kvcache

import (
	"reflect"
	"testing"
)

func TestCheckReusable(t *testing.T) {
	cases := []struct {
		name    string
		history []int
		query   []int
		want    int
	}{
		{"identical", []int{1, 2, 3}, []int{1, 2, 3}, 3},
		{"divergent-tail", []int{1, 2, 3, 4, 5}, []int{1, 2, 3, 6, 7}, 3},
		{"query-longer", []int{1, 2}, []int{1, 2, 3, 4}, 2},
		{"history-longer", []int{1, 2, 3, 4}, []int{1, 2}, 2},
		{"no-overlap", []int{9, 8}, []int{1, 2}, 0},
		{"empty-history", nil, []int{1, 2}, 0},
		{"empty-query", []int{1, 2}, nil, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(Geometry{NCtx: 64})
			c.Update(tc.history)
			if got := c.CheckReusable(tc.query); got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestCheckReusableNeverExceedsEitherLength(t *testing.T) {
	c := New(Geometry{NCtx: 64})
	histories := [][]int{nil, {1}, {1, 2, 3}, {5, 5, 5, 5}}
	queries := [][]int{nil, {1}, {1, 2}, {1, 2, 3, 4}, {5, 5}}
	for _, h := range histories {
		for _, q := range queries {
			c.Update(h)
			r := c.CheckReusable(q)
			if r > len(h) || r > len(q) {
				t.Fatalf("history %v query %v: reusable %d exceeds a length", h, q, r)
			}
		}
	}
}

func TestUpdateThenTruncate(t *testing.T) {
	c := New(Geometry{NCtx: 64})
	tokens := []int{1, 2, 3, 4, 5}

	for _, n := range []int{7, 5, 3, 0, -2} {
		c.Update(tokens)
		c.Truncate(n)
		want := min(max(n, 0), len(tokens))
		if got := c.CachedTokens(); got != want {
			t.Fatalf("truncate(%d): cached %d, want %d", n, got, want)
		}
	}
}

func TestAppendAndClear(t *testing.T) {
	c := New(Geometry{NCtx: 64})
	c.Update([]int{1, 2})
	c.Append(3)
	if !reflect.DeepEqual(c.Tokens(), []int{1, 2, 3}) {
		t.Fatalf("unexpected tokens: %v", c.Tokens())
	}
	c.Clear()
	if c.CachedTokens() != 0 {
		t.Fatalf("clear left %d tokens", c.CachedTokens())
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	cases := [][]int{
		nil,
		{},
		{42},
		{1, 2, 3, 4, 5},
		{-1, 0, 1 << 20},
	}
	for _, tokens := range cases {
		c := New(Geometry{NCtx: 64})
		c.Update(tokens)

		restored := New(Geometry{NCtx: 64})
		if err := restored.Deserialize(c.Serialize()); err != nil {
			t.Fatalf("tokens %v: %v", tokens, err)
		}
		got := restored.Tokens()
		if len(got) != len(tokens) {
			t.Fatalf("tokens %v: round trip gave %v", tokens, got)
		}
		for i := range tokens {
			if got[i] != tokens[i] {
				t.Fatalf("tokens %v: round trip gave %v", tokens, got)
			}
		}
	}
}

func TestDeserializeRejectsMalformed(t *testing.T) {
	c := New(Geometry{NCtx: 64})
	c.Update([]int{1, 2, 3})

	cases := map[string][]byte{
		"empty":         {},
		"short-header":  {1, 2, 3},
		"short-payload": EncodeTokens([]int{1, 2, 3})[:10],
		"extra-payload": append(EncodeTokens([]int{1}), 0xff),
	}
	for name, data := range cases {
		if err := c.Deserialize(data); err == nil {
			t.Fatalf("%s: expected error", name)
		}
		// Failed deserialize must not disturb state.
		if !reflect.DeepEqual(c.Tokens(), []int{1, 2, 3}) {
			t.Fatalf("%s: state disturbed: %v", name, c.Tokens())
		}
	}
}

func TestMemoryUsageScalesWithTokens(t *testing.T) {
	geom := Geometry{NCtx: 128, NLayer: 4, NHead: 8, HeadDim: 16, FP16: true}
	c := New(geom)
	empty := c.MemoryUsage()
	c.Update(make([]int, 100))
	if c.MemoryUsage() <= empty {
		t.Fatalf("memory estimate did not grow")
	}
}
