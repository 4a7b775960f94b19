package pipeline

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeKeyDistinctions(t *testing.T) {
	keys := []string{
		EncodeKey([]any{nil}),
		EncodeKey([]any{"null"}),
		EncodeKey([]any{""}),
		EncodeKey([]any{"1"}),
		EncodeKey([]any{int64(1)}),
		EncodeKey([]any{true}),
		EncodeKey([]any{"true"}),
	}

	seen := make(map[string]int)
	for i, k := range keys {
		if prev, dup := seen[k]; dup {
			t.Errorf("keys %d and %d collide: %q", prev, i, k)
		}
		seen[k] = i
	}
}

func TestEncodeKeyCrossSide(t *testing.T) {
	// Source rows carry driver-native types; sink records carry
	// json.Number and strings. Both sides must produce the same key.
	tests := []struct {
		name   string
		source any
		sink   any
	}{
		{"bigint", int64(42), json.Number("42")},
		{"int", int(7), json.Number("7")},
		{"text", "order-9", "order-9"},
		{"numeric scale", json.Number("12.50"), json.Number("12.50")},
		{"float", float64(1.5), json.Number("1.5")},
		{"bool", true, true},
		{"uuid", "9f1aa1ce-8699-4a07-a2cf-b695a1b14cf1", "9f1aa1ce-8699-4a07-a2cf-b695a1b14cf1"},
		{"null", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := EncodeKey([]any{tt.source})
			snk := EncodeKey([]any{tt.sink})
			if src != snk {
				t.Errorf("source key %q != sink key %q", src, snk)
			}
		})
	}
}

func TestEncodeKeyCompositeBoundaries(t *testing.T) {
	// A separator inside a string value must not shift tuple boundaries.
	a := EncodeKey([]any{"a\x1fb", "c"})
	b := EncodeKey([]any{"a", "b\x1fc"})
	if a == b {
		t.Errorf("composite keys collide: %q", a)
	}

	// A literal NUL string must stay distinct from SQL NULL.
	c := EncodeKey([]any{"\x00"})
	d := EncodeKey([]any{nil})
	if c == d {
		t.Errorf("NUL string collides with NULL: %q", c)
	}
}

func TestCanonicalNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"42", "42"},
		{"12.50", "12.50"},
		{"1e2", "100"},
		{"1.5E3", "1500"},
		{"-2.5e-1", "-0.25"},
	}

	for _, tt := range tests {
		if got := canonicalNumber(json.Number(tt.in)); got != tt.want {
			t.Errorf("canonicalNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeKeyTime(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	utc := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	shifted := time.Date(2024, 3, 1, 10, 0, 0, 0, est)

	if EncodeKey([]any{utc}) != EncodeKey([]any{shifted}) {
		t.Error("equal instants in different zones produced different keys")
	}
}

func TestKeyIndexes(t *testing.T) {
	cols := []string{"id", "region", "updated_at"}

	idx, err := keyIndexes(cols, []string{"region", "id"})
	if err != nil {
		t.Fatalf("keyIndexes: %v", err)
	}
	if len(idx) != 2 || idx[0] != 1 || idx[1] != 0 {
		t.Errorf("idx = %v, want [1 0]", idx)
	}

	if _, err := keyIndexes(cols, []string{"missing"}); err == nil {
		t.Error("expected error for missing key column")
	}
}

func TestKeyFromRowAndRecord(t *testing.T) {
	row := []any{int64(5), "eu", "ignored"}
	record := map[string]any{"id": json.Number("5"), "region": "eu"}

	fromRow := KeyFromRow(row, []int{0, 1})
	fromRecord := KeyFromRecord(record, []string{"id", "region"})
	if fromRow != fromRecord {
		t.Errorf("row key %q != record key %q", fromRow, fromRecord)
	}

	// Missing record column reads as NULL.
	partial := KeyFromRecord(map[string]any{"id": json.Number("5")}, []string{"id", "region"})
	withNull := EncodeKey([]any{int64(5), nil})
	if partial != withNull {
		t.Errorf("partial record key %q, want %q", partial, withNull)
	}
}

func TestKeySet(t *testing.T) {
	s := make(KeySet)
	if s.Contains("a") {
		t.Error("empty set contains a")
	}
	s.Add("a")
	s.Add("a")
	if !s.Contains("a") || s.Len() != 1 {
		t.Errorf("set after double add: len=%d", s.Len())
	}
}
