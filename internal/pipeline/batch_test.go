package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
)

// fakeStream plays back canned rows through the source.RowStream
// contract: Next advances, Values reads the current row.
type fakeStream struct {
	cols   []string
	rows   [][]any
	cur    int
	err    error // reported by Err once the stream ends
	closed bool
}

func newFakeStream(cols []string, rows [][]any) *fakeStream {
	return &fakeStream{cols: cols, rows: rows, cur: -1}
}

func (f *fakeStream) Columns() []string { return f.cols }

func (f *fakeStream) Next() bool {
	if f.cur+1 >= len(f.rows) {
		return false
	}
	f.cur++
	return true
}

func (f *fakeStream) Values() ([]any, error) { return f.rows[f.cur], nil }
func (f *fakeStream) Err() error             { return f.err }
func (f *fakeStream) Close()                 { f.closed = true }

// genRows builds n rows of (id, name) pairs.
func genRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i), fmt.Sprintf("name-%d", i)}
	}
	return rows
}

func TestBatcherSplits(t *testing.T) {
	b := NewBatcher(newFakeStream([]string{"id", "name"}, genRows(2500)), 1000)

	var sizes []int
	var total int
	for {
		batch, err := b.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if batch == nil {
			break
		}
		sizes = append(sizes, batch.Len())
		total += batch.Len()
	}

	if len(sizes) != 3 || sizes[0] != 1000 || sizes[1] != 1000 || sizes[2] != 500 {
		t.Errorf("batch sizes = %v, want [1000 1000 500]", sizes)
	}
	if total != 2500 {
		t.Errorf("total rows = %d, want 2500", total)
	}
}

func TestBatcherExactMultiple(t *testing.T) {
	b := NewBatcher(newFakeStream([]string{"id", "name"}, genRows(2000)), 1000)

	var sizes []int
	for {
		batch, err := b.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if batch == nil {
			break
		}
		sizes = append(sizes, batch.Len())
	}

	if len(sizes) != 2 || sizes[0] != 1000 || sizes[1] != 1000 {
		t.Errorf("batch sizes = %v, want [1000 1000]", sizes)
	}
}

func TestBatcherEmptyStream(t *testing.T) {
	b := NewBatcher(newFakeStream([]string{"id"}, nil), 1000)

	batch, err := b.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if batch != nil {
		t.Errorf("expected nil batch for empty stream, got %d rows", batch.Len())
	}
}

func TestBatcherPreservesOrder(t *testing.T) {
	b := NewBatcher(newFakeStream([]string{"id", "name"}, genRows(250)), 100)

	next := int64(0)
	for {
		batch, err := b.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if batch == nil {
			break
		}
		for _, row := range batch.Rows {
			if row[0].(int64) != next {
				t.Fatalf("row out of order: got id %v, want %d", row[0], next)
			}
			next++
		}
	}
	if next != 250 {
		t.Errorf("saw %d rows, want 250", next)
	}
}

func TestBatcherStreamError(t *testing.T) {
	stream := newFakeStream([]string{"id", "name"}, genRows(1500))
	stream.err = fmt.Errorf("connection reset")
	b := NewBatcher(stream, 1000)

	// First batch fills before the stream reports its failure.
	batch, err := b.Next()
	if err != nil || batch == nil || batch.Len() != 1000 {
		t.Fatalf("first batch: %v, err %v", batch, err)
	}

	if _, err := b.Next(); err == nil {
		t.Error("expected stream error on final batch")
	}
}

func TestBatchJSON(t *testing.T) {
	batch := &Batch{
		Columns: []string{"id", "amount", "note"},
		Rows: [][]any{
			{int64(1), json.Number("12.50"), "ok"},
			{int64(2), json.Number("3"), nil},
		},
	}

	payload, err := batch.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var decoded []map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(decoded) != 2 {
		t.Fatalf("decoded %d records, want 2", len(decoded))
	}
	if decoded[0]["amount"] != json.Number("12.50") {
		t.Errorf("amount = %v, want 12.50 with scale intact", decoded[0]["amount"])
	}
	if decoded[1]["note"] != nil {
		t.Errorf("note = %v, want null", decoded[1]["note"])
	}
}
