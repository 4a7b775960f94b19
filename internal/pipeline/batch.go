package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/johndauphine/pg-rest-mirror/internal/source"
)

// Batch is one delivery unit of extracted rows. Columns holds the column
// names in query order; every row carries one value per column.
type Batch struct {
	Columns []string
	Rows    [][]any
}

func (b *Batch) Len() int { return len(b.Rows) }

// JSON encodes the batch as a bulk upsert payload: a JSON array with one
// object per row.
func (b *Batch) JSON() ([]byte, error) {
	records := make([]map[string]any, len(b.Rows))
	for i, row := range b.Rows {
		rec := make(map[string]any, len(b.Columns))
		for j, col := range b.Columns {
			rec[col] = row[j]
		}
		records[i] = rec
	}
	return json.Marshal(records)
}

// Batcher slices a row stream into batches of at most size rows. The
// concatenation of all batches equals the stream; only the final batch
// may come up short.
type Batcher struct {
	stream source.RowStream
	size   int
	done   bool
}

func NewBatcher(stream source.RowStream, size int) *Batcher {
	if size <= 0 {
		size = 1000
	}
	return &Batcher{stream: stream, size: size}
}

func (b *Batcher) Columns() []string { return b.stream.Columns() }

// Next returns the next batch, or nil once the stream is exhausted.
func (b *Batcher) Next() (*Batch, error) {
	if b.done {
		return nil, nil
	}

	batch := &Batch{Columns: b.stream.Columns()}
	for len(batch.Rows) < b.size && b.stream.Next() {
		row, err := b.stream.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		batch.Rows = append(batch.Rows, row)
	}

	if len(batch.Rows) < b.size {
		b.done = true
		if err := b.stream.Err(); err != nil {
			return nil, fmt.Errorf("reading rows: %w", err)
		}
	}

	if len(batch.Rows) == 0 {
		return nil, nil
	}
	return batch, nil
}
