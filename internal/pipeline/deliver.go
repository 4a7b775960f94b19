package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/johndauphine/pg-rest-mirror/internal/config"
	"github.com/johndauphine/pg-rest-mirror/internal/logging"
	"github.com/johndauphine/pg-rest-mirror/internal/progress"
	"github.com/johndauphine/pg-rest-mirror/internal/sink"
	"github.com/johndauphine/pg-rest-mirror/internal/source"
)

// Deliverer pushes one table's extracted rows to the sink in batches.
type Deliverer struct {
	client     *sink.Client
	table      *config.TableSpec
	batchSize  int
	maxRetries int
	backoff    time.Duration
}

func NewDeliverer(client *sink.Client, table *config.TableSpec, sync *config.SyncConfig) *Deliverer {
	return &Deliverer{
		client:     client,
		table:      table,
		batchSize:  sync.BatchSize,
		maxRetries: sync.MaxRetries,
		backoff:    sync.RetryBackoff(),
	}
}

// DeliverResult reports what one table's delivery accomplished.
type DeliverResult struct {
	Rows    int64
	Batches int

	// Keys holds the encoded key of every delivered row when the table
	// reconciles orphans; nil otherwise.
	Keys KeySet

	ExtractTime time.Duration
	DeliverTime time.Duration
}

// Run drains the stream into the sink. On error the returned result
// still counts the batches delivered before the failure; those rows
// stay in the sink.
func (d *Deliverer) Run(ctx context.Context, stream source.RowStream, prog *progress.Tracker) (*DeliverResult, error) {
	res := &DeliverResult{}
	batcher := NewBatcher(stream, d.batchSize)

	var keyIdx []int
	if d.table.DeleteOrphans {
		var err error
		keyIdx, err = keyIndexes(batcher.Columns(), d.table.KeyColumns)
		if err != nil {
			return res, err
		}
		res.Keys = make(KeySet)
	}

	if len(d.table.ConflictKeys) == 0 {
		logging.Warn("Table %s has no conflict_keys: rows will be appended, not merged", d.table.Name)
	}

	for {
		start := time.Now()
		batch, err := batcher.Next()
		res.ExtractTime += time.Since(start)
		if err != nil {
			return res, fmt.Errorf("extracting %s: %w", d.table.Name, err)
		}
		if batch == nil {
			break
		}

		payload, err := batch.JSON()
		if err != nil {
			return res, fmt.Errorf("encoding batch for %s: %w", d.table.Name, err)
		}

		start = time.Now()
		err = d.upsertWithRetry(ctx, payload)
		res.DeliverTime += time.Since(start)
		if err != nil {
			return res, fmt.Errorf("delivering batch %d of %s: %w", res.Batches+1, d.table.Name, err)
		}

		res.Rows += int64(batch.Len())
		res.Batches++
		if prog != nil {
			prog.Add(int64(batch.Len()))
		}

		if res.Keys != nil {
			for _, row := range batch.Rows {
				res.Keys.Add(KeyFromRow(row, keyIdx))
			}
		}
	}

	return res, nil
}

// upsertWithRetry retries transient sink failures with exponential
// backoff. Rejections are final: the same payload would be rejected
// again.
func (d *Deliverer) upsertWithRetry(ctx context.Context, payload []byte) error {
	var err error

retryLoop:
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * d.backoff
			logging.Warn("Retry %d/%d for %s after %v (error: %v)", attempt, d.maxRetries, d.table.Name, backoff, err)
			select {
			case <-ctx.Done():
				err = ctx.Err()
				break retryLoop
			case <-time.After(backoff):
			}
		}

		err = d.client.Upsert(ctx, d.table.Name, d.table.ConflictKeys, payload)
		if err == nil {
			break
		}
		if !sink.IsUnavailable(err) {
			break
		}
	}

	return err
}
