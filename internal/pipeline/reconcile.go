package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/johndauphine/pg-rest-mirror/internal/config"
	"github.com/johndauphine/pg-rest-mirror/internal/logging"
	"github.com/johndauphine/pg-rest-mirror/internal/sink"
)

// Reconciler removes sink rows whose keys the current run did not
// deliver, bringing the sink table back in line with the source query.
type Reconciler struct {
	client *sink.Client
	table  *config.TableSpec
}

func NewReconciler(client *sink.Client, table *config.TableSpec) *Reconciler {
	return &Reconciler{client: client, table: table}
}

// ReconcileResult reports what one table's reconciliation accomplished.
type ReconcileResult struct {
	StoredKeys    int
	Orphans       int
	Deleted       int64
	FailedDeletes int
	Elapsed       time.Duration
}

// Run lists the sink table's keys and deletes every tuple absent from
// delivered. An empty delivered set is not special: every stored row is
// then an orphan, mirroring a source query that returned nothing.
// Individual delete failures are counted and logged, not fatal; the
// listing itself failing fails the table.
func (r *Reconciler) Run(ctx context.Context, delivered KeySet) (*ReconcileResult, error) {
	start := time.Now()
	res := &ReconcileResult{}
	keyCols := r.table.KeyColumns

	records, err := r.client.SelectKeys(ctx, r.table.Name, keyCols)
	if err != nil {
		res.Elapsed = time.Since(start)
		return res, fmt.Errorf("listing keys of %s: %w", r.table.Name, err)
	}
	res.StoredKeys = len(records)

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			res.Elapsed = time.Since(start)
			return res, err
		}

		key := KeyFromRecord(record, keyCols)
		if delivered.Contains(key) {
			continue
		}
		res.Orphans++

		filters := make([]sink.Filter, len(keyCols))
		for i, col := range keyCols {
			filters[i] = sink.Filter{Column: col, Value: record[col]}
		}

		if err := r.client.DeleteMatching(ctx, r.table.Name, filters); err != nil {
			res.FailedDeletes++
			logging.Warn("Failed to delete orphan from %s (%s): %v", r.table.Name, describeKey(record, keyCols), err)
			continue
		}
		res.Deleted++
	}

	if res.Orphans > 0 {
		logging.Info("Reconciled %s: %d orphans, %d deleted, %d failed", r.table.Name, res.Orphans, res.Deleted, res.FailedDeletes)
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// describeKey renders a key tuple for log lines.
func describeKey(record map[string]any, keyCols []string) string {
	out := ""
	for i, col := range keyCols {
		if i > 0 {
			out += ", "
		}
		v := record[col]
		if v == nil {
			out += fmt.Sprintf("%s=NULL", col)
		} else {
			out += fmt.Sprintf("%s=%v", col, v)
		}
	}
	return out
}
