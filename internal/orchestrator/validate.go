package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/johndauphine/pg-rest-mirror/internal/logging"
)

// Validate compares row counts between each extraction query and its
// sink table. Counts are queried fresh on both sides. Tables that only
// append (no conflict keys, no orphan deletion) accumulate rows in the
// sink, so a higher sink count is expected there and not a failure.
func (o *Orchestrator) Validate(ctx context.Context) (*ValidationResult, error) {
	tables := o.filterTables(o.config.Tables)

	result := &ValidationResult{
		Timestamp: time.Now().Format(time.RFC3339),
		Passed:    true,
	}

	logging.Info("Validation Results:")
	logging.Info("-------------------")

	for _, t := range tables {
		vt := ValidationTable{Name: t.Name}

		sourceCount, err := o.source.CountRows(ctx, t.Query)
		if err != nil {
			vt.Error = fmt.Sprintf("counting source rows: %v", err)
			logging.Error("%-30s ERROR %s", t.Name, vt.Error)
			result.Passed = false
			result.Tables = append(result.Tables, vt)
			continue
		}
		vt.SourceRows = sourceCount

		sinkCount, err := o.sink.CountRows(ctx, t.Name)
		if err != nil {
			vt.Error = fmt.Sprintf("counting sink rows: %v", err)
			logging.Error("%-30s ERROR %s", t.Name, vt.Error)
			result.Passed = false
			result.Tables = append(result.Tables, vt)
			continue
		}
		vt.SinkRows = sinkCount

		appendOnly := len(t.ConflictKeys) == 0 && !t.DeleteOrphans
		if appendOnly {
			vt.Match = sinkCount >= sourceCount
		} else {
			vt.Match = sinkCount == sourceCount
		}

		if vt.Match {
			logging.Info("%-30s OK source=%d sink=%d", t.Name, sourceCount, sinkCount)
		} else {
			logging.Error("%-30s FAIL source=%d sink=%d (diff=%d)",
				t.Name, sourceCount, sinkCount, sourceCount-sinkCount)
			result.Passed = false
		}
		result.Tables = append(result.Tables, vt)
	}

	if !result.Passed {
		return result, fmt.Errorf("row count validation failed")
	}
	return result, nil
}
