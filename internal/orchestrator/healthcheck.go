package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/johndauphine/pg-rest-mirror/internal/logging"
)

// HealthCheck tests connectivity to the source database and the sink
// endpoint. Both checks run in parallel with independent timeouts to
// prevent one slow connection from causing the other to fail with
// "context deadline exceeded".
func (o *Orchestrator) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	result := &HealthCheckResult{
		Timestamp:  time.Now().Format(time.RFC3339),
		SourceType: o.source.Type(),
	}

	const checkTimeout = 30 * time.Second

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		start := time.Now()
		srcCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		if err := o.source.Ping(srcCtx); err != nil {
			result.SourceError = err.Error()
		} else {
			result.SourceConnected = true
		}
		result.SourceLatencyMs = time.Since(start).Milliseconds()
	}()

	go func() {
		defer wg.Done()
		start := time.Now()
		sinkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		if err := o.sink.Ping(sinkCtx); err != nil {
			result.SinkError = err.Error()
		} else {
			result.SinkConnected = true
		}
		result.SinkLatencyMs = time.Since(start).Milliseconds()
	}()

	wg.Wait()

	result.Healthy = result.SourceConnected && result.SinkConnected
	return result, nil
}

// DryRun previews a sync without delivering anything: it counts the
// rows each extraction query would produce and what the sink tables
// hold now.
func (o *Orchestrator) DryRun(ctx context.Context) (*DryRunResult, error) {
	logging.Info("Performing dry run (no rows will be delivered)...")

	tables := o.filterTables(o.config.Tables)

	result := &DryRunResult{
		Source:      o.config.Source.Database,
		SinkURL:     o.config.Sink.URL,
		Workers:     o.config.Sync.Workers,
		BatchSize:   o.config.Sync.BatchSize,
		TotalTables: len(tables),
	}

	for _, t := range tables {
		rowCount, err := o.source.CountRows(ctx, t.Query)
		if err != nil {
			logging.Warn("Failed to count source rows for %s: %v (assuming 0)", t.Name, err)
			rowCount = 0
		}
		result.TotalRows += rowCount

		sinkRows, err := o.sink.CountRows(ctx, t.Name)
		if err != nil {
			logging.Warn("Failed to count sink rows for %s: %v (assuming 0)", t.Name, err)
			sinkRows = 0
		}

		mode := "merge"
		if len(t.ConflictKeys) == 0 {
			mode = "append"
		}

		batches := int((rowCount + int64(o.config.Sync.BatchSize) - 1) / int64(o.config.Sync.BatchSize))

		result.Tables = append(result.Tables, DryRunTable{
			Name:          t.Name,
			RowCount:      rowCount,
			SinkRows:      sinkRows,
			Batches:       batches,
			Mode:          mode,
			DeleteOrphans: t.DeleteOrphans,
		})
	}

	return result, nil
}
