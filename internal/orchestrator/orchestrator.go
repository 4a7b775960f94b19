package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/johndauphine/pg-rest-mirror/internal/config"
	"github.com/johndauphine/pg-rest-mirror/internal/history"
	"github.com/johndauphine/pg-rest-mirror/internal/logging"
	"github.com/johndauphine/pg-rest-mirror/internal/notify"
	"github.com/johndauphine/pg-rest-mirror/internal/pipeline"
	"github.com/johndauphine/pg-rest-mirror/internal/progress"
	"github.com/johndauphine/pg-rest-mirror/internal/sink"
	"github.com/johndauphine/pg-rest-mirror/internal/source"
)

// Orchestrator coordinates a sync run: extract, deliver, reconcile,
// table by table. Tables are isolated; one failing never stops the
// others.
type Orchestrator struct {
	config   *config.Config
	source   source.Pool
	sink     *sink.Client
	history  history.Backend
	progress *progress.Tracker
	notifier notify.Provider
}

// New connects to the source, builds the sink client, and opens the
// history store.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	srcPool, err := source.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}

	hist, err := history.Open(&cfg.History)
	if err != nil {
		srcPool.Close()
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	return &Orchestrator{
		config:   cfg,
		source:   srcPool,
		sink:     sink.New(&cfg.Sink, cfg.Sync.RequestTimeout()),
		history:  hist,
		progress: progress.New(),
		notifier: notify.New(&cfg.Slack),
	}, nil
}

// Close releases all resources
func (o *Orchestrator) Close() {
	o.source.Close()
	if err := o.history.Close(); err != nil {
		logging.Debug("Closing history store: %v", err)
	}
}

// EnableProgress turns on the terminal progress display for Run.
func (o *Orchestrator) EnableProgress() {
	o.progress.Start()
}

// EnableJSONProgress streams throttled JSON progress lines to stderr,
// for schedulers that tail the run instead of watching a terminal.
func (o *Orchestrator) EnableJSONProgress() {
	o.progress.EnableJSON(os.Stderr, 2*time.Second)
}

// Run executes one sync run over every configured table and returns
// its report. A non-nil report comes back even when tables failed; the
// error is reserved for run-level problems such as an empty table set.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	runID := uuid.New().String()[:8]
	startTime := time.Now()

	tables := o.filterTables(o.config.Tables)
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables to sync after applying filters")
	}
	o.progress.SetTotalTables(len(tables))

	logging.Info("Starting sync run %s: %d tables -> %s", runID, len(tables), o.config.Sink.URL)

	o.recordStart(&history.Run{
		ID:        runID,
		StartedAt: startTime,
		Outcome:   "running",
		Source:    o.config.Source.Database,
		SinkURL:   o.config.Sink.URL,
	})
	if err := o.notifier.SyncStarted(runID, o.config.Source.Database, o.config.Sink.URL, len(tables)); err != nil {
		logging.Warn("Sending start notification: %v", err)
	}

	// One report slot per table, filled by whichever worker runs it.
	// Index order is declaration order, so the report reads the way the
	// config does even when workers finish out of order.
	reports := make([]TableReport, len(tables))
	for i := range tables {
		reports[i] = TableReport{Name: tables[i].Name, State: StatePending}
	}

	sem := make(chan struct{}, o.config.Sync.Workers)
	var wg sync.WaitGroup

dispatch:
	for i := range tables {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
			// Both cases can be ready at once; tables must not start
			// after cancellation.
			if ctx.Err() != nil {
				<-sem
				break dispatch
			}
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			reports[i] = o.syncTable(ctx, runID, &tables[i])
		}(i)
	}

	wg.Wait()
	logging.Debug("Source pool after run: %s", o.source.Stats())
	o.progress.Finish()

	report := buildReport(runID, startTime, reports, ctx.Err() != nil)
	o.finishRun(ctx, report, startTime)
	return report, nil
}

// finishRun records the outcome and sends the closing notification.
func (o *Orchestrator) finishRun(ctx context.Context, report *RunReport, startTime time.Time) {
	duration := time.Since(startTime)
	throughput := float64(report.RowsDelivered) / duration.Seconds()

	var notifyErr error
	switch report.Outcome {
	case OutcomeSuccess:
		logging.Info("Sync run %s complete: %d tables, %d rows", report.RunID, report.TablesSynced, report.RowsDelivered)
		notifyErr = o.notifier.SyncCompleted(report.RunID, report.StartedAt, duration,
			report.TablesSynced, report.RowsDelivered, throughput)
	case OutcomePartial:
		logging.Error("Sync run %s finished with failures: %d synced, %d failed",
			report.RunID, report.TablesSynced, report.TablesFailed)
		notifyErr = o.notifier.SyncCompletedWithErrors(report.RunID, report.StartedAt, duration,
			report.TablesSynced, report.TablesFailed, report.RowsDelivered, throughput, report.FailedTables)
	case OutcomeAborted:
		report.Error = context.Cause(ctx).Error()
		logging.Error("Sync run %s aborted: %s", report.RunID, report.Error)
		notifyErr = o.notifier.SyncFailed(report.RunID, context.Cause(ctx), duration)
	}
	if notifyErr != nil {
		logging.Warn("Sending completion notification: %v", notifyErr)
	}

	if err := o.history.RecordFinish(report.RunID, report.Outcome, report.Error); err != nil {
		logging.Warn("Recording run outcome: %v", err)
	}
}

// syncTable walks one table through its states. Every exit path leaves
// a final history record behind.
func (o *Orchestrator) syncTable(ctx context.Context, runID string, table *config.TableSpec) TableReport {
	start := time.Now()
	report := TableReport{Name: table.Name, State: StatePending}
	rec := &history.TableRecord{Name: table.Name, State: string(StatePending)}

	o.progress.StartTable(table.Name)
	defer o.progress.EndTable(table.Name)

	setState := func(s TableState) {
		report.State = s
		rec.State = string(s)
		o.recordTable(runID, rec)
	}
	fail := func(err error) TableReport {
		logging.Error("Table %s failed: %v", table.Name, err)
		o.progress.RecordError()
		report.State = StateFailed
		report.Error = err.Error()
		report.ElapsedSeconds = time.Since(start).Seconds()
		rec.State = string(StateFailed)
		rec.Error = err.Error()
		rec.Elapsed = time.Since(start)
		o.recordTable(runID, rec)
		if nerr := o.notifier.TableSyncFailed(runID, table.Name, err); nerr != nil {
			logging.Warn("Sending table failure notification: %v", nerr)
		}
		return report
	}

	// The extraction query streams rows straight into delivery batches,
	// so the query timeout bounds the whole extract-deliver phase.
	queryCtx, cancel := context.WithTimeout(ctx, o.config.Sync.QueryTimeout())
	defer cancel()

	setState(StateExtracting)
	stream, err := o.source.Query(queryCtx, table.Query)
	if err != nil {
		return fail(fmt.Errorf("querying %s: %w", table.Name, err))
	}
	defer stream.Close()

	setState(StateDelivering)
	deliverer := pipeline.NewDeliverer(o.sink, table, &o.config.Sync)
	dres, err := deliverer.Run(queryCtx, stream, o.progress)
	if dres != nil {
		report.Rows = dres.Rows
		report.Batches = dres.Batches
		rec.RowsExtracted = dres.Rows
		rec.RowsDelivered = dres.Rows
		rec.Batches = dres.Batches
	}
	if err != nil {
		return fail(err)
	}

	stats := pipeline.Stats{
		ExtractTime: dres.ExtractTime,
		DeliverTime: dres.DeliverTime,
		Rows:        dres.Rows,
	}

	if table.DeleteOrphans {
		setState(StateReconciling)
		rres, err := pipeline.NewReconciler(o.sink, table).Run(ctx, dres.Keys)
		if err != nil {
			return fail(err)
		}
		report.OrphansDeleted = rres.Deleted
		report.FailedDeletes = rres.FailedDeletes
		rec.OrphansDeleted = rres.Deleted
		rec.FailedDeletes = rres.FailedDeletes
		stats.ReconcileTime = rres.Elapsed
	}

	report.ElapsedSeconds = time.Since(start).Seconds()
	rec.Elapsed = time.Since(start)
	setState(StateDone)

	logging.Info("Table %s done: %d rows in %d batches (%s)",
		table.Name, report.Rows, report.Batches, stats.String())
	return report
}

// recordStart writes the run header. History is reporting only, so a
// store failure downgrades to a warning instead of stopping the sync.
func (o *Orchestrator) recordStart(run *history.Run) {
	if err := o.history.RecordStart(run); err != nil {
		logging.Warn("Recording run start: %v", err)
	}
}

func (o *Orchestrator) recordTable(runID string, rec *history.TableRecord) {
	if err := o.history.RecordTable(runID, rec); err != nil {
		logging.Debug("Recording table %s state: %v", rec.Name, err)
	}
}

// filterTables filters the configured tables by include/exclude glob
// patterns, preserving declaration order.
func (o *Orchestrator) filterTables(tables []config.TableSpec) []config.TableSpec {
	include := o.config.Sync.IncludeTables
	exclude := o.config.Sync.ExcludeTables

	if len(include) == 0 && len(exclude) == 0 {
		return tables
	}

	var filtered []config.TableSpec
	var skipped []string

	for _, t := range tables {
		tableName := strings.ToLower(t.Name)

		// Include patterns: if specified, table must match at least one
		if len(include) > 0 {
			matched := false
			for _, pattern := range include {
				if match, _ := filepath.Match(strings.ToLower(pattern), tableName); match {
					matched = true
					break
				}
			}
			if !matched {
				skipped = append(skipped, t.Name)
				continue
			}
		}

		// Exclude patterns: table must not match any
		excluded := false
		for _, pattern := range exclude {
			if match, _ := filepath.Match(strings.ToLower(pattern), tableName); match {
				excluded = true
				skipped = append(skipped, t.Name)
				break
			}
		}
		if excluded {
			continue
		}

		filtered = append(filtered, t)
	}

	if len(skipped) > 0 {
		logging.Info("Skipped %d tables by filter: %v", len(skipped), skipped)
	}

	return filtered
}
