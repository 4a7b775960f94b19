package orchestrator

import (
	"time"
)

// TableState tracks where a table is in its sync lifecycle.
type TableState string

const (
	StatePending     TableState = "pending"
	StateExtracting  TableState = "extracting"
	StateDelivering  TableState = "delivering"
	StateReconciling TableState = "reconciling"
	StateDone        TableState = "done"
	StateFailed      TableState = "failed"
)

// Run outcomes. A failed table makes the run partial, not aborted;
// aborted means the run itself was cut short before every table got
// its turn.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeAborted = "aborted"
)

// RunReport is the machine-readable summary of one sync run.
type RunReport struct {
	RunID           string        `json:"run_id"`
	Outcome         string        `json:"outcome"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
	DurationSeconds float64       `json:"duration_seconds"`
	TablesTotal     int           `json:"tables_total"`
	TablesSynced    int           `json:"tables_synced"`
	TablesFailed    int           `json:"tables_failed"`
	RowsDelivered   int64         `json:"rows_delivered"`
	OrphansDeleted  int64         `json:"orphans_deleted"`
	RowsPerSecond   int64         `json:"rows_per_second"`
	FailedTables    []string      `json:"failed_tables"`
	Tables          []TableReport `json:"tables"`
	Error           string        `json:"error,omitempty"`
}

// TableReport is the per-table slice of a RunReport. Tables appear in
// the order the config declares them, whatever order workers finished
// in.
type TableReport struct {
	Name           string     `json:"name"`
	State          TableState `json:"state"`
	Rows           int64      `json:"rows"`
	Batches        int        `json:"batches,omitempty"`
	OrphansDeleted int64      `json:"orphans_deleted,omitempty"`
	FailedDeletes  int        `json:"failed_deletes,omitempty"`
	ElapsedSeconds float64    `json:"elapsed_seconds"`
	Error          string     `json:"error,omitempty"`
}

// buildReport aggregates per-table results into the run summary.
// cancelled marks runs cut short by context cancellation; tables that
// never started keep their pending state in the report.
func buildReport(runID string, startedAt time.Time, tables []TableReport, cancelled bool) *RunReport {
	report := &RunReport{
		RunID:        runID,
		StartedAt:    startedAt,
		CompletedAt:  time.Now(),
		FailedTables: []string{},
		Tables:       tables,
		TablesTotal:  len(tables),
	}
	report.DurationSeconds = report.CompletedAt.Sub(startedAt).Seconds()

	for _, t := range tables {
		report.RowsDelivered += t.Rows
		report.OrphansDeleted += t.OrphansDeleted
		switch t.State {
		case StateDone:
			report.TablesSynced++
		case StateFailed:
			report.TablesFailed++
			report.FailedTables = append(report.FailedTables, t.Name)
		}
	}

	if report.DurationSeconds > 0 {
		report.RowsPerSecond = int64(float64(report.RowsDelivered) / report.DurationSeconds)
	}

	switch {
	case cancelled:
		report.Outcome = OutcomeAborted
	case report.TablesFailed > 0:
		report.Outcome = OutcomePartial
	default:
		report.Outcome = OutcomeSuccess
	}

	return report
}

// HealthCheckResult reports connectivity to both ends of the sync.
type HealthCheckResult struct {
	Timestamp       string `json:"timestamp"`
	SourceType      string `json:"source_type"`
	SourceConnected bool   `json:"source_connected"`
	SourceLatencyMs int64  `json:"source_latency_ms"`
	SourceError     string `json:"source_error,omitempty"`
	SinkConnected   bool   `json:"sink_connected"`
	SinkLatencyMs   int64  `json:"sink_latency_ms"`
	SinkError       string `json:"sink_error,omitempty"`
	Healthy         bool   `json:"healthy"`
}

// DryRunResult previews what a run would sync without delivering rows.
type DryRunResult struct {
	Source      string        `json:"source"`
	SinkURL     string        `json:"sink_url"`
	Workers     int           `json:"workers"`
	BatchSize   int           `json:"batch_size"`
	TotalTables int           `json:"total_tables"`
	TotalRows   int64         `json:"total_rows"`
	Tables      []DryRunTable `json:"tables"`
}

// DryRunTable describes one table in a dry run preview.
type DryRunTable struct {
	Name          string `json:"name"`
	RowCount      int64  `json:"row_count"`
	SinkRows      int64  `json:"sink_rows"`
	Batches       int    `json:"batches"`
	Mode          string `json:"mode"` // merge or append
	DeleteOrphans bool   `json:"delete_orphans"`
}

// ValidationResult reports per-table row count comparison.
type ValidationResult struct {
	Timestamp string            `json:"timestamp"`
	Passed    bool              `json:"passed"`
	Tables    []ValidationTable `json:"tables"`
}

// ValidationTable is one table's source versus sink row count.
type ValidationTable struct {
	Name       string `json:"name"`
	SourceRows int64  `json:"source_rows"`
	SinkRows   int64  `json:"sink_rows"`
	Match      bool   `json:"match"`
	Error      string `json:"error,omitempty"`
}
