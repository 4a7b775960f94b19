package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/johndauphine/pg-rest-mirror/internal/history"
)

// ShowStatus displays the most recent sync run and its tables.
func (o *Orchestrator) ShowStatus() error {
	run, err := o.history.LastRun()
	if err != nil {
		return err
	}
	if run == nil {
		fmt.Println("No sync runs recorded")
		return nil
	}
	return o.printRun(run)
}

// ShowRunDetails displays one specific run.
func (o *Orchestrator) ShowRunDetails(runID string) error {
	run, err := o.history.GetRun(runID)
	if err != nil {
		return fmt.Errorf("getting run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", runID)
	}
	return o.printRun(run)
}

func (o *Orchestrator) printRun(run *history.Run) error {
	fmt.Printf("Run:     %s\n", run.ID)
	fmt.Printf("Outcome: %s\n", run.Outcome)
	fmt.Printf("Source:  %s\n", run.Source)
	fmt.Printf("Sink:    %s\n", run.SinkURL)
	fmt.Printf("Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Printf("Ended:   %s (%s)\n", run.CompletedAt.Format("2006-01-02 15:04:05"),
			run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if run.Error != "" {
		fmt.Printf("Error:   %s\n", run.Error)
	}

	tables, err := o.history.ListTables(run.ID)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return nil
	}

	fmt.Printf("\n%-30s %-12s %12s %10s %10s  %s\n", "Table", "State", "Rows", "Orphans", "Elapsed", "Error")
	fmt.Println(strings.Repeat("-", 96))
	for _, t := range tables {
		icon := stateIcon(t.State)
		errMsg := t.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		fmt.Printf("%-30s %s %-10s %12d %10d %10s  %s\n",
			t.Name, icon, t.State, t.RowsDelivered, t.OrphansDeleted,
			t.Elapsed.Round(time.Second), errMsg)
	}
	return nil
}

func stateIcon(state string) string {
	switch state {
	case string(StateDone):
		return "✓"
	case string(StateFailed):
		return "✗"
	case string(StatePending):
		return "○"
	default:
		return "►"
	}
}

// ShowHistory displays recent sync runs, newest first.
func (o *Orchestrator) ShowHistory(limit int) error {
	runs, err := o.history.ListRuns(limit)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No sync history")
		return nil
	}

	fmt.Printf("%-10s %-20s %-20s %-10s %s\n", "ID", "Started", "Completed", "Outcome", "Source")
	fmt.Println(strings.Repeat("-", 86))

	for _, r := range runs {
		completed := "-"
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-10s %-20s %-20s %-10s %s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), completed, r.Outcome, r.Source)
		if r.Error != "" {
			fmt.Printf("           Error: %s\n", r.Error)
		}
	}

	fmt.Println("\nUse 'status --run <ID>' to view a run's tables")
	return nil
}

// LastRunReport rebuilds a RunReport from the most recent recorded run,
// for machine-readable status output.
func (o *Orchestrator) LastRunReport() (*RunReport, error) {
	run, err := o.history.LastRun()
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("no runs found")
	}
	return o.reportFromRun(run)
}

// RunReportByID rebuilds a RunReport for a specific run ID.
func (o *Orchestrator) RunReportByID(runID string) (*RunReport, error) {
	run, err := o.history.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return o.reportFromRun(run)
}

func (o *Orchestrator) reportFromRun(run *history.Run) (*RunReport, error) {
	tables, err := o.history.ListTables(run.ID)
	if err != nil {
		return nil, err
	}

	report := &RunReport{
		RunID:        run.ID,
		Outcome:      run.Outcome,
		StartedAt:    run.StartedAt,
		Error:        run.Error,
		FailedTables: []string{},
		TablesTotal:  len(tables),
	}
	if run.CompletedAt != nil {
		report.CompletedAt = *run.CompletedAt
		report.DurationSeconds = run.CompletedAt.Sub(run.StartedAt).Seconds()
	} else if run.Outcome == "running" {
		report.DurationSeconds = time.Since(run.StartedAt).Seconds()
	}

	for _, t := range tables {
		tr := TableReport{
			Name:           t.Name,
			State:          TableState(t.State),
			Rows:           t.RowsDelivered,
			Batches:        t.Batches,
			OrphansDeleted: t.OrphansDeleted,
			FailedDeletes:  t.FailedDeletes,
			ElapsedSeconds: t.Elapsed.Seconds(),
			Error:          t.Error,
		}
		report.Tables = append(report.Tables, tr)
		report.RowsDelivered += t.RowsDelivered
		report.OrphansDeleted += t.OrphansDeleted
		switch t.State {
		case string(StateDone):
			report.TablesSynced++
		case string(StateFailed):
			report.TablesFailed++
			report.FailedTables = append(report.FailedTables, t.Name)
		}
	}

	if report.DurationSeconds > 0 {
		report.RowsPerSecond = int64(float64(report.RowsDelivered) / report.DurationSeconds)
	}

	return report, nil
}

// ShowDryRun prints the plan produced by DryRun.
func (o *Orchestrator) ShowDryRun(res *DryRunResult) {
	fmt.Printf("Source:     %s\n", res.Source)
	fmt.Printf("Sink:       %s\n", res.SinkURL)
	fmt.Printf("Workers:    %d\n", res.Workers)
	fmt.Printf("Batch size: %d\n", res.BatchSize)
	fmt.Println()
	fmt.Printf("%-30s %12s %12s %8s  %-6s %s\n", "Table", "Source rows", "Sink rows", "Batches", "Mode", "Orphans")
	fmt.Println(strings.Repeat("-", 80))
	for _, t := range res.Tables {
		orphans := "keep"
		if t.DeleteOrphans {
			orphans = "delete"
		}
		fmt.Printf("%-30s %12d %12d %8d  %-6s %s\n", t.Name, t.RowCount, t.SinkRows, t.Batches, t.Mode, orphans)
	}
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("%d tables, %d source rows, nothing delivered\n", res.TotalTables, res.TotalRows)
}

// ShowHealthCheck prints the result of a connectivity check.
func (o *Orchestrator) ShowHealthCheck(res *HealthCheckResult) {
	if res.SourceConnected {
		fmt.Printf("  ✓ source (%s) reachable in %dms\n", res.SourceType, res.SourceLatencyMs)
	} else {
		fmt.Printf("  ✗ source (%s): %s\n", res.SourceType, res.SourceError)
	}
	if res.SinkConnected {
		fmt.Printf("  ✓ sink reachable in %dms\n", res.SinkLatencyMs)
	} else {
		fmt.Printf("  ✗ sink: %s\n", res.SinkError)
	}
	fmt.Println()
	if res.Healthy {
		fmt.Println("All connectivity checks passed")
	} else {
		fmt.Println("Connectivity check failed")
	}
}
