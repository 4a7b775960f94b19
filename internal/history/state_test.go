package history

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	state, err := NewState(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	t.Cleanup(func() { state.Close() })
	return state
}

func TestRunLifecycle(t *testing.T) {
	state := newTestState(t)

	run := &Run{
		ID:        "run-1",
		StartedAt: time.Now(),
		Source:    "db.internal:5432/app",
		SinkURL:   "https://example.supabase.co",
	}
	if err := state.RecordStart(run); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}

	// A started run shows up as running
	last, err := state.LastRun()
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if last == nil {
		t.Fatal("expected a run")
	}
	if last.Outcome != "running" {
		t.Errorf("Outcome = %q, want running", last.Outcome)
	}
	if last.CompletedAt != nil {
		t.Error("CompletedAt should be nil while running")
	}

	// Record table results
	if err := state.RecordTable("run-1", &TableRecord{
		Name:           "orders",
		State:          "done",
		RowsExtracted:  2500,
		RowsDelivered:  2500,
		Batches:        3,
		OrphansDeleted: 4,
		Elapsed:        1500 * time.Millisecond,
	}); err != nil {
		t.Fatalf("RecordTable: %v", err)
	}
	if err := state.RecordTable("run-1", &TableRecord{
		Name:  "customers",
		State: "failed",
		Error: "extract query failed",
	}); err != nil {
		t.Fatalf("RecordTable: %v", err)
	}

	if err := state.RecordFinish("run-1", "partial", "1 of 2 tables failed"); err != nil {
		t.Fatalf("RecordFinish: %v", err)
	}

	got, err := state.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Outcome != "partial" {
		t.Errorf("Outcome = %q, want partial", got.Outcome)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set after finish")
	}
	if got.Error != "1 of 2 tables failed" {
		t.Errorf("Error = %q", got.Error)
	}

	tables, err := state.ListTables("run-1")
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("got %d tables, want 2", len(tables))
	}
	if tables[0].Name != "orders" || tables[1].Name != "customers" {
		t.Errorf("table order = %s, %s; want orders, customers", tables[0].Name, tables[1].Name)
	}
	if tables[0].Elapsed != 1500*time.Millisecond {
		t.Errorf("Elapsed = %v, want 1.5s", tables[0].Elapsed)
	}
	if tables[1].Error != "extract query failed" {
		t.Errorf("table error = %q", tables[1].Error)
	}
}

func TestRecordTableUpsert(t *testing.T) {
	state := newTestState(t)

	if err := state.RecordStart(&Run{ID: "run-1", StartedAt: time.Now(), Source: "s", SinkURL: "u"}); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}

	if err := state.RecordTable("run-1", &TableRecord{Name: "orders", State: "failed"}); err != nil {
		t.Fatalf("RecordTable: %v", err)
	}
	if err := state.RecordTable("run-1", &TableRecord{Name: "orders", State: "done", RowsDelivered: 10}); err != nil {
		t.Fatalf("RecordTable (second): %v", err)
	}

	tables, err := state.ListTables("run-1")
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("got %d records, want 1", len(tables))
	}
	if tables[0].State != "done" || tables[0].RowsDelivered != 10 {
		t.Errorf("record = %+v, want the second write", tables[0])
	}
}

func TestLastRunEmpty(t *testing.T) {
	state := newTestState(t)

	run, err := state.LastRun()
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if run != nil {
		t.Errorf("expected nil run on empty history, got %+v", run)
	}
}

func TestListRunsOrder(t *testing.T) {
	state := newTestState(t)

	base := time.Now().Add(-3 * time.Hour)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := &Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour), Source: "s", SinkURL: "u"}
		if err := state.RecordStart(run); err != nil {
			t.Fatalf("RecordStart(%s): %v", id, err)
		}
	}

	runs, err := state.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("order = %s, %s; want run-c, run-b", runs[0].ID, runs[1].ID)
	}
}

func TestCleanupOldRuns(t *testing.T) {
	state := newTestState(t)

	oldSuccess := "old-success"
	oldFailed := "old-failed"
	recentSuccess := "recent-success"
	running := "still-running"

	for _, runID := range []string{oldSuccess, oldFailed, recentSuccess, running} {
		run := &Run{ID: runID, StartedAt: time.Now(), Source: "s", SinkURL: "u"}
		if err := state.RecordStart(run); err != nil {
			t.Fatalf("RecordStart(%s) error: %v", runID, err)
		}
		if err := state.RecordTable(runID, &TableRecord{Name: "orders", State: "done"}); err != nil {
			t.Fatalf("RecordTable(%s) error: %v", runID, err)
		}
	}

	if err := state.RecordFinish(oldSuccess, "success", ""); err != nil {
		t.Fatalf("RecordFinish(%s) error: %v", oldSuccess, err)
	}
	if err := state.RecordFinish(oldFailed, "aborted", "boom"); err != nil {
		t.Fatalf("RecordFinish(%s) error: %v", oldFailed, err)
	}
	if err := state.RecordFinish(recentSuccess, "success", ""); err != nil {
		t.Fatalf("RecordFinish(%s) error: %v", recentSuccess, err)
	}

	oldTime := time.Now().AddDate(0, 0, -31).UTC().Format(sqliteTimeLayout)
	if _, err := state.db.Exec(`UPDATE runs SET completed_at = ? WHERE id IN (?, ?)`, oldTime, oldSuccess, oldFailed); err != nil {
		t.Fatalf("update old completed_at error: %v", err)
	}

	deleted, err := state.CleanupOldRuns(30)
	if err != nil {
		t.Fatalf("CleanupOldRuns error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted runs = %d, want 2", deleted)
	}

	if got := countRows(t, state.db, `SELECT COUNT(*) FROM runs`); got != 2 {
		t.Fatalf("runs remaining = %d, want 2", got)
	}
	if got := countRows(t, state.db, `SELECT COUNT(*) FROM runs WHERE id = ?`, running); got != 1 {
		t.Fatalf("running run missing after cleanup")
	}
	if got := countRows(t, state.db, `SELECT COUNT(*) FROM run_tables`); got != 2 {
		t.Fatalf("run_tables remaining = %d, want 2", got)
	}
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var count int
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		t.Fatalf("count query error: %v", err)
	}
	return count
}
