package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

// State stores run history in SQLite
type State struct {
	db *sql.DB
}

// New opens the default history database under dataDir.
func New(dataDir string) (*State, error) {
	return NewState(filepath.Join(dataDir, "history.db"))
}

// NewState opens (or creates) the history database at path.
func NewState(path string) (*State, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}

	// Workers record table states concurrently; the busy timeout keeps
	// simultaneous writes from surfacing as SQLITE_BUSY.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return s, nil
}

func (s *State) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		outcome TEXT NOT NULL DEFAULT 'running',
		source TEXT NOT NULL,
		sink_url TEXT NOT NULL,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS run_tables (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT REFERENCES runs(id),
		table_name TEXT NOT NULL,
		state TEXT NOT NULL,
		rows_extracted INTEGER DEFAULT 0,
		rows_delivered INTEGER DEFAULT 0,
		batches INTEGER DEFAULT 0,
		orphans_deleted INTEGER DEFAULT 0,
		failed_deletes INTEGER DEFAULT 0,
		elapsed_ms INTEGER DEFAULT 0,
		error TEXT,
		UNIQUE(run_id, table_name)
	);

	CREATE TABLE IF NOT EXISTS profiles (
		name TEXT PRIMARY KEY,
		description TEXT,
		config_enc BLOB NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_run_tables_run ON run_tables(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *State) Close() error {
	return s.db.Close()
}

// RecordStart inserts a new run in the running state.
func (s *State) RecordStart(run *Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, outcome, source, sink_url)
		VALUES (?, ?, 'running', ?, ?)
	`, run.ID, run.StartedAt.UTC().Format(sqliteTimeLayout), run.Source, run.SinkURL)
	return err
}

// RecordTable upserts the final accounting for one table.
func (s *State) RecordTable(runID string, rec *TableRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO run_tables (run_id, table_name, state, rows_extracted, rows_delivered,
			batches, orphans_deleted, failed_deletes, elapsed_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, table_name) DO UPDATE SET
			state = excluded.state,
			rows_extracted = excluded.rows_extracted,
			rows_delivered = excluded.rows_delivered,
			batches = excluded.batches,
			orphans_deleted = excluded.orphans_deleted,
			failed_deletes = excluded.failed_deletes,
			elapsed_ms = excluded.elapsed_ms,
			error = excluded.error
	`, runID, rec.Name, rec.State, rec.RowsExtracted, rec.RowsDelivered,
		rec.Batches, rec.OrphansDeleted, rec.FailedDeletes, rec.Elapsed.Milliseconds(), rec.Error)
	return err
}

// RecordFinish marks a run as complete
func (s *State) RecordFinish(runID, outcome, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE runs SET outcome = ?, completed_at = datetime('now'), error = ?
		WHERE id = ?
	`, outcome, errorMsg, runID)
	return err
}

// LastRun returns the most recent run, or nil if none exist.
func (s *State) LastRun() (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, completed_at, outcome, source, sink_url, error
		FROM runs ORDER BY started_at DESC, id DESC LIMIT 1
	`)
	return scanRun(row)
}

// GetRun returns a run by ID, or nil if not found.
func (s *State) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, completed_at, outcome, source, sink_url, error
		FROM runs WHERE id = ?
	`, runID)
	return scanRun(row)
}

// ListRuns returns recent runs, newest first.
func (s *State) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, started_at, completed_at, outcome, source, sink_url, error
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAtStr string
		var completedAtStr, errStr sql.NullString
		if err := rows.Scan(&r.ID, &startedAtStr, &completedAtStr, &r.Outcome, &r.Source, &r.SinkURL, &errStr); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(sqliteTimeLayout, startedAtStr)
		if completedAtStr.Valid {
			t, _ := time.Parse(sqliteTimeLayout, completedAtStr.String)
			r.CompletedAt = &t
		}
		if errStr.Valid {
			r.Error = errStr.String
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListTables returns a run's table records in the order they completed.
func (s *State) ListTables(runID string) ([]TableRecord, error) {
	rows, err := s.db.Query(`
		SELECT table_name, state, rows_extracted, rows_delivered,
			batches, orphans_deleted, failed_deletes, elapsed_ms, error
		FROM run_tables WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TableRecord
	for rows.Next() {
		var rec TableRecord
		var elapsedMS int64
		var errStr sql.NullString
		if err := rows.Scan(&rec.Name, &rec.State, &rec.RowsExtracted, &rec.RowsDelivered,
			&rec.Batches, &rec.OrphansDeleted, &rec.FailedDeletes, &elapsedMS, &errStr); err != nil {
			return nil, err
		}
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if errStr.Valid {
			rec.Error = errStr.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CleanupOldRuns deletes completed runs older than the retention window.
// Runs still marked running are kept regardless of age.
func (s *State) CleanupOldRuns(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(sqliteTimeLayout)

	_, err := s.db.Exec(`
		DELETE FROM run_tables WHERE run_id IN (
			SELECT id FROM runs WHERE outcome != 'running' AND completed_at < ?
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(`
		DELETE FROM runs WHERE outcome != 'running' AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanRun(row *sql.Row) (*Run, error) {
	var r Run
	var startedAtStr string
	var completedAtStr, errStr sql.NullString
	err := row.Scan(&r.ID, &startedAtStr, &completedAtStr, &r.Outcome, &r.Source, &r.SinkURL, &errStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.StartedAt, _ = time.Parse(sqliteTimeLayout, startedAtStr)
	if completedAtStr.Valid {
		t, _ := time.Parse(sqliteTimeLayout, completedAtStr.String)
		r.CompletedAt = &t
	}
	if errStr.Valid {
		r.Error = errStr.String
	}
	return &r, nil
}

// Ensure State implements both interfaces
var _ Backend = (*State)(nil)
var _ ProfileStore = (*State)(nil)
