package history

import (
	"fmt"
	"time"

	"github.com/johndauphine/pg-rest-mirror/internal/config"
)

// Backend persists run history for the status and history commands.
// Sync correctness never depends on stored state: every run rebuilds its
// view of the sink from live data, so losing the history file only loses
// the record.
type Backend interface {
	// Run lifecycle
	RecordStart(run *Run) error
	RecordTable(runID string, rec *TableRecord) error
	RecordFinish(runID, outcome, errorMsg string) error

	// Queries
	LastRun() (*Run, error)
	GetRun(runID string) (*Run, error)
	ListRuns(limit int) ([]Run, error)
	ListTables(runID string) ([]TableRecord, error)

	Close() error
}

// ProfileStore is implemented by backends that can hold encrypted
// connection profiles. Only the SQLite backend qualifies.
type ProfileStore interface {
	SaveProfile(name, description string, config []byte) error
	GetProfile(name string) ([]byte, error)
	ListProfiles() ([]ProfileInfo, error)
	DeleteProfile(name string) error
}

// Run is one recorded sync run.
type Run struct {
	ID          string     `yaml:"id"`
	StartedAt   time.Time  `yaml:"started_at"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty"`
	Outcome     string     `yaml:"outcome"` // running, success, partial, aborted
	Source      string     `yaml:"source"`
	SinkURL     string     `yaml:"sink_url"`
	Error       string     `yaml:"error,omitempty"`
}

// TableRecord is the final accounting for one table in a run.
type TableRecord struct {
	Name           string        `yaml:"name"`
	State          string        `yaml:"state"` // done, failed, skipped
	RowsExtracted  int64         `yaml:"rows_extracted"`
	RowsDelivered  int64         `yaml:"rows_delivered"`
	Batches        int           `yaml:"batches,omitempty"`
	OrphansDeleted int64         `yaml:"orphans_deleted,omitempty"`
	FailedDeletes  int           `yaml:"failed_deletes,omitempty"`
	Elapsed        time.Duration `yaml:"elapsed,omitempty"`
	Error          string        `yaml:"error,omitempty"`
}

// Open returns the backend named by the config.
func Open(cfg *config.HistoryConfig) (Backend, error) {
	switch cfg.Backend {
	case "off":
		return nop{}, nil
	case "file":
		return NewFileState(cfg.Path)
	case "sqlite":
		return NewState(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown history backend: %s", cfg.Backend)
	}
}

// nop discards everything; used when history is turned off.
type nop struct{}

func (nop) RecordStart(*Run) error                    { return nil }
func (nop) RecordTable(string, *TableRecord) error    { return nil }
func (nop) RecordFinish(string, string, string) error { return nil }
func (nop) LastRun() (*Run, error)                    { return nil, nil }
func (nop) GetRun(string) (*Run, error)               { return nil, nil }
func (nop) ListRuns(int) ([]Run, error)               { return nil, nil }
func (nop) ListTables(string) ([]TableRecord, error)  { return nil, nil }
func (nop) Close() error                              { return nil }
