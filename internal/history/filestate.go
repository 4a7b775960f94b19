package history

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// maxFileRuns bounds how many runs the YAML file keeps.
const maxFileRuns = 20

// FileState implements Backend using a single YAML file. Designed for
// Airflow and other headless schedulers where a SQLite file per worker
// is impractical.
type FileState struct {
	path string
	mu   sync.RWMutex
	data *fileHistoryData
}

// fileHistoryData is the YAML structure for the history file.
type fileHistoryData struct {
	Runs []fileRun `yaml:"runs"`
}

// fileRun embeds the run with its table records.
type fileRun struct {
	Run    `yaml:",inline"`
	Tables []TableRecord `yaml:"tables,omitempty"`
}

// NewFileState creates a file-based history backend. If the file
// exists, it loads the existing history.
func NewFileState(path string) (*FileState, error) {
	fs := &FileState{
		path: path,
		data: &fileHistoryData{},
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading history file: %w", err)
		}
		if err := yaml.Unmarshal(data, fs.data); err != nil {
			return nil, fmt.Errorf("parsing history file: %w", err)
		}
	}

	return fs, nil
}

// save writes the current history to the YAML file.
func (fs *FileState) save() error {
	data, err := yaml.Marshal(fs.data)
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	if err := os.WriteFile(fs.path, data, 0600); err != nil {
		return fmt.Errorf("writing history file: %w", err)
	}
	return nil
}

// RecordStart prepends a new run, trimming history to the cap.
func (fs *FileState) RecordStart(run *Run) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	entry := fileRun{Run: *run}
	entry.Outcome = "running"

	fs.data.Runs = append([]fileRun{entry}, fs.data.Runs...)
	if len(fs.data.Runs) > maxFileRuns {
		fs.data.Runs = fs.data.Runs[:maxFileRuns]
	}

	return fs.save()
}

// RecordTable upserts one table's record on its run.
func (fs *FileState) RecordTable(runID string, rec *TableRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := range fs.data.Runs {
		if fs.data.Runs[i].ID != runID {
			continue
		}
		tables := fs.data.Runs[i].Tables
		for j := range tables {
			if tables[j].Name == rec.Name {
				tables[j] = *rec
				return fs.save()
			}
		}
		fs.data.Runs[i].Tables = append(tables, *rec)
		return fs.save()
	}

	return fmt.Errorf("run not found: %s", runID)
}

// RecordFinish marks a run as complete.
func (fs *FileState) RecordFinish(runID, outcome, errorMsg string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := range fs.data.Runs {
		if fs.data.Runs[i].ID != runID {
			continue
		}
		now := time.Now()
		fs.data.Runs[i].Outcome = outcome
		fs.data.Runs[i].CompletedAt = &now
		fs.data.Runs[i].Error = errorMsg
		return fs.save()
	}

	return fmt.Errorf("run not found: %s", runID)
}

// LastRun returns the most recent run, or nil if none exist.
func (fs *FileState) LastRun() (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if len(fs.data.Runs) == 0 {
		return nil, nil
	}
	run := fs.data.Runs[0].Run
	return &run, nil
}

// GetRun returns a run by ID, or nil if not found.
func (fs *FileState) GetRun(runID string) (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for i := range fs.data.Runs {
		if fs.data.Runs[i].ID == runID {
			run := fs.data.Runs[i].Run
			return &run, nil
		}
	}
	return nil, nil
}

// ListRuns returns recent runs, newest first.
func (fs *FileState) ListRuns(limit int) ([]Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if limit <= 0 || limit > len(fs.data.Runs) {
		limit = len(fs.data.Runs)
	}
	runs := make([]Run, limit)
	for i := 0; i < limit; i++ {
		runs[i] = fs.data.Runs[i].Run
	}
	return runs, nil
}

// ListTables returns a run's table records.
func (fs *FileState) ListTables(runID string) ([]TableRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for i := range fs.data.Runs {
		if fs.data.Runs[i].ID == runID {
			out := make([]TableRecord, len(fs.data.Runs[i].Tables))
			copy(out, fs.data.Runs[i].Tables)
			return out, nil
		}
	}
	return nil, nil
}

// Close is a no-op for file state.
func (fs *FileState) Close() error {
	return nil
}

// Path returns the history file path.
func (fs *FileState) Path() string {
	return fs.path
}

// Ensure FileState implements Backend
var _ Backend = (*FileState)(nil)
