package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johndauphine/pg-rest-mirror/internal/logging"
	"github.com/schollz/progressbar/v3"
)

// Tracker tracks sync progress
type Tracker struct {
	bar       *progressbar.ProgressBar
	current   atomic.Int64
	startTime time.Time

	// Track active tables for accurate display
	mu           sync.Mutex
	activeTables map[string]int // table name -> active job count
	reporter     Reporter       // emits JSON updates when enabled
	tablesDone   int
	tablesTotal  int
	errors       int
}

// New creates a new progress tracker. The terminal spinner stays off
// until Start is called; counters work either way.
func New() *Tracker {
	return &Tracker{
		startTime:    time.Now(),
		activeTables: make(map[string]int),
		reporter:     &NullReporter{},
	}
}

// EnableJSON starts emitting JSON progress lines to w, one object per
// line. Call before the run starts.
func (t *Tracker) EnableJSON(w io.Writer, interval time.Duration) {
	t.reporter = NewJSONReporter(w, interval)
}

// SetTotalTables sets the table count reported in progress updates.
func (t *Tracker) SetTotalTables(n int) {
	t.mu.Lock()
	t.tablesTotal = n
	t.mu.Unlock()
}

// Start enables the terminal spinner. Row totals are unknown before the
// source queries run, so the bar is indeterminate and shows a running count.
func (t *Tracker) Start() {
	t.bar = progressbar.NewOptions64(
		-1,
		progressbar.OptionSetDescription("Syncing"),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add increments the progress counter
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
	t.emit("sync")
}

// StartTable marks a table as actively syncing
func (t *Tracker) StartTable(tableName string) {
	t.mu.Lock()
	t.activeTables[tableName]++
	tableCount := len(t.activeTables)
	t.mu.Unlock()

	if t.bar != nil {
		if tableCount == 1 {
			t.bar.Describe(fmt.Sprintf("Syncing %s", tableName))
		} else {
			t.bar.Describe(fmt.Sprintf("Syncing (%d tables)", tableCount))
		}
		t.bar.RenderBlank()
	}
	t.emit("sync")
}

// EndTable marks a table as done syncing
func (t *Tracker) EndTable(tableName string) {
	t.mu.Lock()
	t.activeTables[tableName]--
	if t.activeTables[tableName] <= 0 {
		delete(t.activeTables, tableName)
	}
	t.tablesDone++
	tableCount := len(t.activeTables)
	// Get remaining table name if only one left
	var remaining string
	for name := range t.activeTables {
		remaining = name
		break
	}
	t.mu.Unlock()

	if t.bar != nil && tableCount > 0 {
		if tableCount == 1 {
			t.bar.Describe(fmt.Sprintf("Syncing %s", remaining))
		} else {
			t.bar.Describe(fmt.Sprintf("Syncing (%d tables)", tableCount))
		}
	}
	t.emit("sync")
}

// RecordError counts a failed table in the progress stream.
func (t *Tracker) RecordError() {
	t.mu.Lock()
	t.errors++
	t.mu.Unlock()
	t.emit("sync")
}

// Current returns the current count
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish marks the progress as complete
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
		fmt.Println()
	}

	if t.reporter != nil {
		t.reporter.ReportImmediate(t.snapshot("done"))
		t.reporter.Close()
	}

	elapsed := time.Since(t.startTime)
	rowsPerSec := float64(t.current.Load()) / elapsed.Seconds()

	logging.Info("Synced %d rows in %s (%.0f rows/sec)",
		t.current.Load(), elapsed.Round(time.Second), rowsPerSec)
}

func (t *Tracker) emit(phase string) {
	if t.reporter == nil {
		return
	}
	t.reporter.Report(t.snapshot(phase))
}

// snapshot assembles an Update from the current counters.
func (t *Tracker) snapshot(phase string) Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := make([]string, 0, len(t.activeTables))
	for name := range t.activeTables {
		active = append(active, name)
	}

	u := Update{
		Phase:         phase,
		TablesDone:    t.tablesDone,
		TablesTotal:   t.tablesTotal,
		TablesActive:  len(t.activeTables),
		RowsDelivered: t.current.Load(),
		ActiveTables:  active,
		Errors:        t.errors,
	}

	elapsed := time.Since(t.startTime).Seconds()
	if elapsed > 0 {
		u.RowsPerSecond = int64(float64(u.RowsDelivered) / elapsed)
	}
	return u
}
