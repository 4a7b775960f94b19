package notify

import "time"

// Provider defines the notification contract for sync run events.
// This interface allows for different notification backends (Slack, email, etc.)
// and enables easier testing through mock implementations.
type Provider interface {
	// SyncStarted sends notification when a sync run starts.
	SyncStarted(runID, sourceDB, sinkURL string, tableCount int) error

	// SyncCompleted sends notification when a run finishes with every table synced.
	SyncCompleted(runID string, startTime time.Time, duration time.Duration, tableCount int, rowCount int64, throughput float64) error

	// SyncFailed sends notification when a run aborts before any table completes.
	SyncFailed(runID string, err error, duration time.Duration) error

	// SyncCompletedWithErrors sends notification when a run finishes with some table failures.
	SyncCompletedWithErrors(runID string, startTime time.Time, duration time.Duration, successTables int, failedTables int, rowCount int64, throughput float64, failures []string) error

	// TableSyncFailed sends notification for an individual table failure.
	TableSyncFailed(runID, tableName string, err error) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
