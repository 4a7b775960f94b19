// Package stats carries connection pool counters in a driver-neutral
// shape for logging.
package stats

import "fmt"

// PoolStats is a point-in-time snapshot of the source connection pool.
// Wait counters show whether table workers are contending for the
// connections max_source_conns allows.
type PoolStats struct {
	DBType      string // "postgres" or "mssql"
	MaxConns    int    // Maximum connections allowed
	ActiveConns int    // Currently active/in-use connections
	IdleConns   int    // Currently idle connections
	WaitCount   int64  // Times a query waited for a free connection
	WaitTimeMs  int64  // Total time spent waiting (milliseconds)
}

// String returns a formatted string for logging pool stats.
func (s PoolStats) String() string {
	return fmt.Sprintf("%s: %d/%d active, %d idle, %d waits (%.1fms avg)",
		s.DBType, s.ActiveConns, s.MaxConns, s.IdleConns,
		s.WaitCount, float64(s.WaitTimeMs)/float64(max(s.WaitCount, 1)))
}
