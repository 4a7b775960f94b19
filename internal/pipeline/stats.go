package pipeline

import (
	"fmt"
	"time"
)

// Stats records where time was spent syncing one table.
type Stats struct {
	ExtractTime   time.Duration
	DeliverTime   time.Duration
	ReconcileTime time.Duration
	Rows          int64
}

// String renders a phase breakdown for log output.
func (s Stats) String() string {
	total := s.TotalTime()
	if total == 0 {
		return "no data"
	}

	pct := func(d time.Duration) int {
		return int(float64(d) / float64(total) * 100)
	}

	out := fmt.Sprintf("extract=%.1fs (%d%%), deliver=%.1fs (%d%%)",
		s.ExtractTime.Seconds(), pct(s.ExtractTime),
		s.DeliverTime.Seconds(), pct(s.DeliverTime))
	if s.ReconcileTime > 0 {
		out += fmt.Sprintf(", reconcile=%.1fs (%d%%)", s.ReconcileTime.Seconds(), pct(s.ReconcileTime))
	}
	return out + fmt.Sprintf(", rows=%d", s.Rows)
}

// TotalTime returns the combined time across all phases.
func (s Stats) TotalTime() time.Duration {
	return s.ExtractTime + s.DeliverTime + s.ReconcileTime
}

// RowsPerSecond returns the delivery throughput.
func (s Stats) RowsPerSecond() float64 {
	if s.DeliverTime == 0 {
		return 0
	}
	return float64(s.Rows) / s.DeliverTime.Seconds()
}
