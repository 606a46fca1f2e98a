package health

import (
	"context"
	"fmt"
	"time"

	"grimm.is/toggled/internal/scheduler"
	"grimm.is/toggled/internal/snapshot"
)

// SnapshotSource exposes the installed snapshot and its age.
type SnapshotSource interface {
	Current() *snapshot.Snapshot
	Age() time.Duration
}

// Snapshot reports unhealthy before the first successful read and
// degraded once the snapshot is older than maxAge.
func Snapshot(src SnapshotSource, maxAge time.Duration) CheckFunc {
	return func(ctx context.Context) Check {
		snap := src.Current()
		if snap.Seq() == 0 {
			return Check{Status: StatusUnhealthy, Message: "router not read yet"}
		}
		age := src.Age().Round(time.Second)
		if maxAge > 0 && age > maxAge {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("snapshot #%d is %s old", snap.Seq(), age)}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("snapshot #%d, %s old", snap.Seq(), age)}
	}
}

// Task reports degraded while the named scheduler task's last run failed.
func Task(s *scheduler.Scheduler, id string) CheckFunc {
	return func(ctx context.Context) Check {
		st, ok := s.GetTaskStatus(id)
		if !ok {
			return Check{Status: StatusUnhealthy, Message: "task " + id + " not registered"}
		}
		if st.LastError != "" {
			return Check{Status: StatusDegraded, Message: st.LastError}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d runs", st.RunCount)}
	}
}

// Counter is anything that can count its rows.
type Counter interface {
	Count() (int64, error)
}

// Store reports unhealthy when the store cannot be read.
func Store(c Counter) CheckFunc {
	return func(ctx context.Context) Check {
		n, err := c.Count()
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d entries", n)}
	}
}
