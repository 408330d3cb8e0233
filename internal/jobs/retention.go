package jobs

import (
	"context"
	"time"
)

// Pruner deletes rows created before cutoff.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionTask prunes everything older than retention on each run.
func RetentionTask(p Pruner, retention time.Duration) CleanupFunc {
	return func(ctx context.Context) (int64, error) {
		return p.DeleteOlderThan(ctx, time.Now().Add(-retention))
	}
}
