package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/MoodPipe/internal/wellness"
)

// Retention defaults.
const (
	DefaultRetention     = 30 * 24 * time.Hour
	DefaultPruneSchedule = "@hourly"
	DefaultPruneTimeout  = 30 * time.Second
)

// Pruner deletes old history. store.Store implements it.
type Pruner interface {
	PruneUtterances(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob deletes utterance history older than the retention window. The window
// never drops below the trend lookback, so pruning cannot change a trend result.
type RetentionJob struct {
	pruner    Pruner
	retention time.Duration
	timeout   time.Duration
	now       func() time.Time
}

// RetentionOption configures a RetentionJob.
type RetentionOption func(*RetentionJob)

// WithPruneTimeout bounds each prune.
func WithPruneTimeout(d time.Duration) RetentionOption {
	return func(j *RetentionJob) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// WithRetentionClock overrides time.Now.
func WithRetentionClock(now func() time.Time) RetentionOption {
	return func(j *RetentionJob) {
		if now != nil {
			j.now = now
		}
	}
}

// NewRetentionJob creates a RetentionJob keeping retention worth of history.
func NewRetentionJob(p Pruner, retention time.Duration, opts ...RetentionOption) *RetentionJob {
	if retention < wellness.DefaultLookback {
		slog.Warn("History retention shorter than trend lookback, raising it", "retention", retention, "lookback", wellness.DefaultLookback)
		retention = wellness.DefaultLookback
	}
	j := &RetentionJob{
		pruner:    p,
		retention: retention,
		timeout:   DefaultPruneTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Retention returns the effective retention window.
func (j *RetentionJob) Retention() time.Duration {
	return j.retention
}

// RunOnce prunes everything older than now minus the retention window.
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	cutoff := j.now().Add(-j.retention)
	n, err := j.pruner.PruneUtterances(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	slog.Info("RetentionJob: pruned utterance history", "removed", n, "cutoff", cutoff)
	return n, nil
}

// Run is the cron entry point. Errors are logged and retried on the next tick.
func (j *RetentionJob) Run() {
	if _, err := j.RunOnce(context.Background()); err != nil {
		slog.Error("RetentionJob: prune failed", "error", err)
	}
}
