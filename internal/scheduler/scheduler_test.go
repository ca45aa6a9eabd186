package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/MoodPipe/internal/models"
	"github.com/BTreeMap/MoodPipe/internal/store"
	"github.com/BTreeMap/MoodPipe/internal/wellness"
)

func TestAddJobRejectsInvalidExpression(t *testing.T) {
	s := NewScheduler()
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if err := s.AddJob("*/5 * * * *", func() {}); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := s.AddJob("@hourly", func() {}); err != nil {
		t.Errorf("descriptor rejected: %v", err)
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"@hourly", false},
		{"@every 30m", false},
		{"0 3 * * *", false},
		{"0 0 3 * * *", true},
		{"", true},
	}
	for _, tt := range tests {
		if err := ValidateSchedule(tt.expr); (err != nil) != tt.wantErr {
			t.Errorf("ValidateSchedule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestSchedulerRunsJob(t *testing.T) {
	s := NewScheduler()
	var runs atomic.Int32
	if err := s.AddJob("@every 1s", func() { runs.Add(1) }); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	s.Start()
	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()
	if runs.Load() == 0 {
		t.Error("job never ran")
	}
}

func TestRetentionJob_PrunesOldHistory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore()
	for _, age := range []time.Duration{40 * 24 * time.Hour, 31 * 24 * time.Hour, 2 * 24 * time.Hour} {
		if err := st.AddUtterance(ctx, "u1", models.HistoricalUtterance{Text: "entry", Timestamp: now.Add(-age)}); err != nil {
			t.Fatalf("AddUtterance: %v", err)
		}
	}

	job := NewRetentionJob(st, DefaultRetention, WithRetentionClock(func() time.Time { return now }))
	removed, err := job.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	left, _ := st.RecentUtterances(ctx, "u1", now.Add(-365*24*time.Hour), 20)
	if len(left) != 1 {
		t.Errorf("expected 1 utterance left, got %d", len(left))
	}
}

func TestRetentionJob_NeverShorterThanLookback(t *testing.T) {
	job := NewRetentionJob(store.NewInMemoryStore(), time.Hour)
	if job.Retention() != wellness.DefaultLookback {
		t.Errorf("Retention() = %v, want %v", job.Retention(), wellness.DefaultLookback)
	}
}

type failingPruner struct{ calls int }

func (f *failingPruner) PruneUtterances(ctx context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	return 0, errors.New("database is locked")
}

func TestRetentionJob_RunLogsErrors(t *testing.T) {
	p := &failingPruner{}
	job := NewRetentionJob(p, DefaultRetention)
	job.Run()
	if p.calls != 1 {
		t.Errorf("expected one prune attempt, got %d", p.calls)
	}
	if _, err := job.RunOnce(context.Background()); err == nil {
		t.Error("expected RunOnce to return the prune error")
	}
}
