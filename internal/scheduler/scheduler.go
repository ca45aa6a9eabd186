// Package scheduler runs periodic maintenance jobs for MoodPipe.
//
// Jobs are registered with standard 5-field cron expressions (min, hour, dom, month,
// dow) or descriptors such as "@hourly" and "@every 30m".
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates a scheduler. Jobs do not run until Start is called.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Scheduler{cron: c}
}

// ValidateSchedule reports whether expr is a schedule AddJob would accept.
func ValidateSchedule(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(expr)
	return err
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return err
	}
	slog.Debug("Scheduler job added", "schedule", expr, "id", id)
	return nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
