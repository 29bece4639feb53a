// Package scheduler provides cron-based scheduling for ClauseFlow background
// jobs, such as the janitor pass that pauses stale documents.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler using the standard 5-field
// expression format (min, hour, dom, month, dow). Panicking jobs are recovered
// so one bad run cannot kill the scheduler.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression. It returns an
// error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return err
	}
	slog.Debug("Scheduler.AddJob: job scheduled", "expr", expr, "entryID", int(id))
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
