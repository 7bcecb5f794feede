package app

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the periodic maintenance tasks: state snapshots and
// snapshot retention.
type Scheduler struct {
	Cron *cron.Cron
	boot *Bootstrap
}

// NewScheduler creates a scheduler over the bootstrapped system.
func NewScheduler(boot *Bootstrap) *Scheduler {
	return &Scheduler{
		Cron: cron.New(cron.WithSeconds()),
		boot: boot,
	}
}

// RegisterAll registers the snapshot task on the configured schedule.
func (s *Scheduler) RegisterAll() error {
	spec := s.boot.Config.Storage.SnapshotCron
	if _, err := s.Cron.AddFunc(spec, s.snapshotTask); err != nil {
		return fmt.Errorf("register snapshot task: %w", err)
	}
	return nil
}

// Start begins running registered tasks.
func (s *Scheduler) Start() {
	s.Cron.Start()
}

// Stop halts the scheduler, waiting for a running task to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
}

func (s *Scheduler) snapshotTask() {
	if err := s.boot.TakeSnapshot(); err != nil {
		slog.Error("Snapshot task failed", slog.Any("error", err))
		return
	}
	slog.Debug("Snapshot task completed", slog.Uint64("seq", s.boot.Engine.AppliedCount()))
}
