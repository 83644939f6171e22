/**
 * @description
 * Cron scheduler setup for the payout jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron                *cron.Cron
	jobs                *Jobs
	logger              *slog.Logger
	eligibilitySchedule string
	removalSchedule     string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, eligibilitySchedule, removalSchedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:                c,
		jobs:                jobs,
		logger:              logger,
		eligibilitySchedule: eligibilitySchedule,
		removalSchedule:     removalSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.eligibilitySchedule, s.jobs.RunEligibilityCheck); err != nil {
		s.logger.Error("failed to schedule eligibility job", "error", err)
		return err
	}
	s.logger.Info("scheduled eligibility job", "schedule", s.eligibilitySchedule)

	if _, err := s.cron.AddFunc(s.removalSchedule, s.jobs.ProcessDueRemovals); err != nil {
		s.logger.Error("failed to schedule membership removal job", "error", err)
		return err
	}
	s.logger.Info("scheduled membership removal job", "schedule", s.removalSchedule)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
