// Package scheduler enqueues the recurring pipeline jobs on cron schedules.
// All expressions run in UTC, and each trigger carries a window-scoped
// idempotency key so overlapping scheduler instances enqueue at most once.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/config"
	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/queue"
)

// Scheduler owns the cron runner.
type Scheduler struct {
	cron   *cron.Cron
	queue  queue.Provider
	clock  directory.Clock
	logger *zap.Logger
}

// New wires the recurring jobs from the schedule config.
func New(cfg config.ScheduleConfig, q queue.Provider, clk directory.Clock, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		queue:  q,
		clock:  clk,
		logger: logger,
	}

	entries := []struct {
		expr    string
		jobType string
		key     func(now time.Time) string
	}{
		{cfg.DiscoveryWave, queue.TypeDiscoveryWave, hourlyKey("discovery-wave")},
		{cfg.RefreshApproved, queue.TypeRefreshApproved, dailyKey("refresh-approved")},
		{cfg.QualitySweep, queue.TypeQualitySweep, dailyKey("quality-sweep")},
		{cfg.RefreshSummary, queue.TypeRefreshSummary, dailyKey("refresh-summary")},
		{cfg.ScrubRetention, queue.TypeScrubRetention, dailyKey("scrub-retention")},
	}

	for _, e := range entries {
		e := e
		if _, err := s.cron.AddFunc(e.expr, func() {
			s.trigger(e.jobType, e.key(s.clock.Now().UTC()))
		}); err != nil {
			return nil, fmt.Errorf("register schedule %s (%q): %w", e.jobType, e.expr, err)
		}
	}

	return s, nil
}

func (s *Scheduler) trigger(jobType, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inserted, err := s.queue.Enqueue(ctx, jobType, key, nil)
	if err != nil {
		s.logger.Error("enqueue scheduled job",
			zap.String("job_type", jobType),
			zap.String("key", key),
			zap.Error(err))
		return
	}
	if !inserted {
		s.logger.Debug("scheduled job already enqueued",
			zap.String("job_type", jobType),
			zap.String("key", key))
		return
	}
	s.logger.Info("scheduled job enqueued",
		zap.String("job_type", jobType),
		zap.String("key", key))
}

// Start begins running schedules in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron runner and waits for in-flight triggers.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func hourlyKey(prefix string) func(time.Time) string {
	return func(now time.Time) string {
		return fmt.Sprintf("%s-%s-h%02d", prefix, now.Format("20060102"), now.Hour())
	}
}

func dailyKey(prefix string) func(time.Time) string {
	return func(now time.Time) string {
		return fmt.Sprintf("%s-%s", prefix, now.Format("20060102"))
	}
}
