// Package cron runs the maintenance jobs of the notification backend: outbox
// retention, alert retention and the stale device-token sweep.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/metrics"
)

const (
	minWait           = time.Second
	defaultJobTimeout = 5 * time.Minute
)

type ServiceParams struct {
	Logger     *logger.Logger
	Schedule   *Schedule
	Lock       Lock
	Metrics    *metrics.CronJobMetrics
	JobTimeout time.Duration
	Now        func() time.Time
}

// Service runs due jobs while holding the cluster-wide lock. A replica that
// loses the lock race treats the due jobs as done by the winner.
type Service struct {
	logg       *logger.Logger
	schedule   *Schedule
	lock       Lock
	metrics    *metrics.CronJobMetrics
	jobTimeout time.Duration
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	if params.Schedule == nil || params.Schedule.Len() == 0 {
		return nil, fmt.Errorf("at least one scheduled job required")
	}
	timeout := params.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:       params.Logger,
		schedule:   params.Schedule,
		lock:       params.Lock,
		metrics:    params.Metrics,
		jobTimeout: timeout,
		now:        now,
	}, nil
}

// Run sleeps until the next job is due and runs it, until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if err := s.runDue(ctx); err != nil {
			s.logg.Error(ctx, "maintenance cycle failed", err)
		}
		wait := s.schedule.NextAt().Sub(s.now())
		if wait < minWait {
			wait = minWait
		}
		timer.Reset(wait)
	}
}

func (s *Service) runDue(ctx context.Context) error {
	due := s.schedule.Due(s.now())
	if len(due) == 0 {
		return nil
	}

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		for _, job := range due {
			s.metrics.IncSkipped(job.Name())
		}
		s.logg.Info(s.logg.WithField(ctx, "jobs", len(due)), "maintenance held by another replica")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	for _, job := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.runJob(ctx, job)
	}
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx, cancel := context.WithTimeout(s.logg.WithField(ctx, "job", job.Name()), s.jobTimeout)
	defer cancel()

	start := s.now()
	err := job.Run(jobCtx)
	elapsed := s.now().Sub(start)
	s.metrics.ObserveRun(job.Name(), elapsed, err == nil, s.now())

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}
