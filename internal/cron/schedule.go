package cron

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Job is one maintenance task of the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	job   Job
	every time.Duration
	next  time.Time
}

// Schedule tracks when each job is next due. Every job is due on the first
// check after it is added.
type Schedule struct {
	mu      sync.Mutex
	entries []*entry
}

func NewSchedule() *Schedule {
	return &Schedule{}
}

// Every adds job with the given cadence. Names must be unique since they
// label metrics and logs.
func (s *Schedule) Every(every time.Duration, job Job) error {
	if job == nil {
		return fmt.Errorf("job required")
	}
	if every <= 0 {
		return fmt.Errorf("%s: interval must be positive", job.Name())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.job.Name() == job.Name() {
			return fmt.Errorf("%s: already scheduled", job.Name())
		}
	}
	s.entries = append(s.entries, &entry{job: job, every: every})
	return nil
}

// Due returns the jobs due at now, in the order they were added, and moves
// each one's next run forward by its interval.
func (s *Schedule) Due(now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		due = append(due, e.job)
		e.next = now.Add(e.every)
	}
	return due
}

// NextAt is the earliest time any job becomes due; zero when empty.
func (s *Schedule) NextAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	for _, e := range s.entries {
		if next.IsZero() || e.next.Before(next) {
			next = e.next
		}
	}
	return next
}

// Len is the number of scheduled jobs.
func (s *Schedule) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
