package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedJob struct {
	name string
	runs int
	err  error
	wait bool
}

func (j *namedJob) Name() string { return j.name }

func (j *namedJob) Run(ctx context.Context) error {
	j.runs++
	if j.wait {
		<-ctx.Done()
		return ctx.Err()
	}
	return j.err
}

func TestScheduleRunsEachJobOnItsOwnCadence(t *testing.T) {
	s := NewSchedule()
	hourly := &namedJob{name: "outbox-retention"}
	daily := &namedJob{name: "alert-retention"}
	require.NoError(t, s.Every(time.Hour, hourly))
	require.NoError(t, s.Every(24*time.Hour, daily))

	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, []Job{hourly, daily}, s.Due(start))
	assert.Empty(t, s.Due(start.Add(time.Minute)))
	assert.Equal(t, start.Add(time.Hour), s.NextAt())

	assert.Equal(t, []Job{hourly}, s.Due(start.Add(time.Hour)))
	assert.Equal(t, []Job{hourly, daily}, s.Due(start.Add(24*time.Hour)))
}

func TestScheduleRejectsBadEntries(t *testing.T) {
	s := NewSchedule()
	require.Error(t, s.Every(time.Hour, nil))
	require.Error(t, s.Every(0, &namedJob{name: "a"}))
	require.NoError(t, s.Every(time.Hour, &namedJob{name: "a"}))
	require.Error(t, s.Every(time.Minute, &namedJob{name: "a"}))
	assert.Equal(t, 1, s.Len())
	assert.True(t, NewSchedule().NextAt().IsZero())
}
