package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/confops/pkg/logger"
)

const alertRetentionDays = 90

type alertPurger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// AlertRetentionJobParams wires the job that trims the alert feed.
type AlertRetentionJobParams struct {
	Logger        *logger.Logger
	Alerts        alertPurger
	RetentionDays int
}

// NewAlertRetentionJob deletes alerts older than the retention window.
func NewAlertRetentionJob(params AlertRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Alerts == nil {
		return nil, fmt.Errorf("alert service required")
	}
	days := params.RetentionDays
	if days <= 0 {
		days = alertRetentionDays
	}
	return &alertRetentionJob{
		logg:      params.Logger,
		alerts:    params.Alerts,
		retention: time.Duration(days) * 24 * time.Hour,
	}, nil
}

type alertRetentionJob struct {
	logg      *logger.Logger
	alerts    alertPurger
	retention time.Duration
}

func (j *alertRetentionJob) Name() string { return "alert-retention" }

func (j *alertRetentionJob) Run(ctx context.Context) error {
	deleted, err := j.alerts.Purge(ctx, j.retention)
	if err != nil {
		return fmt.Errorf("alert retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"retention_hours": int(j.retention.Hours()),
		"rows_deleted":    deleted,
	}), "alert feed trimmed")
	return nil
}
