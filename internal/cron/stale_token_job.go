package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/confops/pkg/logger"
)

const defaultStaleTokenAge = 60 * 24 * time.Hour

type staleTokenSweeper interface {
	SweepStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

// StaleTokenJobParams wires the device-token sweep.
type StaleTokenJobParams struct {
	Logger  *logger.Logger
	Tokens  staleTokenSweeper
	MaxAge  time.Duration
	Metrics tokenPruneCounter
}

type tokenPruneCounter interface {
	AddTokensPruned(n int)
}

// NewStaleTokenJob removes device tokens that have not been refreshed within
// MaxAge. Browsers re-register on every page load, so a silent token belongs
// to an uninstalled or long-closed client.
func NewStaleTokenJob(params StaleTokenJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("device token service required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultStaleTokenAge
	}
	return &staleTokenJob{
		logg:    params.Logger,
		tokens:  params.Tokens,
		maxAge:  maxAge,
		metrics: params.Metrics,
	}, nil
}

type staleTokenJob struct {
	logg    *logger.Logger
	tokens  staleTokenSweeper
	maxAge  time.Duration
	metrics tokenPruneCounter
}

func (j *staleTokenJob) Name() string { return "device-token-sweep" }

func (j *staleTokenJob) Run(ctx context.Context) error {
	removed, err := j.tokens.SweepStale(ctx, j.maxAge)
	if err != nil {
		return fmt.Errorf("sweep stale tokens: %w", err)
	}
	if j.metrics != nil {
		j.metrics.AddTokensPruned(int(removed))
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"max_age":        j.maxAge.String(),
		"tokens_removed": removed,
	}), "stale device tokens swept")
	return nil
}
