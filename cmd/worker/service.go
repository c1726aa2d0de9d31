package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/confops/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

// dependency is a client the worker refuses to start without.
type dependency struct {
	name string
	p    pinger
}

// host runs the dispatch consumer next to the metrics listener once every
// dependency answers a ping. Either side failing stops both.
type host struct {
	logg     *logger.Logger
	deps     []dependency
	consumer runner
	serve    func(ctx context.Context) error
}

func newHost(logg *logger.Logger, consumer runner, serve func(context.Context) error, deps ...dependency) (*host, error) {
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if consumer == nil {
		return nil, errors.New("dispatch consumer is required")
	}
	for _, d := range deps {
		if d.p == nil {
			return nil, fmt.Errorf("%s client is required", d.name)
		}
	}
	if serve == nil {
		serve = func(context.Context) error { return nil }
	}
	return &host{logg: logg, deps: deps, consumer: consumer, serve: serve}, nil
}

func (h *host) ready(ctx context.Context) error {
	for _, d := range h.deps {
		if err := d.p.Ping(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", d.name, err)
		}
	}
	h.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (h *host) Run(ctx context.Context) error {
	if err := h.ready(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.consumer.Run(gctx) })
	g.Go(func() error { return h.serve(gctx) })
	return g.Wait()
}
