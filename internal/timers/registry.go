package timers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/angelmondragon/confops/internal/localstate"
	"github.com/angelmondragon/confops/internal/realtime"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

const defaultTickInterval = time.Second

// RegistryParams configure the timer registry of one page runtime.
type RegistryParams struct {
	Store            realtime.Store
	Collection       string
	State            *localstate.Store
	TickInterval     time.Duration
	RebroadcastEvery int
	OnComplete       func(State)
	Logger           *logger.Logger
	Now              func() time.Time
}

// Registry holds the controllers this instance is authoritative for and
// followers for every other timer seen on the collection.
type Registry struct {
	store            realtime.Store
	collection       string
	local            *localstate.Store
	tickInterval     time.Duration
	rebroadcastEvery int
	onComplete       func(State)
	logg             *logger.Logger
	now              func() time.Time

	mu          sync.RWMutex
	controllers map[string]*Controller
	followers   map[string]*Follower
	sub         realtime.Subscription
}

func NewRegistry(params RegistryParams) (*Registry, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("realtime store required")
	}
	r := &Registry{
		store:            params.Store,
		collection:       params.Collection,
		local:            params.State,
		tickInterval:     params.TickInterval,
		rebroadcastEvery: params.RebroadcastEvery,
		onComplete:       params.OnComplete,
		logg:             params.Logger,
		now:              params.Now,
		controllers:      make(map[string]*Controller),
		followers:        make(map[string]*Follower),
	}
	if r.collection == "" {
		r.collection = defaultCollection
	}
	if r.tickInterval <= 0 {
		r.tickInterval = defaultTickInterval
	}
	if r.logg == nil {
		r.logg = logger.Nop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Control makes this instance authoritative for id. Any follower for id is dropped.
func (r *Registry) Control(ctx context.Context, id, label string, seconds int) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[id]; ok {
		return c, nil
	}
	c, err := NewController(ctx, ControllerParams{
		ID:               id,
		Label:            label,
		DurationSeconds:  seconds,
		Store:            r.store,
		Collection:       r.collection,
		State:            r.local,
		RebroadcastEvery: r.rebroadcastEvery,
		OnComplete:       r.onComplete,
		Logger:           r.logg,
		Now:              r.now,
	})
	if err != nil {
		return nil, err
	}
	delete(r.followers, id)
	r.controllers[id] = c
	return c, nil
}

func (r *Registry) controller(id string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[id]
	if !ok {
		if _, following := r.followers[id]; following {
			return nil, errors.New(errors.CodeForbidden, "timer "+id+" is controlled by another instance")
		}
		return nil, errors.New(errors.CodeNotFound, "timer "+id+" not found")
	}
	return c, nil
}

func (r *Registry) Start(ctx context.Context, id string) error {
	c, err := r.controller(id)
	if err != nil {
		return err
	}
	return c.Start(ctx)
}

func (r *Registry) Pause(ctx context.Context, id string) error {
	c, err := r.controller(id)
	if err != nil {
		return err
	}
	return c.Pause(ctx)
}

func (r *Registry) Reset(ctx context.Context, id string) error {
	c, err := r.controller(id)
	if err != nil {
		return err
	}
	return c.Reset(ctx)
}

func (r *Registry) SetDuration(ctx context.Context, id string, seconds int) error {
	c, err := r.controller(id)
	if err != nil {
		return err
	}
	return c.SetDuration(ctx, seconds)
}

// Remaining returns the time left of any known timer.
func (r *Registry) Remaining(id string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	if c, ok := r.controllers[id]; ok {
		return c.Remaining(now), true
	}
	if f, ok := r.followers[id]; ok {
		return f.Remaining(now), true
	}
	return 0, false
}

// States returns snapshots of every known timer sorted by id.
func (r *Registry) States() []State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]State, 0, len(r.controllers)+len(r.followers))
	for _, c := range r.controllers {
		out = append(out, c.Snapshot())
	}
	for _, f := range r.followers {
		out = append(out, f.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Listen subscribes to broadcasts. Broadcasts for locally controlled timers are ignored.
func (r *Registry) Listen(ctx context.Context) error {
	r.mu.Lock()
	if r.sub != nil {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	listenCtx := context.WithoutCancel(ctx)
	sub, err := r.store.Subscribe(ctx, r.collection, func(evt realtime.Event) {
		var b Broadcast
		if err := evt.Decode(&b); err != nil {
			r.logg.Warn(listenCtx, fmt.Sprintf("skipping undecodable timer broadcast %s: %v", evt.ID, err))
			return
		}
		if b.ID == "" {
			b.ID = evt.ID
		}
		r.apply(listenCtx, b)
	})
	if err != nil {
		return errors.Wrap(errors.CodeSubscriptionDropped, err, "subscribe to timers")
	}
	r.mu.Lock()
	if r.sub != nil {
		r.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	r.sub = sub
	r.mu.Unlock()
	return nil
}

func (r *Registry) apply(ctx context.Context, b Broadcast) {
	r.mu.Lock()
	if _, controlled := r.controllers[b.ID]; controlled {
		r.mu.Unlock()
		return
	}
	f, ok := r.followers[b.ID]
	if !ok {
		f = NewFollower(ctx, b.ID, r.local, r.onComplete, r.logg, r.now)
		r.followers[b.ID] = f
	}
	r.mu.Unlock()
	f.Apply(ctx, b)
}

// Tick advances every timer once.
func (r *Registry) Tick(ctx context.Context) {
	for _, c := range r.snapshotControllers() {
		c.Tick(ctx)
	}
	for _, f := range r.snapshotFollowers() {
		f.Tick(ctx)
	}
}

// Resume recomputes every timer after the host regained visibility.
func (r *Registry) Resume(ctx context.Context) {
	for _, c := range r.snapshotControllers() {
		c.Resume(ctx)
	}
	for _, f := range r.snapshotFollowers() {
		f.Resume(ctx)
	}
}

// Run ticks until ctx is canceled.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Close detaches the broadcast subscription.
func (r *Registry) Close() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (r *Registry) snapshotControllers() []*Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c)
	}
	return out
}

func (r *Registry) snapshotFollowers() []*Follower {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Follower, 0, len(r.followers))
	for _, f := range r.followers {
		out = append(out, f)
	}
	return out
}
