package timers

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/confops/internal/localstate"
	"github.com/angelmondragon/confops/internal/realtime"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

const (
	defaultCollection       = "timers"
	defaultRebroadcastEvery = 5
)

// ControllerParams configure the authoritative instance of one timer.
type ControllerParams struct {
	ID               string
	Label            string
	DurationSeconds  int
	Store            realtime.Store
	Collection       string
	State            *localstate.Store
	RebroadcastEvery int
	OnComplete       func(State)
	Logger           *logger.Logger
	Now              func() time.Time
}

// Controller advances one timer and rebroadcasts its state every few ticks.
type Controller struct {
	*clock
	store            realtime.Store
	collection       string
	local            *localstate.Store
	rebroadcastEvery int
	logg             *logger.Logger
	now              func() time.Time
	ticks            int
}

func NewController(ctx context.Context, params ControllerParams) (*Controller, error) {
	if params.ID == "" {
		return nil, fmt.Errorf("timer id required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("realtime store required")
	}
	if params.DurationSeconds < 0 {
		return nil, fmt.Errorf("duration must not be negative")
	}
	c := &Controller{
		clock:            newClock(params.ID, params.Label, params.DurationSeconds),
		store:            params.Store,
		collection:       params.Collection,
		local:            params.State,
		rebroadcastEvery: params.RebroadcastEvery,
		logg:             params.Logger,
		now:              params.Now,
	}
	c.onComplete = params.OnComplete
	if c.collection == "" {
		c.collection = defaultCollection
	}
	if c.rebroadcastEvery <= 0 {
		c.rebroadcastEvery = defaultRebroadcastEvery
	}
	if c.logg == nil {
		c.logg = logger.Nop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if err := restore(ctx, c.local, c.clock); err != nil {
		c.logg.Warn(c.logg.WithTimerID(ctx, params.ID), fmt.Sprintf("ignoring persisted timer state: %v", err))
	}
	return c, nil
}

// Start runs the timer from its current time left. A completed timer restarts
// from its initial duration.
func (c *Controller) Start(ctx context.Context) error {
	now := c.now()
	c.mu.Lock()
	if c.state.Running && !c.state.Paused {
		c.mu.Unlock()
		return nil
	}
	if c.state.Completed || c.state.DurationSeconds <= 0 {
		c.resetLocked()
	}
	if c.state.DurationSeconds <= 0 {
		c.mu.Unlock()
		return errors.New(errors.CodeValidation, "timer has no duration")
	}
	c.anchorLocked(now, c.state.DurationSeconds)
	c.ticks = 0
	b := c.broadcastLocked(ActionStart, c.state.DurationSeconds, now)
	snapshot := c.state
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	c.publish(ctx, b)
	return nil
}

// Pause freezes the time left. Elapsed updates stop until the next Start.
func (c *Controller) Pause(ctx context.Context) error {
	now := c.now()
	c.mu.Lock()
	if !c.state.Running || c.state.Paused {
		c.mu.Unlock()
		return nil
	}
	remaining := c.remainingLocked(now)
	c.pauseLocked(now, remaining)
	b := c.broadcastLocked(ActionPause, remaining, now)
	snapshot := c.state
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	c.publish(ctx, b)
	return nil
}

// Reset clears the timer to its initial duration everywhere.
func (c *Controller) Reset(ctx context.Context) error {
	now := c.now()
	c.mu.Lock()
	c.resetLocked()
	b := c.broadcastLocked(ActionReset, c.state.InitialDurationSeconds, now)
	snapshot := c.state
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	c.publish(ctx, b)
	return nil
}

// SetDuration changes the initial duration and resets the timer.
func (c *Controller) SetDuration(ctx context.Context, seconds int) error {
	if seconds <= 0 {
		return errors.New(errors.CodeValidation, "duration must be positive")
	}
	now := c.now()
	c.mu.Lock()
	c.setDurationLocked(seconds)
	b := c.broadcastLocked(ActionDuration, seconds, now)
	snapshot := c.state
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	c.publish(ctx, b)
	return nil
}

// Tick is the periodic callback. It rebroadcasts every RebroadcastEvery ticks.
func (c *Controller) Tick(ctx context.Context) int {
	now := c.now()
	c.mu.Lock()
	c.ticks++
	remaining, fired := c.evaluateLocked(now)
	var b *Broadcast
	if !fired && c.state.Running && !c.state.Paused && c.ticks%c.rebroadcastEvery == 0 {
		msg := c.broadcastLocked(ActionStart, remaining, now)
		b = &msg
	}
	snapshot := c.state
	c.mu.Unlock()

	if fired {
		c.complete(ctx, snapshot)
	}
	if b != nil {
		c.publish(ctx, *b)
	}
	return remaining
}

// Resume recomputes after the host was suspended and re-anchors followers.
func (c *Controller) Resume(ctx context.Context) int {
	now := c.now()
	c.mu.Lock()
	remaining, fired := c.evaluateLocked(now)
	var b *Broadcast
	if !fired && c.state.Running && !c.state.Paused {
		msg := c.broadcastLocked(ActionStart, remaining, now)
		b = &msg
	}
	snapshot := c.state
	c.mu.Unlock()

	if fired {
		c.complete(ctx, snapshot)
	}
	if b != nil {
		c.publish(ctx, *b)
	}
	return remaining
}

func (c *Controller) complete(ctx context.Context, snapshot State) {
	c.persist(ctx, snapshot)
	c.logg.Info(c.logg.WithTimerID(ctx, snapshot.ID), "timer completed")
	if c.onComplete != nil {
		c.onComplete(snapshot)
	}
}

func (c *Controller) broadcastLocked(action Action, timeLeft int, now time.Time) Broadcast {
	return Broadcast{
		ID:              c.state.ID,
		Action:          action,
		TimeLeft:        timeLeft,
		InitialDuration: c.state.InitialDurationSeconds,
		Label:           c.state.Label,
		SentAt:          now.UTC(),
	}
}

func (c *Controller) publish(ctx context.Context, b Broadcast) {
	if !c.store.Write(ctx, realtime.Join(c.collection, b.ID), b) {
		c.logg.Warn(c.logg.WithTimerID(ctx, b.ID), fmt.Sprintf("timer broadcast %s not written", b.Action))
	}
}

func (c *Controller) persist(ctx context.Context, s State) {
	if c.local == nil {
		return
	}
	if err := c.local.SaveJSON(ctx, stateKey(s.ID), s); err != nil {
		c.logg.Warn(c.logg.WithTimerID(ctx, s.ID), fmt.Sprintf("persist timer state: %v", err))
	}
}

func stateKey(id string) string {
	return "timer:" + id
}

func restore(ctx context.Context, local *localstate.Store, c *clock) error {
	if local == nil {
		return nil
	}
	var saved State
	found, err := local.LoadJSON(ctx, stateKey(c.state.ID), &saved)
	if err != nil || !found {
		return err
	}
	if saved.ID != c.state.ID {
		return fmt.Errorf("persisted state belongs to %q", saved.ID)
	}
	c.mu.Lock()
	c.state = saved
	c.mu.Unlock()
	return nil
}
