package timers

import (
	"context"
	"time"

	"github.com/angelmondragon/confops/internal/localstate"
	"github.com/angelmondragon/confops/pkg/logger"
)

// Follower renders a timer controlled elsewhere. It re-anchors on every
// broadcast and otherwise counts down from its own wall clock.
type Follower struct {
	*clock
	local *localstate.Store
	logg  *logger.Logger
	now   func() time.Time
}

func NewFollower(ctx context.Context, id string, local *localstate.Store, onComplete func(State), logg *logger.Logger, now func() time.Time) *Follower {
	if logg == nil {
		logg = logger.Nop()
	}
	if now == nil {
		now = time.Now
	}
	f := &Follower{clock: newClock(id, "", 0), local: local, logg: logg, now: now}
	f.onComplete = onComplete
	if err := restore(ctx, local, f.clock); err != nil {
		logg.Warn(logg.WithTimerID(ctx, id), "ignoring persisted follower state")
	}
	return f
}

// Apply adopts a broadcast from the authoritative instance. Start and pause
// are anchored at the broadcast's send time, so a replayed backlog yields the
// same remaining time the controller reports. Broadcasts already applied, or
// older than the last one applied, are skipped.
func (f *Follower) Apply(ctx context.Context, b Broadcast) {
	now := f.now()
	at := b.SentAt
	if at.IsZero() || at.After(now) {
		at = now
	}
	f.mu.Lock()
	if b.staleFor(f.state) {
		f.mu.Unlock()
		f.logg.Debug(f.logg.WithTimerID(ctx, b.ID), "skipping stale timer broadcast")
		return
	}
	if b.InitialDuration > 0 {
		f.state.InitialDurationSeconds = b.InitialDuration
	}
	if b.Label != "" {
		f.state.Label = b.Label
	}
	switch b.Action {
	case ActionStart:
		f.anchorLocked(at, b.TimeLeft)
	case ActionPause:
		f.pauseLocked(at, b.TimeLeft)
	case ActionReset:
		f.resetLocked()
	case ActionDuration:
		f.setDurationLocked(b.TimeLeft)
	default:
		f.mu.Unlock()
		f.logg.Warn(f.logg.WithTimerID(ctx, b.ID), "ignoring unknown timer action "+string(b.Action))
		return
	}
	if !b.SentAt.IsZero() {
		sent := b.SentAt
		f.state.SyncedAt = &sent
		f.state.SyncedAction = b.Action
	}
	_, fired := f.evaluateLocked(now)
	snapshot := f.state
	f.mu.Unlock()

	f.persist(ctx, snapshot)
	if fired {
		f.fire(snapshot)
	}
}

// Tick recomputes from the wall clock.
func (f *Follower) Tick(ctx context.Context) int {
	return f.evaluate(ctx)
}

// Resume recomputes after the host regained visibility.
func (f *Follower) Resume(ctx context.Context) int {
	return f.evaluate(ctx)
}

func (f *Follower) evaluate(ctx context.Context) int {
	now := f.now()
	f.mu.Lock()
	remaining, fired := f.evaluateLocked(now)
	snapshot := f.state
	f.mu.Unlock()
	if fired {
		f.persist(ctx, snapshot)
		f.fire(snapshot)
	}
	return remaining
}

func (f *Follower) fire(s State) {
	if f.onComplete != nil {
		f.onComplete(s)
	}
}

func (f *Follower) persist(ctx context.Context, s State) {
	if f.local == nil {
		return
	}
	if err := f.local.SaveJSON(ctx, stateKey(s.ID), s); err != nil {
		f.logg.Warn(f.logg.WithTimerID(ctx, s.ID), "persist follower state failed")
	}
}
