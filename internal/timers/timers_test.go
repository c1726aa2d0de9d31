package timers

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/confops/internal/localstate"
	"github.com/angelmondragon/confops/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }
func newFakeClock() *fakeClock               { return &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)} }

func newLocal(t *testing.T) *localstate.Store {
	t.Helper()
	st, err := localstate.New(localstate.NewMemory(), "page")
	require.NoError(t, err)
	return st
}

func newTestController(t *testing.T, clk *fakeClock, store realtime.Store, completions *int) *Controller {
	t.Helper()
	c, err := NewController(context.Background(), ControllerParams{
		ID:              "main-hall",
		Label:           "Speaker",
		DurationSeconds: 300,
		Store:           store,
		State:           newLocal(t),
		OnComplete:      func(State) { *completions++ },
		Now:             clk.Now,
	})
	require.NoError(t, err)
	return c
}

func TestControllerResumeAfterSuspensionCompletesOnce(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	completions := 0
	c := newTestController(t, clk, realtime.NewMemory(), &completions)

	require.NoError(t, c.Start(ctx))
	clk.Advance(310 * time.Second)

	assert.Equal(t, 0, c.Resume(ctx))
	assert.Equal(t, 1, completions)
	assert.Equal(t, 0, c.Resume(ctx))
	assert.Equal(t, 0, c.Tick(ctx))
	assert.Equal(t, 1, completions, "completion fires exactly once")

	s := c.Snapshot()
	assert.True(t, s.Completed)
	assert.False(t, s.Running)
}

func TestControllerRemainingFollowsWallClock(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	completions := 0
	c := newTestController(t, clk, realtime.NewMemory(), &completions)

	require.NoError(t, c.Start(ctx))
	clk.Advance(42 * time.Second)
	assert.Equal(t, 258, c.Tick(ctx), "single tick after a long gap uses elapsed wall time")
}

func TestControllerRebroadcastsEveryFiveTicks(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := realtime.NewMemory()
	completions := 0
	c := newTestController(t, clk, store, &completions)

	var got []Broadcast
	sub, err := store.Subscribe(ctx, "timers", func(evt realtime.Event) {
		var b Broadcast
		require.NoError(t, evt.Decode(&b))
		got = append(got, b)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, c.Start(ctx))
	require.Len(t, got, 1)

	for i := 0; i < 10; i++ {
		clk.Advance(time.Second)
		c.Tick(ctx)
	}
	require.Len(t, got, 3)
	assert.Equal(t, ActionStart, got[1].Action)
	assert.Equal(t, 295, got[1].TimeLeft)
	assert.Equal(t, 290, got[2].TimeLeft)
	assert.Equal(t, 300, got[2].InitialDuration)
}

func TestControllerPauseFreezesAndStartReanchors(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	completions := 0
	c := newTestController(t, clk, realtime.NewMemory(), &completions)

	require.NoError(t, c.Start(ctx))
	clk.Advance(100 * time.Second)
	require.NoError(t, c.Pause(ctx))
	clk.Advance(time.Hour)
	assert.Equal(t, 200, c.Remaining(clk.Now()))

	require.NoError(t, c.Start(ctx))
	clk.Advance(50 * time.Second)
	assert.Equal(t, 150, c.Remaining(clk.Now()))

	require.NoError(t, c.Reset(ctx))
	assert.Equal(t, 300, c.Remaining(clk.Now()))
	assert.Zero(t, completions)
}

func TestControllerSetDurationValidates(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	completions := 0
	c := newTestController(t, clk, realtime.NewMemory(), &completions)

	require.Error(t, c.SetDuration(ctx, 0))
	require.NoError(t, c.SetDuration(ctx, 60))
	s := c.Snapshot()
	assert.Equal(t, 60, s.InitialDurationSeconds)
	assert.Equal(t, 60, s.DurationSeconds)
	assert.False(t, s.Running)
}

func TestControllerRestoresPersistedState(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	local := newLocal(t)
	store := realtime.NewMemory()
	params := ControllerParams{ID: "main-hall", DurationSeconds: 300, Store: store, State: local, Now: clk.Now}

	first, err := NewController(ctx, params)
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))

	clk.Advance(30 * time.Second)
	second, err := NewController(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 270, second.Remaining(clk.Now()))
}

func TestFollowerAppliesBroadcasts(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	completions := 0
	f := NewFollower(ctx, "main-hall", newLocal(t), func(State) { completions++ }, nil, clk.Now)

	f.Apply(ctx, Broadcast{ID: "main-hall", Action: ActionStart, TimeLeft: 120, InitialDuration: 300})
	clk.Advance(20 * time.Second)
	assert.Equal(t, 100, f.Tick(ctx))

	f.Apply(ctx, Broadcast{ID: "main-hall", Action: ActionPause, TimeLeft: 95, InitialDuration: 300})
	clk.Advance(time.Minute)
	assert.Equal(t, 95, f.Tick(ctx))

	f.Apply(ctx, Broadcast{ID: "main-hall", Action: ActionStart, TimeLeft: 95, InitialDuration: 300})
	clk.Advance(200 * time.Second)
	assert.Equal(t, 0, f.Resume(ctx))
	assert.Equal(t, 0, f.Tick(ctx))
	assert.Equal(t, 1, completions)

	f.Apply(ctx, Broadcast{ID: "main-hall", Action: ActionReset, TimeLeft: 300, InitialDuration: 300})
	assert.Equal(t, 300, f.Remaining(clk.Now()))
	assert.False(t, f.Snapshot().Completed)
}

func TestRegistryFollowsRemoteTimersAndGuardsControl(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := realtime.NewMemory()

	controllerSide, err := NewRegistry(RegistryParams{Store: store, State: newLocal(t), Now: clk.Now})
	require.NoError(t, err)
	followerSide, err := NewRegistry(RegistryParams{Store: store, State: newLocal(t), Now: clk.Now})
	require.NoError(t, err)

	require.NoError(t, followerSide.Listen(ctx))
	defer followerSide.Close()
	require.NoError(t, controllerSide.Listen(ctx))
	defer controllerSide.Close()

	_, err = controllerSide.Control(ctx, "main-hall", "Speaker", 300)
	require.NoError(t, err)
	require.NoError(t, controllerSide.Start(ctx, "main-hall"))

	clk.Advance(10 * time.Second)
	remaining, ok := followerSide.Remaining("main-hall")
	require.True(t, ok)
	assert.Equal(t, 290, remaining)

	require.Error(t, followerSide.Pause(ctx, "main-hall"))
	require.Error(t, followerSide.Start(ctx, "unknown"))

	require.NoError(t, controllerSide.Pause(ctx, "main-hall"))
	clk.Advance(time.Minute)
	remaining, _ = followerSide.Remaining("main-hall")
	assert.Equal(t, 290, remaining)

	states := controllerSide.States()
	require.Len(t, states, 1)
	assert.True(t, states[0].Paused)
}

func TestRegistryResumeCompletesEverywhere(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := realtime.NewMemory()
	completed := map[string]int{}
	onComplete := func(s State) { completed[s.ID]++ }

	ctl, err := NewRegistry(RegistryParams{Store: store, State: newLocal(t), OnComplete: onComplete, Now: clk.Now})
	require.NoError(t, err)
	fol, err := NewRegistry(RegistryParams{Store: store, State: newLocal(t), OnComplete: onComplete, Now: clk.Now})
	require.NoError(t, err)
	require.NoError(t, fol.Listen(ctx))
	defer fol.Close()

	_, err = ctl.Control(ctx, "lobby", "", 300)
	require.NoError(t, err)
	require.NoError(t, ctl.Start(ctx, "lobby"))

	clk.Advance(310 * time.Second)
	ctl.Resume(ctx)
	fol.Resume(ctx)
	ctl.Tick(ctx)
	fol.Tick(ctx)
	assert.Equal(t, 2, completed["lobby"], "one completion per instance")
}

func TestFollowerReplayAnchorsAtSendTime(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := realtime.NewMemory()

	ctl, err := NewRegistry(RegistryParams{Store: store, State: newLocal(t), Now: clk.Now})
	require.NoError(t, err)
	_, err = ctl.Control(ctx, "main-hall", "Keynote", 300)
	require.NoError(t, err)
	require.NoError(t, ctl.Start(ctx, "main-hall"))

	clk.Advance(200 * time.Second)
	late, err := NewRegistry(RegistryParams{Store: store, State: newLocal(t), Now: clk.Now})
	require.NoError(t, err)
	require.NoError(t, late.Listen(ctx))
	defer late.Close()

	want, _ := ctl.Remaining("main-hall")
	got, ok := late.Remaining("main-hall")
	require.True(t, ok)
	assert.Equal(t, 100, want)
	assert.Equal(t, want, got)
}

func TestReloadedFollowerKeepsRestoredStateAndCompletesOnce(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := realtime.NewMemory()
	local := newLocal(t)
	completions := 0
	onComplete := func(State) { completions++ }

	ctl, err := NewRegistry(RegistryParams{Store: store, State: newLocal(t), Now: clk.Now})
	require.NoError(t, err)
	_, err = ctl.Control(ctx, "lobby", "", 300)
	require.NoError(t, err)
	require.NoError(t, ctl.Start(ctx, "lobby"))

	first, err := NewRegistry(RegistryParams{Store: store, State: local, OnComplete: onComplete, Now: clk.Now})
	require.NoError(t, err)
	require.NoError(t, first.Listen(ctx))
	clk.Advance(310 * time.Second)
	first.Tick(ctx)
	first.Close()
	require.Equal(t, 1, completions)

	clk.Advance(time.Minute)
	reloaded, err := NewRegistry(RegistryParams{Store: store, State: local, OnComplete: onComplete, Now: clk.Now})
	require.NoError(t, err)
	require.NoError(t, reloaded.Listen(ctx))
	defer reloaded.Close()
	reloaded.Tick(ctx)

	remaining, ok := reloaded.Remaining("lobby")
	require.True(t, ok)
	assert.Zero(t, remaining)
	assert.Equal(t, 1, completions, "replayed backlog must not complete the timer again")
	states := reloaded.States()
	require.Len(t, states, 1)
	assert.True(t, states[0].Completed)
}
