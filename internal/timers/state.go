// Package timers keeps countdown timers in sync across instances. Remaining
// time is always derived from a wall-clock anchor, never from tick counts, so
// a suspended host catches up on its next evaluation.
package timers

import (
	"sync"
	"time"
)

// Action is the broadcast verb.
type Action string

const (
	ActionStart    Action = "start"
	ActionPause    Action = "pause"
	ActionReset    Action = "reset"
	ActionDuration Action = "duration"
)

// State is the persisted timer state.
type State struct {
	ID                     string     `json:"id"`
	Label                  string     `json:"label"`
	DurationSeconds        int        `json:"durationSeconds"`
	InitialDurationSeconds int        `json:"initialDurationSeconds"`
	Running                bool       `json:"running"`
	Paused                 bool       `json:"paused"`
	StartedAt              *time.Time `json:"startedAtWallClock,omitempty"`
	PausedAt               *time.Time `json:"pausedAtWallClock,omitempty"`
	Completed              bool       `json:"completed"`
	SyncedAt               *time.Time `json:"syncedAt,omitempty"`
	SyncedAction           Action     `json:"syncedAction,omitempty"`
}

// Broadcast is what the authoritative instance writes for followers.
type Broadcast struct {
	ID              string    `json:"id"`
	Action          Action    `json:"action"`
	TimeLeft        int       `json:"timeLeft"`
	InitialDuration int       `json:"initialDuration"`
	Label           string    `json:"label,omitempty"`
	SentAt          time.Time `json:"sentAt"`
}

// staleFor reports whether b was already applied to s or predates it.
func (b Broadcast) staleFor(s State) bool {
	if s.SyncedAt == nil || b.SentAt.IsZero() {
		return false
	}
	if b.SentAt.Before(*s.SyncedAt) {
		return true
	}
	return b.SentAt.Equal(*s.SyncedAt) && b.Action == s.SyncedAction
}

// clock is the shared wall-clock core of controllers and followers.
type clock struct {
	mu         sync.Mutex
	state      State
	onComplete func(State)
}

func newClock(id, label string, seconds int) *clock {
	return &clock{state: State{
		ID:                     id,
		Label:                  label,
		DurationSeconds:        seconds,
		InitialDurationSeconds: seconds,
	}}
}

// remainingLocked = max(0, initial - (now - startedAt)) while running and not paused.
func (c *clock) remainingLocked(now time.Time) int {
	s := c.state
	if !s.Running || s.Paused || s.StartedAt == nil {
		return s.DurationSeconds
	}
	elapsed := int(now.Sub(*s.StartedAt) / time.Second)
	remaining := s.InitialDurationSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *clock) Remaining(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked(now)
}

func (c *clock) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// anchorLocked starts counting from timeLeft at now.
func (c *clock) anchorLocked(now time.Time, timeLeft int) {
	if timeLeft > c.state.InitialDurationSeconds {
		c.state.InitialDurationSeconds = timeLeft
	}
	started := now.Add(-time.Duration(c.state.InitialDurationSeconds-timeLeft) * time.Second)
	c.state.StartedAt = &started
	c.state.PausedAt = nil
	c.state.Running = true
	c.state.Paused = false
	c.state.Completed = false
	c.state.DurationSeconds = timeLeft
}

func (c *clock) pauseLocked(now time.Time, timeLeft int) {
	paused := now
	c.state.DurationSeconds = timeLeft
	c.state.Running = true
	c.state.Paused = true
	c.state.PausedAt = &paused
}

func (c *clock) resetLocked() {
	c.state.DurationSeconds = c.state.InitialDurationSeconds
	c.state.Running = false
	c.state.Paused = false
	c.state.StartedAt = nil
	c.state.PausedAt = nil
	c.state.Completed = false
}

func (c *clock) setDurationLocked(seconds int) {
	c.state.InitialDurationSeconds = seconds
	c.resetLocked()
}

// evaluateLocked fires completion exactly once when remaining reaches zero.
// It returns the state to report and whether completion fired.
func (c *clock) evaluateLocked(now time.Time) (int, bool) {
	remaining := c.remainingLocked(now)
	if !c.state.Running || c.state.Paused || c.state.Completed || remaining > 0 {
		return remaining, false
	}
	c.state.Completed = true
	c.state.Running = false
	c.state.DurationSeconds = 0
	c.state.StartedAt = nil
	return 0, true
}
