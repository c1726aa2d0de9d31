// Package deferred queues notifications that cannot be rendered reliably on
// the current platform and replays them when the page becomes visible.
package deferred

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/confops/internal/localstate"
	"github.com/angelmondragon/confops/internal/notify"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	stateKey          = "deferred_notifications"
	defaultCapacity   = 20
	defaultFlushLimit = 3
)

// Notification is one queued entry. Once Shown it is never rendered again.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Shown     bool      `json:"shown"`
}

// StoreParams configure the deferred store.
type StoreParams struct {
	State      *localstate.Store
	Toaster    notify.Toaster
	Audio      notify.AudioPlayer
	Logger     *logger.Logger
	Capacity   int
	FlushLimit int
	SoundSrc   string
	Now        func() time.Time
}

// Store is a bounded ring buffer persisted through localstate.
type Store struct {
	mu         sync.Mutex
	state      *localstate.Store
	toaster    notify.Toaster
	audio      notify.AudioPlayer
	logg       *logger.Logger
	capacity   int
	flushLimit int
	soundSrc   string
	now        func() time.Time
}

func NewStore(params StoreParams) (*Store, error) {
	if params.State == nil {
		return nil, fmt.Errorf("local state required")
	}
	if params.Toaster == nil {
		return nil, fmt.Errorf("toaster required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	capacity := params.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	flushLimit := params.FlushLimit
	if flushLimit <= 0 {
		flushLimit = defaultFlushLimit
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		state:      params.State,
		toaster:    params.Toaster,
		audio:      params.Audio,
		logg:       logg,
		capacity:   capacity,
		flushLimit: flushLimit,
		soundSrc:   params.SoundSrc,
		now:        now,
	}, nil
}

// Store appends a notification, evicting the oldest entries past capacity.
func (s *Store) Store(ctx context.Context, title, body, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	entry := Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		URL:       url,
		CreatedAt: s.now().UTC(),
	}
	entries = append(entries, entry)
	if overflow := len(entries) - s.capacity; overflow > 0 {
		entries = append([]Notification(nil), entries[overflow:]...)
	}
	if err := s.state.SaveJSON(ctx, stateKey, entries); err != nil {
		return "", err
	}
	s.logg.Debug(s.logg.WithField(ctx, "deferred_id", entry.ID), "notification deferred")
	return entry.ID, nil
}

// FlushPending shows up to FlushLimit oldest unshown entries as toasts and
// plays a single audio cue when anything was shown. Entries are marked shown
// and persisted before rendering so repeated calls never replay them.
func (s *Store) FlushPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	batch := make([]Notification, 0, s.flushLimit)
	for i := range entries {
		if len(batch) == s.flushLimit {
			break
		}
		if entries[i].Shown {
			continue
		}
		entries[i].Shown = true
		batch = append(batch, entries[i])
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := s.state.SaveJSON(ctx, stateKey, entries); err != nil {
		return 0, err
	}

	var renderErr error
	for _, entry := range batch {
		toast := notify.Toast{Title: entry.Title, Body: entry.Body, URL: entry.URL}
		if err := s.toaster.Toast(ctx, toast); err != nil {
			renderErr = multierr.Append(renderErr, fmt.Errorf("toast %s: %w", entry.ID, err))
		}
	}
	notify.PlayCue(ctx, s.audio, s.soundSrc, s.logg)
	s.logg.Info(s.logg.WithField(ctx, "count", len(batch)), "deferred notifications flushed")
	return len(batch), renderErr
}

// Pending returns a snapshot of the buffer, oldest first.
func (s *Store) Pending(ctx context.Context) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) ([]Notification, error) {
	var entries []Notification
	if _, err := s.state.LoadJSON(ctx, stateKey, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
