package permission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/redis"
)

const (
	defaultLockTTL  = 30 * time.Second
	defaultLockPoll = 100 * time.Millisecond
)

// LockStore is the subset of *redis.Client the registration lock needs.
type LockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
}

// RegistrationLock serializes forced agent re-registration per origin, so a
// second tab cannot register while the first is unregistering everything.
// Without a Store it only covers the current process.
type RegistrationLock struct {
	store LockStore
	ttl   time.Duration
	poll  time.Duration
	logg  *logger.Logger

	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewRegistrationLock(store LockStore, ttl time.Duration, logg *logger.Logger) *RegistrationLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &RegistrationLock{
		store: store,
		ttl:   ttl,
		poll:  defaultLockPoll,
		logg:  logg,
		slots: make(map[string]chan struct{}),
	}
}

// Acquire blocks until origin is owned by the caller or ctx ends. The
// returned release func must be called exactly once.
func (l *RegistrationLock) Acquire(ctx context.Context, origin string) (func(), error) {
	slot := l.slot(origin)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if l.store == nil {
		return func() { <-slot }, nil
	}

	lock, err := redis.NewLock(l.store, l.store.LockKey("agent-registration:"+origin), l.ttl)
	if err != nil {
		<-slot
		return nil, err
	}
	if err := lock.AcquireWait(ctx, l.poll); err != nil {
		<-slot
		return nil, fmt.Errorf("acquire registration lock: %w", err)
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			l.logg.Warn(l.logg.WithOrigin(ctx, origin), fmt.Sprintf("release registration lock: %v", err))
		}
		<-slot
	}, nil
}

func (l *RegistrationLock) slot(origin string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[origin]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[origin] = ch
	}
	return ch
}
