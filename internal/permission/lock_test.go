package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/confops/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLockStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = value.(string)
	return true, nil
}

func (s *memoryLockStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (s *memoryLockStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *memoryLockStore) LockKey(name string) string { return "confops:lock:" + name }

func (s *memoryLockStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

func TestRegistrationLockSerializesPerOrigin(t *testing.T) {
	store := &memoryLockStore{data: map[string]string{}}
	lock := NewRegistrationLock(store, time.Minute, nil)

	release, err := lock.Acquire(context.Background(), "https://ops.example.org")
	require.NoError(t, err)
	assert.True(t, store.has("confops:lock:agent-registration:https://ops.example.org"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(ctx, "https://ops.example.org")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := lock.Acquire(context.Background(), "https://press.example.org")
	require.NoError(t, err)
	other()

	release()
	assert.False(t, store.has("confops:lock:agent-registration:https://ops.example.org"))
	again, err := lock.Acquire(context.Background(), "https://ops.example.org")
	require.NoError(t, err)
	again()
}

func TestRegistrationLockWaitsForOtherProcess(t *testing.T) {
	store := &memoryLockStore{data: map[string]string{"confops:lock:agent-registration:o": "other-process"}}
	lock := NewRegistrationLock(store, time.Minute, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err := lock.Acquire(ctx, "o")
	require.Error(t, err)

	require.NoError(t, store.Del(context.Background(), "confops:lock:agent-registration:o"))
	release, err := lock.Acquire(context.Background(), "o")
	require.NoError(t, err)
	release()
}
