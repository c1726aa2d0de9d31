// Package localstate persists the page-local values that survive a reload:
// the device token, the last signed-in role, the deferred ring buffer and
// per-timer state.
package localstate

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/confops/pkg/redis"
)

const (
	keyDeviceToken = "device_token"
	keyUserRole    = "user_role"
)

// ErrNotFound is returned by KV implementations for missing keys.
var ErrNotFound = stdErrors.New("localstate: key not found")

// KV is the persistence port. *redis.Client satisfies it.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type localKeyer interface {
	LocalStateKey(scope, name string) string
}

// DeviceToken is the single live push token of this device.
type DeviceToken struct {
	Value       string    `json:"value"`
	ObtainedAt  time.Time `json:"obtainedAt"`
	PlatformTag string    `json:"platformTag"`
}

// IsFresh reports whether the token is younger than maxAge at now.
func (t DeviceToken) IsFresh(now time.Time, maxAge time.Duration) bool {
	if t.Value == "" || t.ObtainedAt.IsZero() {
		return false
	}
	return now.Sub(t.ObtainedAt) < maxAge
}

// Store namespaces keys for one device scope.
type Store struct {
	kv    KV
	scope string
}

func New(kv KV, scope string) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("kv required")
	}
	return &Store{kv: kv, scope: scope}, nil
}

func (s *Store) key(name string) string {
	if k, ok := s.kv.(localKeyer); ok {
		return k.LocalStateKey(s.scope, name)
	}
	if s.scope == "" {
		return name
	}
	return s.scope + ":" + name
}

// LoadJSON decodes the value stored under name into dest. found is false when absent.
func (s *Store) LoadJSON(ctx context.Context, name string, dest any) (bool, error) {
	raw, err := s.kv.Get(ctx, s.key(name))
	if err != nil {
		if isMissing(err) {
			return false, nil
		}
		return false, fmt.Errorf("load %s: %w", name, err)
	}
	if raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

// SaveJSON encodes v under name without expiry.
func (s *Store) SaveJSON(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := s.kv.Set(ctx, s.key(name), string(data), 0); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// Delete removes name.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.kv.Del(ctx, s.key(name)); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// DeviceToken returns the stored token or nil.
func (s *Store) DeviceToken(ctx context.Context) (*DeviceToken, error) {
	var tok DeviceToken
	found, err := s.LoadJSON(ctx, keyDeviceToken, &tok)
	if err != nil || !found {
		return nil, err
	}
	return &tok, nil
}

func (s *Store) SaveDeviceToken(ctx context.Context, tok DeviceToken) error {
	return s.SaveJSON(ctx, keyDeviceToken, tok)
}

func (s *Store) DeleteDeviceToken(ctx context.Context) error {
	return s.Delete(ctx, keyDeviceToken)
}

// UserRole returns the last known signed-in role, or "".
func (s *Store) UserRole(ctx context.Context) (string, error) {
	raw, err := s.kv.Get(ctx, s.key(keyUserRole))
	if err != nil {
		if isMissing(err) {
			return "", nil
		}
		return "", fmt.Errorf("load role: %w", err)
	}
	return raw, nil
}

func (s *Store) SaveUserRole(ctx context.Context, role string) error {
	if err := s.kv.Set(ctx, s.key(keyUserRole), role, 0); err != nil {
		return fmt.Errorf("save role: %w", err)
	}
	return nil
}

func isMissing(err error) bool {
	return stdErrors.Is(err, ErrNotFound) || stdErrors.Is(err, redis.Nil)
}

// Memory is an in-process KV.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case string:
		m.data[key] = v
	case []byte:
		m.data[key] = string(v)
	default:
		m.data[key] = fmt.Sprint(v)
	}
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Keys returns the stored keys; intended for diagnostics.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out
}
