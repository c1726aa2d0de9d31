// Package session keeps the refresh side of dashboard logins in Redis. Each
// access token's jti names one session record holding the identity and a
// digest of the refresh token that may rotate it.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/confops/pkg/auth"
	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/redis"
)

const refreshTokenBytes = 32

var ErrInvalidRefreshToken = errors.New("invalid refresh token")

type store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// AccessSessionChecker is the read-only view the auth middleware needs.
type AccessSessionChecker interface {
	HasSession(ctx context.Context, accessID string) (bool, error)
}

// Grant is a freshly opened session: the jti to mint into the access token
// and the refresh token handed to the client once.
type Grant struct {
	AccessID     string
	RefreshToken string
	Identity     auth.Identity
}

type record struct {
	Identity auth.Identity `json:"identity"`
	Digest   string        `json:"digest"`
	OpenedAt time.Time     `json:"opened_at"`
}

type Manager struct {
	store store
	keys  redis.Keys
	ttl   time.Duration
	now   func() time.Time
}

// NewManager builds a Redis-backed manager. Sessions must outlive the access
// tokens they back, or refresh would never be reachable.
func NewManager(client *redis.Client, cfg config.JWTConfig) (*Manager, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	ttl := cfg.RefreshTokenTTL()
	accessTTL := time.Duration(cfg.ExpirationMinutes) * time.Minute
	if ttl <= 0 || ttl <= accessTTL {
		return nil, fmt.Errorf("refresh ttl %s must be positive and exceed access ttl %s", ttl, accessTTL)
	}
	return &Manager{store: client, keys: client.Keys, ttl: ttl, now: time.Now}, nil
}

// Open starts a session for id.
func (m *Manager) Open(ctx context.Context, id auth.Identity) (Grant, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return Grant{}, errors.New("user id is required")
	}
	return m.open(ctx, id)
}

// Rotate trades a refresh token for a new session carrying the same
// identity. The old session is deleted whether or not the new token is ever
// used, so a refresh token works exactly once.
func (m *Manager) Rotate(ctx context.Context, accessID, refreshToken string) (Grant, error) {
	if strings.TrimSpace(accessID) == "" || strings.TrimSpace(refreshToken) == "" {
		return Grant{}, ErrInvalidRefreshToken
	}
	key := m.keys.AccessSessionKey(accessID)
	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return Grant{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return Grant{}, err
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Grant{}, ErrInvalidRefreshToken
	}
	if subtle.ConstantTimeCompare([]byte(rec.Digest), []byte(digest(refreshToken))) != 1 {
		return Grant{}, ErrInvalidRefreshToken
	}

	grant, err := m.open(ctx, rec.Identity)
	if err != nil {
		return Grant{}, err
	}
	if err := m.store.Del(ctx, key); err != nil {
		return Grant{}, err
	}
	return grant, nil
}

// Revoke ends a session. Unknown ids are not an error.
func (m *Manager) Revoke(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return errors.New("access id is required")
	}
	return m.store.Del(ctx, m.keys.AccessSessionKey(accessID))
}

func (m *Manager) HasSession(ctx context.Context, accessID string) (bool, error) {
	if strings.TrimSpace(accessID) == "" {
		return false, errors.New("access id is required")
	}
	return m.store.Exists(ctx, m.keys.AccessSessionKey(accessID))
}

func (m *Manager) open(ctx context.Context, id auth.Identity) (Grant, error) {
	token, err := newRefreshToken()
	if err != nil {
		return Grant{}, err
	}
	payload, err := json.Marshal(record{Identity: id, Digest: digest(token), OpenedAt: m.now().UTC()})
	if err != nil {
		return Grant{}, fmt.Errorf("encode session: %w", err)
	}
	grant := Grant{AccessID: NewAccessID(), RefreshToken: token, Identity: id}
	if err := m.store.Set(ctx, m.keys.AccessSessionKey(grant.AccessID), payload, m.ttl); err != nil {
		return Grant{}, err
	}
	return grant, nil
}

// NewAccessID returns a fresh jti.
func NewAccessID() string {
	return uuid.NewString()
}

func newRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
