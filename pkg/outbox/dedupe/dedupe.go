// Package dedupe remembers which outbox events a consumer already handled,
// so a Pub/Sub redelivery does not fan out a second time.
package dedupe

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Store is the Redis surface the guard needs. *redis.Client satisfies it.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Guard marks event ids per consumer. Markers expire after ttl; Pub/Sub stops
// redelivering long before that.
type Guard struct {
	store    Store
	consumer string
	ttl      time.Duration
}

func New(store Store, consumer string, ttl time.Duration) (*Guard, error) {
	switch {
	case store == nil:
		return nil, errors.New("dedupe store is required")
	case consumer == "":
		return nil, errors.New("consumer name is required")
	case ttl <= 0:
		return nil, errors.New("dedupe ttl must be positive")
	}
	return &Guard{store: store, consumer: consumer, ttl: ttl}, nil
}

// Claim reports whether this is the first delivery of eventID.
func (g *Guard) Claim(ctx context.Context, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, errors.New("event id is required")
	}
	return g.store.SetNX(ctx, g.key(eventID), time.Now().UTC().Format(time.RFC3339), g.ttl)
}

// Release forgets eventID so the next delivery is handled again.
func (g *Guard) Release(ctx context.Context, eventID uuid.UUID) error {
	return g.store.Del(ctx, g.key(eventID))
}

func (g *Guard) key(eventID uuid.UUID) string {
	return g.store.IdempotencyKey("evt:"+g.consumer, eventID.String())
}
