package cron

import (
	"context"
	"time"

	pkgredis "github.com/angelmondragon/confops/pkg/redis"
)

// Lock gives one replica at a time the maintenance cycle.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NewRedisLock returns the owner-tagged lock for the environment. The ttl
// bounds how long a crashed replica blocks the others.
func NewRedisLock(client pkgredis.LockStore, env string, ttl time.Duration) (Lock, error) {
	if env == "" {
		env = "local"
	}
	return pkgredis.NewLock(client, "confops:cron:"+env, ttl)
}
