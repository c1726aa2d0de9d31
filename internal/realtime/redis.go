package realtime

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
	pkgredis "github.com/angelmondragon/confops/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
)

// redisClient is the subset of *pkgredis.Client the store needs.
type redisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Publish(ctx context.Context, channel string, payload any) (int64, error)
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
	RealtimeKey(path string) string
	RealtimeIndexKey(collection string) string
	RealtimeChannel(collection string) string
}

// Redis stores children as JSON keys, indexes them per collection and fans
// change events out over pub/sub.
type Redis struct {
	client redisClient
	logg   *logger.Logger
}

func NewRedis(client redisClient, logg *logger.Logger) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Redis{client: client, logg: logg}, nil
}

type redisSubscription struct {
	pubsub *goredis.PubSub
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
}

func (s *redisSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		_ = s.pubsub.Close()
	})
}

func (s *redisSubscription) Active(ctx context.Context) bool {
	if s.closed.Load() {
		return false
	}
	return s.pubsub.Ping(ctx) == nil
}

func (r *Redis) Subscribe(ctx context.Context, collection string, fn func(Event)) (Subscription, error) {
	channel := r.client.RealtimeChannel(collection)
	ps, err := r.client.Subscribe(ctx, channel)
	if err != nil {
		return nil, errors.Wrap(errors.CodeSubscriptionDropped, err, "subscribe "+collection)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{pubsub: ps, cancel: cancel}

	backlog, err := r.backlog(ctx, collection)
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	for _, evt := range backlog {
		fn(evt)
	}

	go r.listen(loopCtx, sub, collection, fn)
	return sub, nil
}

func (r *Redis) listen(ctx context.Context, sub *redisSubscription, collection string, fn func(Event)) {
	msgs := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				sub.closed.Store(true)
				return
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				r.logg.Warn(r.logg.WithField(ctx, "collection", collection), fmt.Sprintf("dropping malformed realtime event: %v", err))
				continue
			}
			fn(evt)
		}
	}
}

func (r *Redis) backlog(ctx context.Context, collection string) ([]Event, error) {
	ids, err := r.client.SMembers(ctx, r.client.RealtimeIndexKey(collection))
	if err != nil {
		return nil, errors.Wrap(errors.CodeDependency, err, "list "+collection)
	}
	sort.Strings(ids)
	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		raw, err := r.client.Get(ctx, r.client.RealtimeKey(Join(collection, id)))
		if err != nil {
			if stdErrors.Is(err, pkgredis.Nil) {
				continue
			}
			return nil, errors.Wrap(errors.CodeDependency, err, "read "+Join(collection, id))
		}
		events = append(events, Event{Kind: EventAdded, Collection: collection, ID: id, Value: json.RawMessage(raw)})
	}
	return events, nil
}

func (r *Redis) Write(ctx context.Context, path string, value any) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		r.logg.Error(ctx, "encode realtime value", err)
		return false
	}
	return r.put(ctx, path, raw)
}

func (r *Redis) Update(ctx context.Context, path string, partial map[string]any) bool {
	collection, id, err := SplitPath(path)
	if err != nil {
		return false
	}
	var current json.RawMessage
	raw, err := r.client.Get(ctx, r.client.RealtimeKey(Join(collection, id)))
	switch {
	case err == nil:
		current = json.RawMessage(raw)
	case stdErrors.Is(err, pkgredis.Nil):
	default:
		r.logg.Error(ctx, "read realtime value for update", err)
		return false
	}
	merged, err := mergeJSON(current, partial)
	if err != nil {
		r.logg.Error(ctx, "merge realtime value", err)
		return false
	}
	return r.put(ctx, path, merged)
}

func (r *Redis) Read(ctx context.Context, path string, dest any) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	raw, err := r.client.Get(ctx, r.client.RealtimeKey(Join(collection, id)))
	if err != nil {
		if stdErrors.Is(err, pkgredis.Nil) {
			return ErrNotFound
		}
		return errors.Wrap(errors.CodeDependency, err, "read "+path)
	}
	return json.Unmarshal([]byte(raw), dest)
}

func (r *Redis) put(ctx context.Context, path string, raw json.RawMessage) bool {
	collection, id, err := SplitPath(path)
	if err != nil {
		r.logg.Warn(ctx, err.Error())
		return false
	}
	key := r.client.RealtimeKey(Join(collection, id))
	existed, err := r.client.Exists(ctx, key)
	if err != nil {
		r.logg.Error(ctx, "check realtime key", err)
		return false
	}
	if err := r.client.Set(ctx, key, string(raw), 0); err != nil {
		r.logg.Error(ctx, "write realtime value", err)
		return false
	}
	if err := r.client.SAdd(ctx, r.client.RealtimeIndexKey(collection), id); err != nil {
		r.logg.Error(ctx, "index realtime value", err)
		return false
	}
	kind := EventChanged
	if !existed {
		kind = EventAdded
	}
	payload, err := json.Marshal(Event{Kind: kind, Collection: collection, ID: id, Value: raw})
	if err != nil {
		return false
	}
	if _, err := r.client.Publish(ctx, r.client.RealtimeChannel(collection), string(payload)); err != nil {
		r.logg.Error(ctx, "publish realtime event", err)
		return false
	}
	return true
}
