package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Memory is an in-process Store. Listeners run synchronously on the writer's
// goroutine, outside the store lock.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]json.RawMessage
	order map[string][]string
	subs  map[string]map[uint64]*memorySubscription
	seq   atomic.Uint64
}

func NewMemory() *Memory {
	return &Memory{
		data:  make(map[string]json.RawMessage),
		order: make(map[string][]string),
		subs:  make(map[string]map[uint64]*memorySubscription),
	}
}

type memorySubscription struct {
	store      *Memory
	collection string
	id         uint64
	fn         func(Event)
	active     atomic.Bool
	once       sync.Once
}

func (s *memorySubscription) Unsubscribe() {
	s.once.Do(func() {
		s.active.Store(false)
		s.store.mu.Lock()
		delete(s.store.subs[s.collection], s.id)
		s.store.mu.Unlock()
	})
}

func (s *memorySubscription) Active(context.Context) bool {
	return s.active.Load()
}

func (m *Memory) Subscribe(ctx context.Context, collection string, fn func(Event)) (Subscription, error) {
	sub := &memorySubscription{store: m, collection: collection, id: m.seq.Add(1), fn: fn}
	sub.active.Store(true)

	m.mu.Lock()
	if m.subs[collection] == nil {
		m.subs[collection] = make(map[uint64]*memorySubscription)
	}
	m.subs[collection][sub.id] = sub
	backlog := make([]Event, 0, len(m.order[collection]))
	for _, id := range m.order[collection] {
		backlog = append(backlog, Event{Kind: EventAdded, Collection: collection, ID: id, Value: m.data[Join(collection, id)]})
	}
	m.mu.Unlock()

	for _, evt := range backlog {
		if !sub.active.Load() {
			break
		}
		fn(evt)
	}
	return sub, nil
}

func (m *Memory) Write(ctx context.Context, path string, value any) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		return false
	}
	return m.put(path, raw)
}

func (m *Memory) Update(ctx context.Context, path string, partial map[string]any) bool {
	collection, id, err := SplitPath(path)
	if err != nil {
		return false
	}
	m.mu.RLock()
	current := m.data[Join(collection, id)]
	m.mu.RUnlock()
	merged, err := mergeJSON(current, partial)
	if err != nil {
		return false
	}
	return m.put(path, merged)
}

func (m *Memory) Read(ctx context.Context, path string, dest any) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	m.mu.RLock()
	raw, ok := m.data[Join(collection, id)]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, dest)
}

// Drop detaches every listener without notifying it, the way a silently
// broken transport would.
func (m *Memory) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for collection, subs := range m.subs {
		for _, sub := range subs {
			sub.active.Store(false)
		}
		delete(m.subs, collection)
	}
}

// Listeners counts attached listeners on a collection.
func (m *Memory) Listeners(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[collection])
}

func (m *Memory) put(path string, raw json.RawMessage) bool {
	collection, id, err := SplitPath(path)
	if err != nil {
		return false
	}
	key := Join(collection, id)

	m.mu.Lock()
	_, existed := m.data[key]
	m.data[key] = raw
	if !existed {
		m.order[collection] = append(m.order[collection], id)
	}
	listeners := make([]*memorySubscription, 0, len(m.subs[collection]))
	for _, sub := range m.subs[collection] {
		listeners = append(listeners, sub)
	}
	m.mu.Unlock()

	kind := EventChanged
	if !existed {
		kind = EventAdded
	}
	evt := Event{Kind: kind, Collection: collection, ID: id, Value: raw}
	for _, sub := range listeners {
		if sub.active.Load() {
			sub.fn(evt)
		}
	}
	return true
}
