package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alertDoc struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func TestMemorySubscribeReplaysBacklogThenStreams(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.True(t, store.Write(ctx, "alerts/a1", alertDoc{Message: "old"}))

	var events []Event
	sub, err := store.Subscribe(ctx, "alerts", func(evt Event) { events = append(events, evt) })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.True(t, store.Write(ctx, "alerts/a2", alertDoc{Message: "new"}))
	require.True(t, store.Update(ctx, "alerts/a2", map[string]any{"status": "acknowledged"}))
	require.True(t, store.Write(ctx, "timers/t1", map[string]any{"x": 1}))

	require.Len(t, events, 3)
	assert.Equal(t, EventAdded, events[0].Kind)
	assert.Equal(t, "a1", events[0].ID)
	assert.Equal(t, EventAdded, events[1].Kind)
	assert.Equal(t, EventChanged, events[2].Kind)

	var doc alertDoc
	require.NoError(t, events[2].Decode(&doc))
	assert.Equal(t, "new", doc.Message)
	assert.Equal(t, "acknowledged", doc.Status)
}

func TestMemoryUnsubscribeAndDrop(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	count := 0
	sub, err := store.Subscribe(ctx, "alerts", func(Event) { count++ })
	require.NoError(t, err)
	assert.True(t, sub.Active(ctx))
	assert.Equal(t, 1, store.Listeners("alerts"))

	store.Drop()
	assert.False(t, sub.Active(ctx))
	store.Write(ctx, "alerts/a1", alertDoc{})
	assert.Zero(t, count)

	sub2, _ := store.Subscribe(ctx, "alerts", func(Event) { count++ })
	assert.Equal(t, 1, count, "backlog replayed to new listener")
	sub2.Unsubscribe()
	sub2.Unsubscribe()
	assert.Zero(t, store.Listeners("alerts"))
}

func TestMemoryReadAndPaths(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	var doc alertDoc
	assert.ErrorIs(t, store.Read(ctx, "alerts/missing", &doc), ErrNotFound)
	assert.False(t, store.Write(ctx, "no-collection", doc))

	store.Write(ctx, "/alerts/a1/", alertDoc{Message: "hi"})
	require.NoError(t, store.Read(ctx, "alerts/a1", &doc))
	assert.Equal(t, "hi", doc.Message)

	collection, id, err := SplitPath("rooms/main/timers/t1")
	require.NoError(t, err)
	assert.Equal(t, "rooms/main/timers", collection)
	assert.Equal(t, "t1", id)
}
