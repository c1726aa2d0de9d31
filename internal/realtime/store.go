// Package realtime is the narrow collaborator over the managed realtime store:
// collection subscriptions plus fire-and-forget writes.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// EventKind distinguishes additions from changes.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventChanged EventKind = "changed"
)

// Event is one child addition or change under a collection.
type Event struct {
	Kind       EventKind       `json:"kind"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Value      json.RawMessage `json:"value"`
}

// Decode unmarshals the event value into dest.
func (e Event) Decode(dest any) error {
	if len(e.Value) == 0 {
		return fmt.Errorf("event %s/%s has no value", e.Collection, e.ID)
	}
	return json.Unmarshal(e.Value, dest)
}

// Subscription is the detachment handle of a listener.
type Subscription interface {
	Unsubscribe()
	// Active reports whether the listener is still attached to the transport.
	Active(ctx context.Context) bool
}

// Store is the realtime store contract. Subscribe replays existing children as
// EventAdded before streaming live changes.
type Store interface {
	Subscribe(ctx context.Context, collection string, fn func(Event)) (Subscription, error)
	Write(ctx context.Context, path string, value any) bool
	Update(ctx context.Context, path string, partial map[string]any) bool
	Read(ctx context.Context, path string, dest any) error
}

// ErrNotFound is returned by Read for missing paths.
var ErrNotFound = fmt.Errorf("realtime: path not found")

// Join builds a child path.
func Join(collection, id string) string {
	return strings.Trim(collection, "/") + "/" + strings.Trim(id, "/")
}

// SplitPath separates "alerts/a1" into collection "alerts" and id "a1".
func SplitPath(path string) (collection, id string, err error) {
	path = strings.Trim(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", fmt.Errorf("path %q must be collection/id", path)
	}
	return path[:idx], path[idx+1:], nil
}

func mergeJSON(current json.RawMessage, partial map[string]any) (json.RawMessage, error) {
	merged := map[string]any{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &merged); err != nil {
			return nil, fmt.Errorf("existing value is not an object: %w", err)
		}
	}
	for k, v := range partial {
		merged[k] = v
	}
	return json.Marshal(merged)
}
