package redis

import "strings"

const namespace = "confops"

// Keys builds every key and channel name under the confops namespace.
// Empty segments are dropped.
type Keys struct{}

func (Keys) IdempotencyKey(scope, id string) string { return key("idempotency", scope, id) }

func (Keys) RateLimitKey(scope string) string { return key("rate_limit", scope) }

// AccessSessionKey maps a JWT access id to its refresh session.
func (Keys) AccessSessionKey(accessID string) string { return key("session", accessID) }

func (Keys) LockKey(name string) string { return key("lock", name) }

// LocalStateKey holds page-local state (device token, role, ring buffer) per scope.
func (Keys) LocalStateKey(scope, name string) string { return key("local", scope, name) }

// RealtimeKey maps a realtime path such as "alerts/123" to a key.
func (Keys) RealtimeKey(path string) string {
	return key(append([]string{"rt"}, splitPath(path)...)...)
}

// RealtimeIndexKey is the set of child ids written under a collection.
func (Keys) RealtimeIndexKey(collection string) string {
	return key(append([]string{"rt", "index"}, splitPath(collection)...)...)
}

// RealtimeChannel carries change events for a collection.
func (Keys) RealtimeChannel(collection string) string {
	return key(append([]string{"rtch"}, splitPath(collection)...)...)
}

// PushChannel carries loopback push payloads for one device token.
func (Keys) PushChannel(token string) string { return key("push", token) }

func key(parts ...string) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}
