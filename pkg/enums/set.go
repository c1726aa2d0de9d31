package enums

import (
	"fmt"
	"slices"
)

// set is the closed list of values a Postgres enum column accepts.
type set[T ~string] struct {
	kind   string
	values []T
}

func newSet[T ~string](kind string, values ...T) set[T] {
	return set[T]{kind: kind, values: values}
}

func (s set[T]) has(v T) bool {
	return slices.Contains(s.values, v)
}

func (s set[T]) parse(raw string) (T, error) {
	if v := T(raw); s.has(v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", s.kind, raw)
}
