package validators

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
)

func queryError(key, msg string, extra map[string]any) error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "query parameter "+key+" "+msg).WithDetails(details)
}

// ParseQueryInt reads key as an int in [lo, hi], or def when absent.
func ParseQueryInt(r *http.Request, key string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, queryError(key, "must be numeric", nil)
	case n < lo || n > hi:
		return 0, queryError(key, "out of range", map[string]any{"min": lo, "max": hi})
	}
	return n, nil
}

// ParseQueryTime reads key as RFC3339, or the zero time when absent.
func ParseQueryTime(r *http.Request, key string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, queryError(key, "must be an RFC3339 timestamp", nil)
	}
	return at.UTC(), nil
}
