package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/confops/pkg/auth"
	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/redis"
)

func newIdemStore(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.Wrap(goredis.NewClient(&goredis.Options{Addr: srv.Addr()})), srv
}

func keyedRequest(target, key, body string, caller auth.Identity) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req.WithContext(WithIdentity(req.Context(), caller))
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

var admin = auth.Identity{UserID: "admin-1", Role: enums.RoleAdmin}

func TestIdempotencyTTLSelection(t *testing.T) {
	cases := []struct {
		method, path string
		want         time.Duration
		ok           bool
	}{
		{http.MethodPost, "/api/v1/alerts", 7 * 24 * time.Hour, true},
		{http.MethodPost, "/api/v1/alerts/", 7 * 24 * time.Hour, true},
		{http.MethodPost, "/api/v1/alerts/6f1c/reply", 24 * time.Hour, true},
		{http.MethodPost, "/api/v1/alerts/6f1c/status", 24 * time.Hour, true},
		{http.MethodPost, "/api/v1/device-tokens/test", 24 * time.Hour, true},
		{http.MethodGet, "/api/v1/alerts", 0, false},
		{http.MethodPost, "/api/v1/alerts/a/b/reply", 0, false},
		{http.MethodPost, "/api/v1/auth/session", 0, false},
	}
	for _, tc := range cases {
		ttl, ok := idempotencyTTL(httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, tc.ok, ok, tc.path)
		assert.Equal(t, tc.want, ttl, tc.path)
	}
}

func TestIdempotencyRequiresKey(t *testing.T) {
	store, _ := newIdemStore(t)
	called := false
	h := Idempotency(store, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := serve(h, keyedRequest("/api/v1/alerts", "", `{}`, admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)

	rec = serve(h, keyedRequest("/api/v1/alerts", strings.Repeat("k", 200), `{}`, admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	serve(h, req)
	assert.True(t, called, "unkeyed routes pass through")
}

func TestIdempotencyReplaysFinishedResponse(t *testing.T) {
	store, srv := newIdemStore(t)
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"a-1"}`))
	}))

	first := serve(h, keyedRequest("/api/v1/alerts", "abc", `{"message":"hi"}`, admin))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(replayedHeader))

	again := serve(h, keyedRequest("/api/v1/alerts", "abc", `{"message":"hi"}`, admin))
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "true", again.Header().Get(replayedHeader))
	assert.Equal(t, "application/json", again.Header().Get("Content-Type"))
	assert.Equal(t, `{"id":"a-1"}`, again.Body.String())
	assert.Equal(t, 1, calls)

	key := store.IdempotencyKey(callerScope(keyedRequest("/", "", "", admin)), "abc")
	assert.Equal(t, 7*24*time.Hour, srv.TTL(key))

	other := auth.Identity{UserID: "press-1", Role: enums.RolePress}
	serve(h, keyedRequest("/api/v1/alerts", "abc", `{"message":"hi"}`, other))
	assert.Equal(t, 2, calls, "keys are scoped per caller")
}

func TestIdempotencyRejectsReusedKey(t *testing.T) {
	store, _ := newIdemStore(t)
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	serve(h, keyedRequest("/api/v1/alerts", "xyz", `{"message":"one"}`, admin))
	rec := serve(h, keyedRequest("/api/v1/alerts", "xyz", `{"message":"two"}`, admin))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyBlocksConcurrentDuplicate(t *testing.T) {
	store, _ := newIdemStore(t)
	var inner *httptest.ResponseRecorder
	var h http.Handler
	h = Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inner == nil {
			inner = serve(h, keyedRequest("/api/v1/alerts", "dup", `{"message":"hi"}`, admin))
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rec := serve(h, keyedRequest("/api/v1/alerts", "dup", `{"message":"hi"}`, admin))
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, inner)
	assert.Equal(t, http.StatusConflict, inner.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, inner))
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store, _ := newIdemStore(t)
	status := http.StatusServiceUnavailable
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	assert.Equal(t, http.StatusServiceUnavailable, serve(h, keyedRequest("/api/v1/device-tokens/test", "k", "", admin)).Code)
	status = http.StatusAccepted
	assert.Equal(t, http.StatusAccepted, serve(h, keyedRequest("/api/v1/device-tokens/test", "k", "", admin)).Code)
	assert.Equal(t, 2, calls)
}

func TestIdempotencyStoreDown(t *testing.T) {
	store, srv := newIdemStore(t)
	srv.Close()
	h := Idempotency(store, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without a claim")
	}))
	rec := serve(h, keyedRequest("/api/v1/alerts", "k", `{}`, admin))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
