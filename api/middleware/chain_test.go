package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/confops/pkg/logger"
)

func TestRequestIDKeepsWellFormedInbound(t *testing.T) {
	var seen string
	h := RequestID(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = chimw.GetReqID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "edge-7f3a9c01")
	rec := serve(h, req)

	assert.Equal(t, "edge-7f3a9c01", seen)
	assert.Equal(t, "edge-7f3a9c01", rec.Header().Get(requestIDHeader))
}

func TestRequestIDReplacesJunk(t *testing.T) {
	for _, inbound := range []string{"", "short", "has spaces in it", "line\nbreak-injected"} {
		h := RequestID(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, inbound)
		got := serve(h, req).Header().Get(requestIDHeader)
		assert.NotEqual(t, inbound, got)
		assert.Len(t, got, 36, "expected a uuid for %q", inbound)
	}
}

func TestRecovererAnswers500(t *testing.T) {
	h := Recoverer(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map")
	}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, rec))
	assert.NotContains(t, rec.Body.String(), "nil map")
}

func TestRecovererReraisesAbort(t *testing.T) {
	h := Recoverer(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLoggingRecordsStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "api", Output: buf, Format: "json"})
	h := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))
	serve(h, httptest.NewRequest(http.MethodPost, "/api/v1/alerts", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "http.request", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.EqualValues(t, http.StatusAccepted, entry["status"])
	assert.EqualValues(t, 6, entry["bytes"])
	assert.Equal(t, "/api/v1/alerts", entry["path"])
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://ops.example.org"}, false)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/alerts", nil)
	req.Header.Set("Origin", "https://ops.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(h, req)
	assert.Equal(t, "https://ops.example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/alerts", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = serve(h, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
