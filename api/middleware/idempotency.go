package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/angelmondragon/confops/api/responses"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	// pendingTTL bounds how long a crashed request can block its key.
	pendingTTL     = time.Minute
	maxIdemBody    = 1 << 20
	maxIdemKeySize = 128
)

// idempotentRoutes lists the mutating routes a client must key. Patterns use
// path.Match syntax against the request path.
var idempotentRoutes = []struct {
	method, pattern string
	ttl             time.Duration
}{
	// a replayed alert would fan out a second push to every device
	{http.MethodPost, "/api/v1/alerts", 7 * 24 * time.Hour},
	{http.MethodPost, "/api/v1/alerts/*/reply", 24 * time.Hour},
	{http.MethodPost, "/api/v1/alerts/*/status", 24 * time.Hour},
	{http.MethodPost, "/api/v1/device-tokens/test", 24 * time.Hour},
}

type replayState string

const (
	statePending replayState = "pending"
	stateDone    replayState = "done"
)

// replay is what the store holds under an idempotency key.
type replay struct {
	State       replayState `json:"state"`
	Fingerprint string      `json:"fingerprint"`
	Status      int         `json:"status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        string      `json:"body,omitempty"`
}

// Idempotency makes keyed retries of the routes above safe. The first request
// claims the key before the handler runs, so a concurrent duplicate gets 409
// instead of a second execution. Finished responses below 500 are replayed
// verbatim; 5xx responses release the key so the client can retry.
func Idempotency(store redis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := idempotencyTTL(r)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if key == "" || len(key) > maxIdemKeySize {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdemBody))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fp := fingerprint(r, body)
			storeKey := store.IdempotencyKey(callerScope(r), key)
			claim, _ := json.Marshal(replay{State: statePending, Fingerprint: fp})

			created, err := store.SetNX(ctx, storeKey, claim, pendingTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !created {
				replayStored(w, r, store, storeKey, fp, logg)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			if capture.status >= http.StatusInternalServerError {
				if err := store.Del(ctx, storeKey); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency key", err)
				}
				return
			}
			done, _ := json.Marshal(replay{
				State:       stateDone,
				Fingerprint: fp,
				Status:      capture.code(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
			})
			if err := store.Set(ctx, storeKey, done, ttl); err != nil && logg != nil {
				logg.Error(ctx, "persist idempotent response", err)
			}
		})
	}
}

func replayStored(w http.ResponseWriter, r *http.Request, store redis.IdempotencyStore, key, fp string, logg *logger.Logger) {
	ctx := r.Context()
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// the holder released it between our SetNX and Get
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency key"))
		return
	}
	var stored replay
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	switch {
	case stored.Fingerprint != fp:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request"))
	case stored.State == statePending:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is in progress"))
	default:
		body, _ := base64.StdEncoding.DecodeString(stored.Body)
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(body)
	}
}

func idempotencyTTL(r *http.Request) (time.Duration, bool) {
	p := strings.TrimSuffix(r.URL.Path, "/")
	for _, route := range idempotentRoutes {
		if route.method != r.Method {
			continue
		}
		if ok, _ := path.Match(route.pattern, p); ok {
			return route.ttl, true
		}
	}
	return 0, false
}

// callerScope keeps one caller's keys from colliding with another's.
func callerScope(r *http.Request) string {
	id, _ := IdentityFromContext(r.Context())
	return id.Role.String() + ":" + id.UserID
}

func fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method + " " + r.URL.Path + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) code() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
