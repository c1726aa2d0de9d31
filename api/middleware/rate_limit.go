package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/confops/api/responses"
	"github.com/angelmondragon/confops/pkg/config"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

const maxSignInBody = 64 << 10

type counterStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// SignInLimits caps sign-in attempts per fixed window, once per client
// address and once per role and display name. A zero limit disables its
// counter.
type SignInLimits struct {
	Window  time.Duration
	PerIP   int
	PerName int
}

func SignInLimitsFrom(cfg config.AuthConfig) SignInLimits {
	return SignInLimits{Window: cfg.LoginWindow, PerIP: cfg.LoginIPLimit, PerName: cfg.LoginNameLimit}
}

type bucket struct {
	scope   string
	subject string
	limit   int
}

// SignInRateLimit answers 429 with Retry-After once any counter passes its
// limit. Mount it after chi's RealIP so RemoteAddr is the client.
func SignInRateLimit(limits SignInLimits, store counterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || limits.Window <= 0 || (limits.PerIP <= 0 && limits.PerName <= 0) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			buckets := []bucket{{scope: "ip", subject: remoteHost(r), limit: limits.PerIP}}
			if limits.PerName > 0 {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxSignInBody))
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
				buckets = append(buckets, bucket{scope: "name", subject: signInSubject(body), limit: limits.PerName})
			}

			for _, b := range buckets {
				if b.limit <= 0 || b.subject == "" {
					continue
				}
				key := store.RateLimitKey("signin:" + b.scope + ":" + b.subject)
				n, err := store.IncrWithTTL(ctx, key, limits.Window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if n > int64(b.limit) {
					if logg != nil {
						logg.Warn(logg.WithFields(ctx, map[string]any{
							"scope":    b.scope,
							"attempts": n,
							"limit":    b.limit,
						}), "sign-in throttled")
					}
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limits.Window.Seconds()))))
					responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many sign-in attempts"))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// signInSubject hashes role and name so display names never land in Redis.
func signInSubject(body []byte) string {
	var req struct {
		Role string `json:"role"`
		Name string `json:"name"`
	}
	if json.Unmarshal(body, &req) != nil || strings.TrimSpace(req.Name) == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(req.Role) + ":" + strings.TrimSpace(req.Name))))
	return hex.EncodeToString(sum[:12])
}
