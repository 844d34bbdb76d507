package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"reqshield/internal/models"
)

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	principalHeader string
	logEvery        time.Duration
}

// WithPrincipalHeader trusts the named header as the authenticated user id
// when the request context carries none. Only use it behind an auth layer
// that strips the header from client requests.
func WithPrincipalHeader(name string) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.principalHeader = name
	}
}

// WithDenialLogInterval sets the minimum gap between denial warnings in the
// log. Quarantine events are always logged by the registry.
func WithDenialLogInterval(d time.Duration) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.logEvery = d
	}
}

// Middleware returns HTTP middleware that enforces the engine's decision for
// every request under a defended path. Denied requests are answered directly
// with a JSON body and never reach next.
func Middleware(engine *Engine, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{logEvery: time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	logThrottle := &rate.Sometimes{First: 10, Interval: cfg.logEvery}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := engine.Classify(r.URL.Path)
			if class == ClassExempt {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.principalHeader != "" {
				if _, ok := PrincipalFromContext(r.Context()); !ok {
					if userID := r.Header.Get(cfg.principalHeader); userID != "" {
						r = r.WithContext(WithPrincipal(r.Context(), userID))
					}
				}
			}

			id := ResolveIdentity(r)
			d := engine.Decide(r.Context(), id, class, MetadataFromRequest(r))

			if d.Limit > 0 {
				w.Header().Set("RateLimit-Limit", strconv.Itoa(d.Limit))
				w.Header().Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
			}

			if d.Allow {
				next.ServeHTTP(w, r)
				return
			}

			writeDenial(w, d)

			logThrottle.Do(func() {
				slog.Warn("Request denied",
					"key", id.Key,
					"class", string(d.Class),
					"type", d.Type,
					"violations", d.Violations,
					"retry_after", d.RetryAfter.String(),
					"path", r.URL.Path,
				)
			})
		})
	}
}

// writeDenial writes the JSON body and headers of a denial. Behavior and
// quarantine denials carry no retry guidance.
func writeDenial(w http.ResponseWriter, d Decision) {
	resp := models.NewDefenseErrorResponse(d.Title, d.Type, d.Reason)

	switch d.Kind {
	case DenialRateLimitExceeded:
		resp.RetryAfter = retryAfterSeconds(d.RetryAfter)
		resp.CurrentLimit = d.Limit
	case DenialProgressivePenalty:
		resp.RetryAfter = retryAfterSeconds(d.RetryAfter)
		ends := d.PenaltyEndsAt.UTC()
		resp.PenaltyEndsAt = &ends
	}

	if resp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(d.Kind.StatusCode())
	json.NewEncoder(w).Encode(resp)
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
