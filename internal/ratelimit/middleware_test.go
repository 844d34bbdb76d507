package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqshield/internal/models"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func newBrowserRequest(method, path, remoteAddr string) *http.Request {
	req := httptest.NewRequest(method, "http://app.example.com"+path, nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US")
	req.Header.Set("Accept-Encoding", "gzip")
	return req
}

func decodeDenial(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

func TestMiddleware_AllowedRequest(t *testing.T) {
	e := newTestEngine(t, newFakeClock())
	handler := Middleware(e)(http.HandlerFunc(okHandler))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newBrowserRequest("GET", "/api/patients", "192.168.1.1:12345"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "100", rr.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "99", rr.Header().Get("RateLimit-Remaining"))
}

func TestMiddleware_ExemptPathPassesThrough(t *testing.T) {
	e := newTestEngine(t, newFakeClock())
	handler := Middleware(e)(http.HandlerFunc(okHandler))

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/health", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("RateLimit-Limit"))
	}
}

func TestMiddleware_AuthLimitDenial(t *testing.T) {
	e := newTestEngine(t, newFakeClock())
	handler := Middleware(e)(http.HandlerFunc(okHandler))

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newBrowserRequest("POST", "/api/login", "203.0.113.9:5000"))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newBrowserRequest("POST", "/api/login", "203.0.113.9:5001"))

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "900", rr.Header().Get("Retry-After"))

	body := decodeDenial(t, rr)
	assert.Equal(t, "Too many authentication attempts", body["error"])
	assert.Equal(t, models.DenialTypeAuthLimit, body["type"])
	assert.Equal(t, float64(900), body["retryAfter"])
	assert.Equal(t, float64(5), body["currentLimit"])
	assert.NotEmpty(t, body["request_id"])
	assert.NotContains(t, body, "penaltyEndsAt")
}

func TestMiddleware_PenaltyDenial(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock)
	handler := Middleware(e)(http.HandlerFunc(okHandler))

	for i := 0; i < 6; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), newBrowserRequest("POST", "/api/login", "203.0.113.10:1"))
	}
	clock.Advance(5 * time.Minute)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newBrowserRequest("POST", "/api/login", "203.0.113.10:1"))

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "600", rr.Header().Get("Retry-After"))

	body := decodeDenial(t, rr)
	assert.Equal(t, models.DenialTypeProgressivePenalty, body["type"])
	assert.Equal(t, "Penalty active due to 1 violations", body["message"])
	assert.Equal(t, float64(600), body["retryAfter"])

	ends, err := time.Parse(time.RFC3339, body["penaltyEndsAt"].(string))
	require.NoError(t, err)
	assert.True(t, ends.Equal(clock.Now().Add(10*time.Minute)))
}

func TestMiddleware_BlockedKeyGets403(t *testing.T) {
	e := newTestEngine(t, newFakeClock())
	handler := Middleware(e)(http.HandlerFunc(okHandler))
	e.Registry().Flag("ip:198.51.100.1", ReasonManual)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newBrowserRequest("GET", "/api/patients", "198.51.100.1:4242"))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, rr.Header().Get("Retry-After"))

	body := decodeDenial(t, rr)
	assert.Equal(t, "Access denied", body["error"])
	assert.Equal(t, models.DenialTypeAccessDenied, body["type"])
	assert.Equal(t, "Your IP has been flagged for suspicious activity", body["message"])
	assert.NotContains(t, body, "retryAfter")
}

func TestMiddleware_SuspiciousBehaviorHasNoRetry(t *testing.T) {
	clock := newFakeClock()
	p := testPolicy()
	p.General.MaxRequests = 5
	e, err := NewEngine(p, WithClock(clock.Now))
	require.NoError(t, err)
	defer e.Close()
	handler := Middleware(e)(http.HandlerFunc(okHandler))

	req := httptest.NewRequest("GET", "/api/patients", nil)
	req.RemoteAddr = "198.51.100.2:1"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Empty(t, rr.Header().Get("Retry-After"))

	body := decodeDenial(t, rr)
	assert.Equal(t, models.DenialTypeSuspiciousBehavior, body["type"])
	assert.NotContains(t, body, "retryAfter")
}

func TestMiddleware_ForwardedForIdentity(t *testing.T) {
	e := newTestEngine(t, newFakeClock())
	handler := Middleware(e)(http.HandlerFunc(okHandler))

	for i := 0; i < 5; i++ {
		req := newBrowserRequest("POST", "/api/login", "10.0.0.1:1")
		req.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.1")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := newBrowserRequest("POST", "/api/login", "10.0.0.1:1")
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// The proxy address itself is untouched
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, newBrowserRequest("POST", "/api/login", "10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMiddleware_PrincipalHeader(t *testing.T) {
	e := newTestEngine(t, newFakeClock())
	handler := Middleware(e, WithPrincipalHeader("X-User-ID"))(http.HandlerFunc(okHandler))

	for i := 0; i < 5; i++ {
		req := newBrowserRequest("POST", "/api/login", "203.0.113.60:1")
		req.Header.Set("X-User-ID", "alice")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := newBrowserRequest("POST", "/api/login", "203.0.113.60:1")
	req.Header.Set("X-User-ID", "alice")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	assert.True(t, e.Violations().Active("user:alice:203.0.113.60"))
	assert.False(t, e.Violations().Active("ip:203.0.113.60"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, newBrowserRequest("POST", "/api/login", "203.0.113.60:1"))
	assert.Equal(t, http.StatusOK, rr.Code, "anonymous traffic from the same IP has its own key")
}

func TestMiddleware_ContextPrincipalWinsOverHeader(t *testing.T) {
	e := newTestEngine(t, newFakeClock())
	inner := Middleware(e, WithPrincipalHeader("X-User-ID"))(http.HandlerFunc(okHandler))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), "bob")))
	})

	for i := 0; i < 6; i++ {
		req := newBrowserRequest("POST", "/api/login", "203.0.113.61:1")
		req.Header.Set("X-User-ID", "mallory")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.True(t, e.Violations().Active("user:bob:203.0.113.61"))
	assert.False(t, e.Violations().Active("user:mallory:203.0.113.61"))
}

func TestMiddleware_UploadRemainingHeader(t *testing.T) {
	e := newTestEngine(t, newFakeClock())
	handler := Middleware(e)(http.HandlerFunc(okHandler))

	for i := 0; i < 10; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newBrowserRequest("POST", "/api/exams/upload", "203.0.113.70:1"))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, strconv.Itoa(9-i), rr.Header().Get("RateLimit-Remaining"))
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newBrowserRequest("POST", "/api/exams/upload", "203.0.113.70:1"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "12", rr.Header().Get("Retry-After"))

	body := decodeDenial(t, rr)
	assert.Equal(t, models.DenialTypeUploadLimit, body["type"])
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, retryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 900, retryAfterSeconds(15*time.Minute))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		expected   string
	}{
		{"remote with port", "192.0.2.1:8080", "", "192.0.2.1"},
		{"remote without port", "192.0.2.1", "", "192.0.2.1"},
		{"ipv6 remote", "[2001:db8::1]:443", "", "2001:db8::1"},
		{"forwarded first hop", "10.0.0.1:1", " 203.0.113.1 , 10.0.0.2", "203.0.113.1"},
		{"empty forwarded", "192.0.2.1:1", ",", "192.0.2.1"},
		{"nothing", "", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.expected, ClientIP(req))
		})
	}
}

func TestNewIdentity(t *testing.T) {
	assert.Equal(t, "ip:192.0.2.1", NewIdentity("192.0.2.1", "").Key)
	assert.Equal(t, "user:42:192.0.2.1", NewIdentity("192.0.2.1", "42").Key)
	assert.Equal(t, "ip:unknown", NewIdentity("", "").Key)
}
