package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
)

const unknownIP = "unknown"

type principalKey struct{}

// WithPrincipal returns a context carrying the authenticated user id. Auth
// middleware running ahead of the defense layer calls this.
func WithPrincipal(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, principalKey{}, userID)
}

// PrincipalFromContext returns the authenticated user id, if any.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(principalKey{}).(string)
	return id, ok && id != ""
}

// Identity is the key all defense state is partitioned by.
type Identity struct {
	Key string // "user:{id}:{ip}" when authenticated, otherwise "ip:{ip}"
	IP  string
}

// NewIdentity builds the identity for a client IP and an optional user id.
func NewIdentity(ip, userID string) Identity {
	if ip == "" {
		ip = unknownIP
	}
	if userID != "" {
		return Identity{Key: "user:" + userID + ":" + ip, IP: ip}
	}
	return Identity{Key: "ip:" + ip, IP: ip}
}

// IPKey is the anonymous key of the identity's IP. Quarantines earned by
// the IP apply to every identity behind it.
func (id Identity) IPKey() string {
	return "ip:" + id.IP
}

// ResolveIdentity derives the identity of a request from its client IP and
// the principal stored in its context. It never fails.
func ResolveIdentity(r *http.Request) Identity {
	userID, _ := PrincipalFromContext(r.Context())
	return NewIdentity(ClientIP(r), userID)
}

// ClientIP extracts the client IP, preferring the first X-Forwarded-For hop,
// then the connection's remote address, then the literal "unknown".
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}

	return unknownIP
}
