// Package models - API response types and error handling.
// This file defines the outgoing response structures of the defense layer and
// its admin API.
//
// Response Design Principles:
// - Every denial carries a stable type so client retry logic can branch on it
// - Retry guidance is present only where waiting actually helps
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"

	"github.com/google/uuid"
)

// ErrorResponse provides structured error information for non-defense
// failures (auth, routing, panics).
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

// DefenseErrorResponse is written for every request the defense layer rejects.
//
// Field usage by denial type:
// - *_limit_exceeded: RetryAfter in whole seconds
// - progressive_penalty: RetryAfter and PenaltyEndsAt
// - suspicious_behavior: no retry guidance (pattern judgment, not a counter)
// - access_denied: no retry guidance (quarantined key)
type DefenseErrorResponse struct {
	Error         string     `json:"error"`                   // Short title
	Type          string     `json:"type"`                    // Stable denial type
	Message       string     `json:"message"`                 // Human-readable explanation
	RetryAfter    int        `json:"retryAfter,omitempty"`    // Seconds until a retry can succeed
	PenaltyEndsAt *time.Time `json:"penaltyEndsAt,omitempty"` // End of an active progressive penalty
	CurrentLimit  int        `json:"currentLimit,omitempty"`  // Effective limit that was exceeded
	Timestamp     time.Time  `json:"timestamp"`
	RequestID     string     `json:"request_id"`
}

type HealthCheckResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
}

// ClassStats counts decisions for one endpoint class.
type ClassStats struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// DefenseStatsResponse summarises the in-memory defense state.
type DefenseStatsResponse struct {
	TrackedWindowKeys   int                   `json:"tracked_window_keys"`
	TrackedBucketKeys   int                   `json:"tracked_bucket_keys"`
	ActiveViolationKeys int                   `json:"active_violation_keys"`
	QuarantinedKeys     int                   `json:"quarantined_keys"`
	Decisions           map[string]ClassStats `json:"decisions"`
	Timestamp           time.Time             `json:"timestamp"`
}

// QuarantineInfo describes one key in the suspicious-key registry.
type QuarantineInfo struct {
	Key        string    `json:"key"`
	Reason     string    `json:"reason"`
	Violations int       `json:"violations"`
	FlaggedAt  time.Time `json:"flagged_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type ListQuarantineResponse struct {
	Keys       []QuarantineInfo `json:"keys"`
	TotalCount int              `json:"total_count"`
}

// QuarantineRequest is the body of a manual quarantine call.
type QuarantineRequest struct {
	Key    string `json:"key"`
	Reason string `json:"reason,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound       = "NOT_FOUND"       // 404: Resource doesn't exist
	ErrorCodeInvalidRequest = "INVALID_REQUEST" // 400: Invalid request data
	ErrorCodeInternalError  = "INTERNAL_ERROR"  // 500: Server-side error
	ErrorCodeUnauthorized   = "UNAUTHORIZED"    // 401: Authentication required
	ErrorCodeBadGateway     = "BAD_GATEWAY"     // 502: Upstream unreachable
	ErrorCodeRateLimited    = "RATE_LIMITED"    // 429: Any defense denial
	ErrorCodeAccessDenied   = "ACCESS_DENIED"   // 403: Quarantined key
)

// Defense denial types. These strings are part of the client contract.
const (
	DenialTypeAuthLimit          = "auth_limit_exceeded"
	DenialTypeUploadLimit        = "upload_limit_exceeded"
	DenialTypeAILimit            = "ai_limit_exceeded"
	DenialTypeGeneralLimit       = "general_limit_exceeded"
	DenialTypeSuspiciousBehavior = "suspicious_behavior"
	DenialTypeProgressivePenalty = "progressive_penalty"
	DenialTypeAccessDenied       = "access_denied"
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// NewDefenseErrorResponse builds a denial body stamped with the current time
// and a fresh request id.
func NewDefenseErrorResponse(title, denialType, message string) *DefenseErrorResponse {
	return &DefenseErrorResponse{
		Error:     title,
		Type:      denialType,
		Message:   message,
		Timestamp: time.Now(),
		RequestID: uuid.NewString(),
	}
}
