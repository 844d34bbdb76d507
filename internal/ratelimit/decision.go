package ratelimit

import (
	"net/http"
	"time"

	"reqshield/internal/models"
)

// DenialKind classifies why a request was rejected.
type DenialKind int

const (
	DenialNone DenialKind = iota
	// DenialRateLimitExceeded is a sliding window or token bucket denial. Waiting helps.
	DenialRateLimitExceeded
	// DenialBehaviorSuspicious reflects a pattern judgment and carries no retry time.
	DenialBehaviorSuspicious
	// DenialProgressivePenalty is an escalated lockout after repeated violations.
	DenialProgressivePenalty
	// DenialSuspiciousKeyBlocked is a hard block until the quarantine expires.
	DenialSuspiciousKeyBlocked
)

func (k DenialKind) String() string {
	switch k {
	case DenialNone:
		return "none"
	case DenialRateLimitExceeded:
		return "rate_limit_exceeded"
	case DenialBehaviorSuspicious:
		return "behavior_suspicious"
	case DenialProgressivePenalty:
		return "progressive_penalty"
	case DenialSuspiciousKeyBlocked:
		return "suspicious_key_blocked"
	default:
		return "unknown"
	}
}

// StatusCode is the HTTP status written for the denial.
func (k DenialKind) StatusCode() int {
	switch k {
	case DenialNone:
		return http.StatusOK
	case DenialSuspiciousKeyBlocked:
		return http.StatusForbidden
	default:
		return http.StatusTooManyRequests
	}
}

// Decision is the single verdict produced for a request.
type Decision struct {
	Allow         bool
	Class         EndpointClass
	Kind          DenialKind
	Type          string // Stable denial type, see models.DenialType*
	Title         string
	Reason        string
	Limit         int
	Remaining     int
	RetryAfter    time.Duration
	PenaltyEndsAt time.Time
	Violations    int  // Violation count after this decision
	Flagged       bool // The key entered quarantine as a result of this decision
}

type denialText struct {
	denialType string
	title      string
	message    string
}

// limitText is the denial text of a class limiter exceeding its count.
var limitText = map[EndpointClass]denialText{
	ClassAuth: {
		denialType: models.DenialTypeAuthLimit,
		title:      "Too many authentication attempts",
		message:    "Too many authentication attempts, please try again later",
	},
	ClassUpload: {
		denialType: models.DenialTypeUploadLimit,
		title:      "Rate limit exceeded",
		message:    "Too many uploads, please slow down",
	},
	ClassAIAnalysis: {
		denialType: models.DenialTypeAILimit,
		title:      "AI analysis limit exceeded",
		message:    "AI analysis limit exceeded, please try again later",
	},
	ClassGeneral: {
		denialType: models.DenialTypeGeneralLimit,
		title:      "Rate limit exceeded",
		message:    "Too many requests, please try again later",
	},
}

var (
	suspiciousBehaviorText = denialText{
		denialType: models.DenialTypeSuspiciousBehavior,
		title:      "Suspicious behavior detected",
		message:    "Your request pattern suggests automated behavior",
	}
	penaltyText = denialText{
		denialType: models.DenialTypeProgressivePenalty,
		title:      "Progressive penalty active",
		message:    "Penalty active due to repeated violations",
	}
	blockedText = denialText{
		denialType: models.DenialTypeAccessDenied,
		title:      "Access denied",
		message:    "Your IP has been flagged for suspicious activity",
	}
)

func allow(class EndpointClass, res Result) Decision {
	return Decision{
		Allow:     true,
		Class:     class,
		Limit:     res.Limit,
		Remaining: res.Remaining,
	}
}

func deny(class EndpointClass, kind DenialKind, text denialText) Decision {
	return Decision{
		Class:  class,
		Kind:   kind,
		Type:   text.denialType,
		Title:  text.title,
		Reason: text.message,
	}
}
