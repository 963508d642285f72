// Package ratelimit provides the admission control gate evaluated
// before any request reaches the cache or the upstream inference
// provider.
//
// Rate limit decisions come from pluggable providers:
//
//   - TierLimiter: the in-process multi-window limiter. Four fixed
//     windows are checked in order (burst → minute → day → global per
//     model) and the first violated tier rejects the request.
//
// The Resolver chains providers using first-deny semantics: if any
// provider denies, the request is rejected with 429.
//
// Adding a new provider:
//  1. Implement the Provider interface
//  2. Register it where the resolver is built (cmd/main.go)
package ratelimit

import (
	"math"
	"time"
)

// Provider is a source of rate limiting decisions.
type Provider interface {
	// Name returns a human-readable name for logging (e.g., "tier-limiter").
	Name() string

	// Check determines whether the request described by ctx should be
	// allowed. Errors indicate provider failures, not rate limit denials.
	Check(ctx Context) (*Decision, error)
}

// Context carries the per-request information needed for rate limit
// evaluation.
type Context struct {
	ClientID string
	Model    string
}

// Decision is the result of a rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	Limit      int64
	ResetAt    time.Time
	RetryAfter time.Duration
	Tier       string // which tier rejected ("burst", "minute", "day", "global"); empty on allow
	Provider   string // which provider made this decision
}

// RetryAfterSeconds returns the Retry-After value in whole seconds,
// rounded up so a client that waits exactly this long lands in the next
// window.
func (d *Decision) RetryAfterSeconds() int {
	if d == nil || d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}
