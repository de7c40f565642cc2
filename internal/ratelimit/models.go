// Package ratelimit throttles public endpoints per client IP with a sliding
// window, in process or shared through Redis.
package ratelimit

import "time"

// Class groups endpoints that share a limit.
type Class string

const (
	// ClassRegister covers the public registration form.
	ClassRegister Class = "register"
	// ClassScan covers gate scans.
	ClassScan Class = "scan"
	// ClassWebhook covers provider deliveries.
	ClassWebhook Class = "webhook"
)

// Limit is a request budget per window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when not allowed
}
