package metering

import (
	"context"
	"time"
)

// Window identifies a fixed time window against which requests are counted
type Window string

const (
	// WindowMinute counts requests per calendar minute
	WindowMinute Window = "minute"
	// WindowHour counts requests per calendar hour
	WindowHour Window = "hour"
	// WindowDay counts requests per calendar day
	WindowDay Window = "day"
)

// Valid reports whether w is a known window kind
func (w Window) Valid() bool {
	switch w {
	case WindowMinute, WindowHour, WindowDay:
		return true
	default:
		return false
	}
}

// Duration returns the length of the window
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Start returns the canonical start of the period containing t (UTC).
// A request arriving exactly on a boundary belongs to the new window.
func (w Window) Start(t time.Time) time.Time {
	tt := t.UTC()
	switch w {
	case WindowMinute:
		return tt.Truncate(time.Minute)
	case WindowHour:
		return tt.Truncate(time.Hour)
	case WindowDay:
		return time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return tt
	}
}

// End returns the end of the period containing t, i.e. Start(t) + Duration
func (w Window) End(t time.Time) time.Time {
	return w.Start(t).Add(w.Duration())
}

// CounterKey identifies one client's counter for one window kind.
// Counters are keyed by a composite value rather than a concatenated string
// so the key stays type-checked.
type CounterKey struct {
	ClientID string
	Window   Window
}

// Limits holds the request limit for each window kind
type Limits struct {
	// PerMinute is the number of requests allowed per minute
	PerMinute int

	// PerHour is the number of requests allowed per hour
	PerHour int

	// PerDay is the number of requests allowed per day
	PerDay int
}

// DefaultLimits returns the stock limits: 10/minute, 60/hour, 2/day
func DefaultLimits() Limits {
	return Limits{
		PerMinute: 10,
		PerHour:   60,
		PerDay:    2,
	}
}

// For returns the limit for the given window kind
func (l Limits) For(w Window) int {
	switch w {
	case WindowMinute:
		return l.PerMinute
	case WindowHour:
		return l.PerHour
	case WindowDay:
		return l.PerDay
	default:
		return 0
	}
}

// RateLimitResult is the outcome of a check-and-consume operation
type RateLimitResult struct {
	// Allowed is true if the request fit inside the window limit
	Allowed bool

	// Remaining is the number of requests left in the current window
	Remaining int

	// ResetTime is when the current window ends
	ResetTime time.Time

	// Message is a human-readable denial reason naming the window kind.
	// Empty when the request is allowed.
	Message string
}

// WindowStatus is a non-mutating snapshot of one window's counter
type WindowStatus struct {
	Count     int
	Remaining int
	ResetTime time.Time
}

// Status reports all three windows for one client
type Status struct {
	Minute WindowStatus
	Hour   WindowStatus
	Day    WindowStatus
}

// AttemptStatus is the end-user-facing view of the day window.
// Remaining and Total are -1 when a custom credential makes usage unlimited.
type AttemptStatus struct {
	Remaining    int
	Total        int
	ResetTime    time.Time
	HasCustomKey bool
}

// TrialStatus reports free-trial accounting for one client
type TrialStatus struct {
	// Used is the lifetime count of free attempts consumed
	Used int

	// Remaining is max(0, maxFreeAttempts - Used)
	Remaining int

	// TrialMode is true while the client operates without a custom credential
	TrialMode bool
}

// GenerateResult is the contract of the opaque generation collaborator.
// Errors are free-form text with no structured taxonomy guaranteed.
type GenerateResult struct {
	Success bool
	Content string
	Error   string
}

// Generator is the external generation call. The metering core treats it as
// opaque; timeout and cancellation policy belong to the implementation.
type Generator interface {
	Generate(ctx context.Context, topic, credential string) (*GenerateResult, error)
}

// GeneratorFunc adapts a function to the Generator interface
type GeneratorFunc func(ctx context.Context, topic, credential string) (*GenerateResult, error)

// Generate implements Generator
func (f GeneratorFunc) Generate(ctx context.Context, topic, credential string) (*GenerateResult, error) {
	return f(ctx, topic, credential)
}

// GenerateOutcome is the result of a fully metered generation request
type GenerateOutcome struct {
	// Success indicates the generation call ran and produced content
	Success bool

	// Content is the generated article text
	Content string

	// Error is the failure reason, surfaced verbatim for upstream failures
	Error string

	// RateLimited is true when a window limit rejected the request before
	// the generation call. Callers branch on this, not on Error wording.
	RateLimited bool

	// NeedsCredential is true when the free trial is exhausted and the caller
	// must supply a custom credential to proceed
	NeedsCredential bool

	// TrialMode is true when the generation ran without a custom credential
	TrialMode bool
}

// Stats summarizes audit activity over a trailing window
type Stats struct {
	TotalAttempts int
	Successes     int
	Failures      int
	RateLimitHits int
	SuccessRate   float64
}
