package metering

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LimiterConfig holds limiter configuration
type LimiterConfig struct {
	// Limits holds per-window request limits (default: DefaultLimits)
	Limits Limits

	// Clock supplies the current time (default: SystemClock)
	Clock Clock

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking checks (default: NoopMetrics)
	Metrics Metrics
}

// Limiter enforces fixed-window request limits per client identity.
// One Limiter serves every window kind; counters are materialized lazily on
// first check and reset whenever the stored window has ended.
type Limiter struct {
	counters CounterStore
	limits   Limits
	clock    Clock
	logger   Logger
	metrics  Metrics
}

// NewLimiter creates a limiter over the given counter store
func NewLimiter(counters CounterStore, config LimiterConfig) (*Limiter, error) {
	if counters == nil {
		return nil, ErrStorageUnavailable
	}
	if config.Limits == (Limits{}) {
		config.Limits = DefaultLimits()
	}
	if config.Clock == nil {
		config.Clock = SystemClock()
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}

	return &Limiter{
		counters: counters,
		limits:   config.Limits,
		clock:    config.Clock,
		logger:   config.Logger,
		metrics:  config.Metrics,
	}, nil
}

// Limits returns the configured per-window limits
func (l *Limiter) Limits() Limits { return l.limits }

// Check performs a check-and-consume against one window for the client.
// A stale counter is reset to the current window before the check. When the
// count has reached the limit the request is denied with a message naming
// the window; otherwise the count is incremented and persisted.
//
// Storage failure degrades to allowing the request so that metering never
// blocks legitimate traffic.
func (l *Limiter) Check(ctx context.Context, clientID string, window Window) RateLimitResult {
	now := l.clock.Now()
	limit := l.limits.For(window)
	start := window.Start(now)
	end := window.End(now)

	began := time.Now()
	count, err := l.counters.Increment(ctx, CounterKey{ClientID: clientID, Window: window}, start, limit)
	l.metrics.RecordStorageOperation("increment", time.Since(began), err)
	l.metrics.RecordCheckDuration(window, time.Since(began))

	switch {
	case err == nil:
		l.metrics.RecordCheck(window, true)
		return RateLimitResult{
			Allowed:   true,
			Remaining: maxInt(0, limit-count),
			ResetTime: end,
		}

	case isLimitReached(err):
		l.metrics.RecordCheck(window, false)
		seconds := int(end.Sub(now).Seconds())
		if seconds < 1 {
			seconds = 1
		}
		return RateLimitResult{
			Allowed:   false,
			Remaining: 0,
			ResetTime: end,
			Message:   fmt.Sprintf("Rate limit exceeded for %s. Try again in %d seconds.", window, seconds),
		}

	default:
		// Storage outage: allow rather than reject (graceful degradation)
		l.logger.Warn("counter store unavailable, allowing request",
			Field{Key: "client_id", Value: clientID},
			Field{Key: "window", Value: string(window)},
			Field{Key: "error", Value: err.Error()},
		)
		l.metrics.RecordCheck(window, true)
		return RateLimitResult{
			Allowed:   true,
			Remaining: limit,
			ResetTime: end,
		}
	}
}

// Status computes a non-mutating snapshot of all three windows for the
// client. Absent or stale counters read as zero without touching persisted
// state.
func (l *Limiter) Status(ctx context.Context, clientID string) Status {
	return Status{
		Minute: l.windowStatus(ctx, clientID, WindowMinute),
		Hour:   l.windowStatus(ctx, clientID, WindowHour),
		Day:    l.windowStatus(ctx, clientID, WindowDay),
	}
}

// WindowStatus computes a non-mutating snapshot of a single window
func (l *Limiter) WindowStatus(ctx context.Context, clientID string, window Window) WindowStatus {
	return l.windowStatus(ctx, clientID, window)
}

func (l *Limiter) windowStatus(ctx context.Context, clientID string, window Window) WindowStatus {
	now := l.clock.Now()
	limit := l.limits.For(window)

	count, err := l.counters.Count(ctx, CounterKey{ClientID: clientID, Window: window}, window.Start(now))
	if err != nil {
		l.logger.Warn("counter store unavailable for status",
			Field{Key: "client_id", Value: clientID},
			Field{Key: "window", Value: string(window)},
			Field{Key: "error", Value: err.Error()},
		)
		count = 0
	}

	return WindowStatus{
		Count:     count,
		Remaining: maxInt(0, limit-count),
		ResetTime: window.End(now),
	}
}

func isLimitReached(err error) bool {
	return errors.Is(err, ErrLimitReached)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
