package metering

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is the kind of a metering decision recorded in the audit trail
type Event string

const (
	// EventAttempt records a generation request entering the metering flow
	EventAttempt Event = "generation_attempt"
	// EventSuccess records a generation call that ran and produced content
	EventSuccess Event = "generation_success"
	// EventFailure records a generation call that ran and failed
	EventFailure Event = "generation_failure"
	// EventRateLimitExceeded records a request rejected by a window limit
	EventRateLimitExceeded Event = "rate_limit_exceeded"
	// EventCredentialConfigured records a custom credential being set
	EventCredentialConfigured Event = "credential_configured"
	// EventCredentialRemoved records a custom credential being removed
	EventCredentialRemoved Event = "credential_removed"
)

// AlertType classifies a derived usage alert
type AlertType string

const (
	// AlertHighUsage fires when attempt volume in the trailing window is abnormal
	AlertHighUsage AlertType = "high_usage"
	// AlertRateLimitExceeded mirrors rate-limit rejections into the alert log
	AlertRateLimitExceeded AlertType = "rate_limit_exceeded"
	// AlertSuspiciousActivity fires on a high failure rate
	AlertSuspiciousActivity AlertType = "suspicious_activity"
)

// Severity ranks an alert
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Details carries free-form context for an audit entry
type Details struct {
	Topic                 string           `json:"topic,omitempty"`
	Error                 string           `json:"error,omitempty"`
	HasCustomCredential   bool             `json:"has_custom_credential,omitempty"`
	FreeAttemptsRemaining int              `json:"free_attempts_remaining,omitempty"`
	RateLimit             *RateLimitResult `json:"rate_limit,omitempty"`
}

// Entry is a single audit trail record
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Event     Event     `json:"event"`
	ClientID  string    `json:"client_id"`
	Details   Details   `json:"details"`
}

// Alert is a derived observability record produced by the trail's heuristics
type Alert struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      AlertType `json:"type"`
	ClientID  string    `json:"client_id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
}

// AlertConfig holds the tunable thresholds for derived alerts. The defaults
// mirror the product's original heuristics and are not load-bearing rules.
type AlertConfig struct {
	// Window is the trailing period evaluated per client (default: 1 hour)
	Window time.Duration

	// HighUsageAttempts triggers a high-usage alert when exceeded (default: 20)
	HighUsageAttempts int

	// FailureRateThreshold triggers a suspicious-activity alert when exceeded (default: 0.5)
	FailureRateThreshold float64

	// FailureRateMinAttempts is the attempt floor below which failure rate is ignored (default: 5)
	FailureRateMinAttempts int
}

// DefaultAlertConfig returns the stock alert thresholds
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		Window:                 time.Hour,
		HighUsageAttempts:      20,
		FailureRateThreshold:   0.5,
		FailureRateMinAttempts: 5,
	}
}

// TrailConfig holds audit trail configuration
type TrailConfig struct {
	// MaxEntries bounds the entry log (default: 1000)
	MaxEntries int

	// MaxAlerts bounds the alert log (default: 100)
	MaxAlerts int

	// Alerts configures the derived-alert heuristics
	Alerts AlertConfig

	// Clock supplies the current time (default: SystemClock)
	Clock Clock

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking alerts (default: NoopMetrics)
	Metrics Metrics
}

const (
	auditLogsKey   = "audit_logs"
	usageAlertsKey = "usage_alerts"
)

// Trail is an append-only, bounded log of metering decisions plus derived
// usage alerts. Recording is best-effort by contract: a broken store or a
// full log must never block or fail the primary metering decision.
type Trail struct {
	kv      KeyValueStore
	config  TrailConfig
	clock   Clock
	logger  Logger
	metrics Metrics

	mu      sync.Mutex
	entries []Entry
	alerts  []Alert
}

// NewTrail creates an audit trail over the given key/value store, restoring
// previously persisted history when present.
func NewTrail(kv KeyValueStore, config TrailConfig) *Trail {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	if config.MaxAlerts <= 0 {
		config.MaxAlerts = 100
	}
	if config.Alerts == (AlertConfig{}) {
		config.Alerts = DefaultAlertConfig()
	}
	if config.Alerts.Window <= 0 {
		config.Alerts.Window = time.Hour
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

	t := &Trail{
		kv:      kv,
		config:  config,
		clock:   config.Clock,
		logger:  config.Logger,
		metrics: config.Metrics,
	}
	t.restore(context.Background())
	return t
}

// Record appends an entry, evicts the oldest entries past the configured
// bound, persists best-effort, and evaluates the alert heuristics.
func (t *Trail) Record(ctx context.Context, event Event, clientID string, details Details) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: t.clock.Now(),
		Event:     event,
		ClientID:  clientID,
		Details:   details,
	}

	t.entries = append(t.entries, entry)
	if len(t.entries) > t.config.MaxEntries {
		t.entries = t.entries[len(t.entries)-t.config.MaxEntries:]
	}

	t.checkForAlerts(entry)
	t.persist(ctx)
}

// checkForAlerts evaluates the trailing-window heuristics for the client that
// produced entry. Called with mu held.
func (t *Trail) checkForAlerts(entry Entry) {
	cutoff := entry.Timestamp.Add(-t.config.Alerts.Window)

	attempts := 0
	failures := 0
	for _, e := range t.entries {
		if e.ClientID != entry.ClientID || !e.Timestamp.After(cutoff) {
			continue
		}
		switch e.Event {
		case EventAttempt:
			attempts++
		case EventFailure:
			failures++
		}
	}

	if entry.Event == EventRateLimitExceeded {
		t.createAlert(AlertRateLimitExceeded, entry.ClientID,
			"Rate limit exceeded multiple times", SeverityMedium, entry.Timestamp)
	}

	if attempts > t.config.Alerts.HighUsageAttempts {
		t.createAlert(AlertHighUsage, entry.ClientID,
			fmt.Sprintf("High usage detected: %d attempts in the trailing window", attempts),
			SeverityHigh, entry.Timestamp)
	}

	failureRate := float64(failures) / float64(maxInt(1, attempts))
	if failureRate > t.config.Alerts.FailureRateThreshold && attempts > t.config.Alerts.FailureRateMinAttempts {
		t.createAlert(AlertSuspiciousActivity, entry.ClientID,
			fmt.Sprintf("High failure rate detected: %d%%", int(failureRate*100)),
			SeverityMedium, entry.Timestamp)
	}
}

// createAlert appends an alert and evicts past the bound. Called with mu held.
func (t *Trail) createAlert(alertType AlertType, clientID, message string, severity Severity, now time.Time) {
	alert := Alert{
		ID:        uuid.NewString(),
		Timestamp: now,
		Type:      alertType,
		ClientID:  clientID,
		Message:   message,
		Severity:  severity,
	}

	t.alerts = append(t.alerts, alert)
	if len(t.alerts) > t.config.MaxAlerts {
		t.alerts = t.alerts[len(t.alerts)-t.config.MaxAlerts:]
	}

	t.metrics.RecordAlert(string(alertType), string(severity))
	if severity == SeverityHigh {
		t.logger.Warn("usage alert",
			Field{Key: "type", Value: string(alertType)},
			Field{Key: "client_id", Value: clientID},
			Field{Key: "message", Value: message},
		)
	}
}

// Recent returns entries recorded within the trailing number of hours
func (t *Trail) Recent(hours int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recent(hours)
}

func (t *Trail) recent(hours int) []Entry {
	cutoff := t.clock.Now().Add(-time.Duration(hours) * time.Hour)
	var out []Entry
	for _, e := range t.entries {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Alerts returns alerts emitted within the trailing number of hours
func (t *Trail) Alerts(hours int) []Alert {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.clock.Now().Add(-time.Duration(hours) * time.Hour)
	var out []Alert
	for _, a := range t.alerts {
		if a.Timestamp.After(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

// Stats derives usage statistics over the trailing number of hours. It never
// mutates the trail.
func (t *Trail) Stats(hours int) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Stats
	for _, e := range t.recent(hours) {
		switch e.Event {
		case EventAttempt:
			s.TotalAttempts++
		case EventSuccess:
			s.Successes++
		case EventFailure:
			s.Failures++
		case EventRateLimitExceeded:
			s.RateLimitHits++
		}
	}
	if s.TotalAttempts > 0 {
		s.SuccessRate = float64(s.Successes) / float64(s.TotalAttempts)
	}
	return s
}

// Len returns the current number of stored entries
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear drops all entries and alerts and removes the persisted copies
func (t *Trail) Clear(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = nil
	t.alerts = nil
	if t.kv == nil {
		return
	}
	if err := t.kv.Delete(ctx, auditLogsKey); err != nil {
		t.logger.Warn("audit store delete failed", Field{Key: "error", Value: err.Error()})
	}
	if err := t.kv.Delete(ctx, usageAlertsKey); err != nil {
		t.logger.Warn("alert store delete failed", Field{Key: "error", Value: err.Error()})
	}
}

// persist writes both logs best-effort. Called with mu held.
func (t *Trail) persist(ctx context.Context) {
	if t.kv == nil {
		return
	}

	if raw, err := json.Marshal(t.entries); err == nil {
		if err := t.kv.Set(ctx, auditLogsKey, string(raw)); err != nil {
			t.logger.Warn("audit store write failed", Field{Key: "error", Value: err.Error()})
		}
	}
	if raw, err := json.Marshal(t.alerts); err == nil {
		if err := t.kv.Set(ctx, usageAlertsKey, string(raw)); err != nil {
			t.logger.Warn("alert store write failed", Field{Key: "error", Value: err.Error()})
		}
	}
}

// restore loads persisted logs best-effort
func (t *Trail) restore(ctx context.Context) {
	if t.kv == nil {
		return
	}

	if raw, err := t.kv.Get(ctx, auditLogsKey); err == nil {
		var entries []Entry
		if uerr := json.Unmarshal([]byte(raw), &entries); uerr == nil {
			// A log persisted under a larger bound still honors the
			// current one: keep the newest entries
			if len(entries) > t.config.MaxEntries {
				entries = entries[len(entries)-t.config.MaxEntries:]
			}
			t.entries = entries
		}
	}
	if raw, err := t.kv.Get(ctx, usageAlertsKey); err == nil {
		var alerts []Alert
		if uerr := json.Unmarshal([]byte(raw), &alerts); uerr == nil {
			if len(alerts) > t.config.MaxAlerts {
				alerts = alerts[len(alerts)-t.config.MaxAlerts:]
			}
			t.alerts = alerts
		}
	}
}
