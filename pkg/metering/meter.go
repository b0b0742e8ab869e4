package metering

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const credentialKeyPrefix = "credential:"

// Config holds meter configuration
type Config struct {
	// Limits holds per-window request limits (default: DefaultLimits)
	Limits Limits

	// MaxFreeAttempts is the lifetime free-trial cap (default: 2)
	MaxFreeAttempts int

	// Trail configures the audit trail
	Trail TrailConfig

	// Clock supplies the current time (default: SystemClock)
	Clock Clock

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking operations (default: NoopMetrics)
	Metrics Metrics

	// Generator is the opaque generation collaborator. Required for Generate;
	// the quota and trial operations work without it.
	Generator Generator
}

// Meter gates the generation feature behind window limits, free-trial
// accounting and audit recording. It is constructed once at application
// start and passed by reference to consumers; there is no package-level
// instance.
type Meter struct {
	limiter   *Limiter
	ledger    *Ledger
	trail     *Trail
	kv        KeyValueStore
	generator Generator
	clock     Clock
	logger    Logger
	metrics   Metrics

	// credentials caches per-client custom credentials. Presence of a key
	// means the persisted value has been loaded; an empty value means the
	// client has none. Like the trial ledger, the in-memory copy is
	// authoritative for the lifetime of the process.
	mu          sync.Mutex
	credentials map[string]string
}

// NewMeter creates a meter over the given stores. The key/value store may be
// nil, in which case trial accounting, credential state and audit history are
// process-scoped.
func NewMeter(counters CounterStore, kv KeyValueStore, config Config) (*Meter, error) {
	if config.Clock == nil {
		config.Clock = SystemClock()
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}

	limiter, err := NewLimiter(counters, LimiterConfig{
		Limits:  config.Limits,
		Clock:   config.Clock,
		Logger:  config.Logger,
		Metrics: config.Metrics,
	})
	if err != nil {
		return nil, err
	}

	ledger := NewLedger(kv, LedgerConfig{
		MaxFreeAttempts: config.MaxFreeAttempts,
		Logger:          config.Logger,
		Metrics:         config.Metrics,
	})

	trailConfig := config.Trail
	if trailConfig.Clock == nil {
		trailConfig.Clock = config.Clock
	}
	if trailConfig.Logger == nil {
		trailConfig.Logger = config.Logger
	}
	if trailConfig.Metrics == nil {
		trailConfig.Metrics = config.Metrics
	}
	trail := NewTrail(kv, trailConfig)

	return &Meter{
		limiter:     limiter,
		ledger:      ledger,
		trail:       trail,
		kv:          kv,
		generator:   config.Generator,
		clock:       config.Clock,
		logger:      config.Logger,
		metrics:     config.Metrics,
		credentials: make(map[string]string),
	}, nil
}

// Limiter returns the underlying window limiter
func (m *Meter) Limiter() *Limiter { return m.limiter }

// Ledger returns the underlying trial ledger
func (m *Meter) Ledger() *Ledger { return m.ledger }

// Trail returns the underlying audit trail
func (m *Meter) Trail() *Trail { return m.trail }

// HasCredential reports whether the client has a custom credential configured
func (m *Meter) HasCredential(ctx context.Context, clientID string) bool {
	return m.credentialValue(ctx, clientID) != ""
}

// SetCredential validates and stores a custom credential for the client.
// From this point the client's trial gating and window checks are bypassed
// until the credential is removed; other clients are unaffected. Validation
// is a format check only; a stored credential can still be rejected by the
// generation service at call time.
func (m *Meter) SetCredential(ctx context.Context, clientID, credential string) error {
	if err := ValidateCredential(credential); err != nil {
		return err
	}
	credential = strings.TrimSpace(credential)

	m.mu.Lock()
	m.credentials[clientID] = credential
	m.mu.Unlock()

	if m.kv != nil {
		encoded := base64.StdEncoding.EncodeToString([]byte(credential))
		if err := m.kv.Set(ctx, credentialKeyPrefix+clientID, encoded); err != nil {
			m.logger.Warn("credential store write failed",
				Field{Key: "client_id", Value: clientID},
				Field{Key: "error", Value: err.Error()},
			)
		}
	}

	m.trail.Record(ctx, EventCredentialConfigured, clientID, Details{HasCustomCredential: true})
	return nil
}

// RemoveCredential clears the client's custom credential. Trial accounting
// resumes from the existing used count; it is not reset.
func (m *Meter) RemoveCredential(ctx context.Context, clientID string) {
	m.mu.Lock()
	m.credentials[clientID] = ""
	m.mu.Unlock()

	if m.kv != nil {
		if err := m.kv.Delete(ctx, credentialKeyPrefix+clientID); err != nil {
			m.logger.Warn("credential store delete failed",
				Field{Key: "client_id", Value: clientID},
				Field{Key: "error", Value: err.Error()},
			)
		}
	}

	m.trail.Record(ctx, EventCredentialRemoved, clientID, Details{})
}

// DailyStatus returns the end-user-facing view of the day window.
// Remaining and Total are the -1 sentinel when a custom credential makes
// usage unlimited.
func (m *Meter) DailyStatus(ctx context.Context, clientID string) AttemptStatus {
	if m.HasCredential(ctx, clientID) {
		return AttemptStatus{Remaining: -1, Total: -1, HasCustomKey: true}
	}

	ws := m.limiter.WindowStatus(ctx, clientID, WindowDay)
	return AttemptStatus{
		Remaining: ws.Remaining,
		Total:     ws.Count + ws.Remaining,
		ResetTime: ws.ResetTime,
	}
}

// CheckAndConsume runs a check-and-consume against one window, recording a
// rate-limit event on denial. A custom credential configured for the client
// short-circuits the check entirely.
func (m *Meter) CheckAndConsume(ctx context.Context, clientID string, window Window) RateLimitResult {
	if m.HasCredential(ctx, clientID) {
		return RateLimitResult{Allowed: true, Remaining: -1}
	}

	result := m.limiter.Check(ctx, clientID, window)
	if !result.Allowed {
		m.trail.Record(ctx, EventRateLimitExceeded, clientID, Details{RateLimit: &result})
	}
	return result
}

// CheckAndConsumeDaily is CheckAndConsume against the day window
func (m *Meter) CheckAndConsumeDaily(ctx context.Context, clientID string) RateLimitResult {
	return m.CheckAndConsume(ctx, clientID, WindowDay)
}

// Status returns a non-mutating snapshot of all three windows
func (m *Meter) Status(ctx context.Context, clientID string) Status {
	return m.limiter.Status(ctx, clientID)
}

// TrialStatus returns trial accounting for the client. TrialMode is false
// whenever the client has a custom credential configured.
func (m *Meter) TrialStatus(ctx context.Context, clientID string) TrialStatus {
	st := m.ledger.Status(ctx, clientID)
	st.TrialMode = !m.HasCredential(ctx, clientID)
	return st
}

// ResetTrial clears the client's used free attempts
func (m *Meter) ResetTrial(ctx context.Context, clientID string) {
	m.ledger.Reset(ctx, clientID)
}

// RecordAttempt records a generation attempt in the audit trail
func (m *Meter) RecordAttempt(ctx context.Context, clientID string, details Details) {
	m.trail.Record(ctx, EventAttempt, clientID, details)
}

// RecordSuccess records a successful generation in the audit trail
func (m *Meter) RecordSuccess(ctx context.Context, clientID string, details Details) {
	m.trail.Record(ctx, EventSuccess, clientID, details)
}

// RecordFailure records a failed generation in the audit trail
func (m *Meter) RecordFailure(ctx context.Context, clientID string, details Details) {
	m.trail.Record(ctx, EventFailure, clientID, details)
}

// RecordRateLimitExceeded records a rejected request in the audit trail
func (m *Meter) RecordRateLimitExceeded(ctx context.Context, clientID string, details Details) {
	m.trail.Record(ctx, EventRateLimitExceeded, clientID, details)
}

// Stats derives audit statistics over the trailing number of hours
func (m *Meter) Stats(hours int) Stats {
	return m.trail.Stats(hours)
}

// Generate runs the full metered flow: trial gate, minute-window throttle,
// the opaque generation call, then audit recording and trial accounting.
//
// A pre-check rejection (trial exhausted, window limit) never reaches the
// generation call and never consumes a trial attempt. A call that ran and
// failed is recorded as a failure and surfaced verbatim, still without
// consuming an attempt.
func (m *Meter) Generate(ctx context.Context, clientID, topic string) *GenerateOutcome {
	credential := m.credentialValue(ctx, clientID)
	hasCredential := credential != ""
	trialMode := !hasCredential

	m.trail.Record(ctx, EventAttempt, clientID, Details{
		Topic:               topic,
		HasCustomCredential: hasCredential,
	})

	if trialMode {
		st := m.ledger.Status(ctx, clientID)
		if st.Remaining <= 0 {
			return &GenerateOutcome{
				Error:           "Free attempts exhausted. Please configure your own credential.",
				NeedsCredential: true,
				TrialMode:       true,
			}
		}
	}

	check := m.CheckAndConsume(ctx, clientID, WindowMinute)
	if !check.Allowed {
		return &GenerateOutcome{
			Error:       check.Message,
			RateLimited: true,
			TrialMode:   trialMode,
		}
	}

	if m.generator == nil {
		return &GenerateOutcome{
			Error:     "no generator configured",
			TrialMode: trialMode,
		}
	}

	began := time.Now()
	result, err := m.generator.Generate(ctx, topic, credential)
	if err != nil {
		m.metrics.RecordGeneration(false, time.Since(began))
		m.trail.Record(ctx, EventFailure, clientID, Details{
			Topic:               topic,
			Error:               err.Error(),
			HasCustomCredential: hasCredential,
		})
		return &GenerateOutcome{
			Error:     err.Error(),
			TrialMode: trialMode,
		}
	}
	if !result.Success {
		m.metrics.RecordGeneration(false, time.Since(began))
		message := result.Error
		if message == "" {
			message = "generation failed"
		}
		m.trail.Record(ctx, EventFailure, clientID, Details{
			Topic:               topic,
			Error:               message,
			HasCustomCredential: hasCredential,
		})
		return &GenerateOutcome{
			Error:     message,
			TrialMode: trialMode,
		}
	}
	m.metrics.RecordGeneration(true, time.Since(began))

	details := Details{Topic: topic, HasCustomCredential: hasCredential}
	if trialMode {
		st := m.ledger.ConsumeOne(ctx, clientID)
		details.FreeAttemptsRemaining = st.Remaining
	}
	m.trail.Record(ctx, EventSuccess, clientID, details)

	return &GenerateOutcome{
		Success:   true,
		Content:   result.Content,
		TrialMode: trialMode,
	}
}

// credentialValue returns the client's stored credential, or "" when none is
// configured. The persisted value is loaded on first sight of the client and
// cached; a broken store degrades to session-scoped credential state.
func (m *Meter) credentialValue(ctx context.Context, clientID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if credential, ok := m.credentials[clientID]; ok {
		return credential
	}

	credential := ""
	if m.kv != nil {
		raw, err := m.kv.Get(ctx, credentialKeyPrefix+clientID)
		switch {
		case err == nil:
			decoded, derr := base64.StdEncoding.DecodeString(raw)
			if derr != nil {
				m.logger.Warn("stored credential is unreadable",
					Field{Key: "client_id", Value: clientID},
					Field{Key: "error", Value: fmt.Sprintf("decode: %v", derr)},
				)
			} else if ValidateCredential(string(decoded)) == nil {
				credential = string(decoded)
			}
		case errors.Is(err, ErrKeyNotFound):
			// First sighting of this client
		default:
			m.logger.Warn("credential store read failed",
				Field{Key: "client_id", Value: clientID},
				Field{Key: "error", Value: err.Error()},
			)
			// Do not cache: the next call retries the store
			return ""
		}
	}

	m.credentials[clientID] = credential
	return credential
}
