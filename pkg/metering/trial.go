package metering

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

const trialKeyPrefix = "trial_attempts:"

// LedgerConfig holds trial ledger configuration
type LedgerConfig struct {
	// MaxFreeAttempts is the lifetime cap on free attempts (default: 2)
	MaxFreeAttempts int

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking consumption (default: NoopMetrics)
	Metrics Metrics
}

// Ledger tracks lifetime free-attempt usage per client identity. Unlike the
// window counters the used count never expires; it only changes through
// ConsumeOne and Reset.
//
// Counts are persisted through a KeyValueStore but the in-memory copy is
// authoritative for the lifetime of the process, so a broken store degrades
// to session-scoped accounting rather than failing callers.
type Ledger struct {
	kv      KeyValueStore
	max     int
	logger  Logger
	metrics Metrics

	mu   sync.Mutex
	used map[string]int
}

// NewLedger creates a trial ledger over the given key/value store
func NewLedger(kv KeyValueStore, config LedgerConfig) *Ledger {
	if config.MaxFreeAttempts <= 0 {
		config.MaxFreeAttempts = 2
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}

	return &Ledger{
		kv:      kv,
		max:     config.MaxFreeAttempts,
		logger:  config.Logger,
		metrics: config.Metrics,
		used:    make(map[string]int),
	}
}

// MaxFreeAttempts returns the configured lifetime cap
func (g *Ledger) MaxFreeAttempts() int { return g.max }

// Status returns current trial accounting for the client
func (g *Ledger) Status(ctx context.Context, clientID string) TrialStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	used := g.load(ctx, clientID)
	return g.status(used)
}

// ConsumeOne increments the used count for the client. Callers invoke it only
// after a successful generation performed without a custom credential.
func (g *Ledger) ConsumeOne(ctx context.Context, clientID string) TrialStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	used := g.load(ctx, clientID) + 1
	g.used[clientID] = used
	g.persist(ctx, clientID, used)
	st := g.status(used)
	g.metrics.RecordTrialConsumption(st.Remaining)
	return st
}

// Reset sets the used count back to zero for the client
func (g *Ledger) Reset(ctx context.Context, clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.used[clientID] = 0
	g.persist(ctx, clientID, 0)
}

func (g *Ledger) status(used int) TrialStatus {
	return TrialStatus{
		Used:      used,
		Remaining: maxInt(0, g.max-used),
		TrialMode: true,
	}
}

// load reads the used count, preferring the in-memory copy. Called with mu held.
func (g *Ledger) load(ctx context.Context, clientID string) int {
	if used, ok := g.used[clientID]; ok {
		return used
	}

	used := 0
	if g.kv != nil {
		raw, err := g.kv.Get(ctx, trialKeyPrefix+clientID)
		switch {
		case err == nil:
			if n, perr := strconv.Atoi(raw); perr == nil && n >= 0 {
				used = n
			}
		case errors.Is(err, ErrKeyNotFound):
			// First sighting of this client
		default:
			g.logger.Warn("trial store read failed, using in-memory count",
				Field{Key: "client_id", Value: clientID},
				Field{Key: "error", Value: err.Error()},
			)
		}
	}

	g.used[clientID] = used
	return used
}

// persist writes the used count best-effort. Called with mu held.
func (g *Ledger) persist(ctx context.Context, clientID string, used int) {
	if g.kv == nil {
		return
	}
	if err := g.kv.Set(ctx, trialKeyPrefix+clientID, strconv.Itoa(used)); err != nil {
		g.logger.Warn("trial store write failed",
			Field{Key: "client_id", Value: clientID},
			Field{Key: "error", Value: err.Error()},
		)
	}
}
