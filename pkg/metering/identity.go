package metering

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const clientIDKey = "client_id"

// UnknownClient is the sentinel identity used when no origin address can be
// determined for a request.
const UnknownClient = "unknown"

// ClientIPFromRequest derives a best-effort bucketing key from the request's
// network origin: the first address in the X-Forwarded-For chain when
// present, the direct connection address otherwise, and UnknownClient as a
// last resort. Addresses are not durable identity (users share and rotate
// them), so callers must treat this value as a coarse key only.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return UnknownClient
}

// IdentityResolver produces the durable client identity used to key trial
// accounting and local counters: a random identifier generated once and
// persisted, then reused on every call.
type IdentityResolver struct {
	kv     KeyValueStore
	logger Logger

	mu        sync.Mutex
	ephemeral string
}

// NewIdentityResolver creates a resolver over the given key/value store
func NewIdentityResolver(kv KeyValueStore, logger Logger) *IdentityResolver {
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &IdentityResolver{kv: kv, logger: logger}
}

// ClientID returns the persisted identity, generating and storing one on
// first use. When the store is unavailable it returns a process-scoped
// ephemeral identifier instead of failing the caller.
func (r *IdentityResolver) ClientID(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.kv != nil {
		id, err := r.kv.Get(ctx, clientIDKey)
		switch {
		case err == nil && id != "":
			return id
		case err == nil || errors.Is(err, ErrKeyNotFound):
			// No identity persisted yet
			fresh := uuid.NewString()
			setErr := r.kv.Set(ctx, clientIDKey, fresh)
			if setErr == nil {
				return fresh
			}
			r.logger.Warn("identity store write failed, using ephemeral id",
				Field{Key: "error", Value: setErr.Error()},
			)
		default:
			// A transient read failure must not overwrite the persisted
			// identity; fall through to the ephemeral one without writing.
			r.logger.Warn("identity store read failed, using ephemeral id",
				Field{Key: "error", Value: err.Error()},
			)
		}
	}

	if r.ephemeral == "" {
		r.ephemeral = uuid.NewString()
	}
	return r.ephemeral
}
