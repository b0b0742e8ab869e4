package metering

import "errors"

var (
	// ErrQuotaExceeded is returned when a window limit is reached
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrTrialExhausted is returned when all free attempts are used and no custom credential is configured
	ErrTrialExhausted = errors.New("trial exhausted")

	// ErrInvalidCredential is returned for a malformed custom credential
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrInvalidWindow is returned for an unknown window kind
	ErrInvalidWindow = errors.New("invalid window")

	// ErrLimitReached is returned by a CounterStore when an increment would push the count past the limit
	ErrLimitReached = errors.New("limit reached")

	// ErrKeyNotFound is returned by a KeyValueStore when a key has no value
	ErrKeyNotFound = errors.New("key not found")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)
