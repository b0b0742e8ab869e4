package metering

import "time"

// Metrics defines the interface for tracking metering operations.
type Metrics interface {
	// RecordCheck records the outcome of a window check-and-consume.
	RecordCheck(window Window, allowed bool)

	// RecordCheckDuration records the duration of a window check.
	RecordCheckDuration(window Window, duration time.Duration)

	// RecordTrialConsumption records a consumed free attempt and the attempts left.
	RecordTrialConsumption(remaining int)

	// RecordGeneration records the outcome and duration of a generation call.
	RecordGeneration(success bool, duration time.Duration)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordAlert records an emitted usage alert.
	RecordAlert(alertType, severity string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordCheck(window Window, allowed bool)                              {}
func (n *NoopMetrics) RecordCheckDuration(window Window, duration time.Duration)            {}
func (n *NoopMetrics) RecordTrialConsumption(remaining int)                                 {}
func (n *NoopMetrics) RecordGeneration(success bool, duration time.Duration)                {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordAlert(alertType, severity string)                               {}
