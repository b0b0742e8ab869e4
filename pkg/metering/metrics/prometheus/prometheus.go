package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mockpress/mockpress/pkg/metering"
)

// Metrics implements metering.Metrics using Prometheus.
type Metrics struct {
	checksTotal        *prometheus.CounterVec
	checkDuration      *prometheus.HistogramVec
	trialRemaining     prometheus.Gauge
	trialConsumedTotal prometheus.Counter
	generationsTotal   *prometheus.CounterVec
	generationDuration prometheus.Histogram
	storageOpsDuration *prometheus.HistogramVec
	storageOpsErrors   *prometheus.CounterVec
	alertsTotal        *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		checksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_checks_total",
			Help:      "Total number of window check-and-consume attempts.",
		}, []string{"window", "allowed"}),

		checkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "window_check_duration_seconds",
			Help:      "Latency of window checks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"window"}),

		trialRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trial_attempts_remaining",
			Help:      "Free attempts remaining after the most recent consumption.",
		}),

		trialConsumedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trial_attempts_consumed_total",
			Help:      "Total number of free attempts consumed.",
		}),

		generationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total number of generation calls.",
		}, []string{"success"}),

		generationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Latency of generation calls.",
			Buckets:   prometheus.DefBuckets,
		}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		alertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_alerts_total",
			Help:      "Total number of usage alerts emitted.",
		}, []string{"type", "severity"}),
	}
}

func (m *Metrics) RecordCheck(window metering.Window, allowed bool) {
	m.checksTotal.WithLabelValues(string(window), boolLabel(allowed)).Inc()
}

func (m *Metrics) RecordCheckDuration(window metering.Window, duration time.Duration) {
	m.checkDuration.WithLabelValues(string(window)).Observe(duration.Seconds())
}

func (m *Metrics) RecordTrialConsumption(remaining int) {
	m.trialConsumedTotal.Inc()
	m.trialRemaining.Set(float64(remaining))
}

func (m *Metrics) RecordGeneration(success bool, duration time.Duration) {
	m.generationsTotal.WithLabelValues(boolLabel(success)).Inc()
	m.generationDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordAlert(alertType, severity string) {
	m.alertsTotal.WithLabelValues(alertType, severity).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
