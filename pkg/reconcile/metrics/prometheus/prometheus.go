// Package prommetrics implements reconcile.Metrics using Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

const subsystem = "reconcile"

// Metrics implements reconcile.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	rejectionsTotal           *prometheus.CounterVec
	accountsProvisionedTotal  *prometheus.CounterVec
	accountsRenewedTotal      *prometheus.CounterVec
	notificationsTotal        *prometheus.CounterVec
	directoryOpsTotal         *prometheus.CounterVec
	directoryOpDuration       *prometheus.HistogramVec
	circuitBreakerChanges     *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation registered with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_events_total",
			Help:      "Total number of webhook events processed, by event type and outcome.",
		}, []string{"event_type", "outcome"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of webhook reconciliation in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		rejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rejections_total",
			Help:      "Total number of rejected webhook events, by reason.",
		}, []string{"reason"}),

		accountsProvisionedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "accounts_provisioned_total",
			Help:      "Total number of accounts created from webhook events.",
		}, []string{"tier"}),

		accountsRenewedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "accounts_renewed_total",
			Help:      "Total number of existing accounts updated from webhook events.",
		}, []string{"tier"}),

		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_total",
			Help:      "Total number of welcome notifications attempted, by status.",
		}, []string{"status"}),

		directoryOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "directory_operations_total",
			Help:      "Total number of account directory operations.",
		}, []string{"operation", "status"}),

		directoryOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "directory_operation_duration_seconds",
			Help:      "Duration of account directory operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		circuitBreakerChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of directory circuit breaker state changes.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	m.webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(eventType string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordRejection(reason string) {
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordAccountProvisioned(tier string) {
	m.accountsProvisionedTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) RecordAccountRenewed(tier string) {
	m.accountsRenewedTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) RecordNotification(status string) {
	m.notificationsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordDirectoryOperation(operation, status string, duration time.Duration) {
	m.directoryOpsTotal.WithLabelValues(operation, status).Inc()
	m.directoryOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerChanges.WithLabelValues(state).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) reconcile.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
