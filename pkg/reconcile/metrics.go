package reconcile

import "time"

// Metrics defines the instrumentation hooks used by the Reconciler and its wrappers.
type Metrics interface {
	// RecordWebhookEvent counts a processed event.
	// outcome is one of the OutcomeKind values.
	RecordWebhookEvent(eventType, outcome string)

	// RecordWebhookProcessingDuration records how long one event took to reconcile.
	RecordWebhookProcessingDuration(eventType string, duration time.Duration)

	// RecordRejection counts rejected events by reason (e.g. "malformed_payload", "unrecognized_plan").
	RecordRejection(reason string)

	// RecordAccountProvisioned counts accounts created for a tier.
	RecordAccountProvisioned(tier string)

	// RecordAccountRenewed counts existing accounts updated for a tier.
	RecordAccountRenewed(tier string)

	// RecordNotification counts welcome notifications by status ("sent", "failed").
	RecordNotification(status string)

	// RecordDirectoryOperation records a directory call.
	// status: "success" or "error"
	RecordDirectoryOperation(operation, status string, duration time.Duration)

	// RecordCircuitBreakerStateChange records a directory circuit breaker transition.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_ string, _ time.Duration) {}
func (n *NoopMetrics) RecordRejection(_ string)                                  {}
func (n *NoopMetrics) RecordAccountProvisioned(_ string)                         {}
func (n *NoopMetrics) RecordAccountRenewed(_ string)                             {}
func (n *NoopMetrics) RecordNotification(_ string)                               {}
func (n *NoopMetrics) RecordDirectoryOperation(_, _ string, _ time.Duration)     {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(_ string)                  {}
