package playback

import "time"

// Load outcomes reported to Metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
	OutcomeClosed    = "closed"
)

// Reconcile results reported to Metrics.
const (
	ReconcileSkipped  = "skipped"
	ReconcileIssued   = "issued"
	ReconcileRejected = "rejected"
)

// Metrics receives controller instrumentation.
type Metrics interface {
	LoadStarted()
	LoadFinished(outcome string, elapsed time.Duration)
	ReconcileAttempt(result string)
	WatchdogTick()
	SessionOpened()
	SessionClosed()
}

type nopMetrics struct{}

func (nopMetrics) LoadStarted() {}
func (nopMetrics) LoadFinished(string, time.Duration) {}
func (nopMetrics) ReconcileAttempt(string) {}
func (nopMetrics) WatchdogTick() {}
func (nopMetrics) SessionOpened() {}
func (nopMetrics) SessionClosed() {}
