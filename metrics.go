package vigil

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key keeper events.
type MetricsProvider interface {
	// OnChangeReceived is called when a change arrives from the session.
	OnChangeReceived()

	// OnSnapshotApplied is called when a snapshot is rebuilt and stored.
	// Duration is the time taken to build and deliver it.
	OnSnapshotApplied(keys int, duration time.Duration)

	// OnHealthChange is called when the watch flips between healthy and
	// unhealthy.
	OnHealthChange(healthy bool)

	// OnDiagnostic is called once per malformed or undecodable record.
	OnDiagnostic(err error)

	// OnRetryScheduled is called when a restart attempt is scheduled.
	OnRetryScheduled(delay time.Duration)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnChangeReceived()                     {}
func (NoOpMetricsProvider) OnSnapshotApplied(_ int, _ time.Duration) {}
func (NoOpMetricsProvider) OnHealthChange(_ bool)                 {}
func (NoOpMetricsProvider) OnDiagnostic(_ error)                  {}
func (NoOpMetricsProvider) OnRetryScheduled(_ time.Duration)      {}
