package vigil

import "github.com/zoobzio/capitan"

// Keeper lifecycle signals.
var (
	// KeeperStarted is emitted when Start opens a watch.
	KeeperStarted = capitan.NewSignal(
		"vigil.keeper.started",
		"Watch started",
	)

	// KeeperStopped is emitted when the watch is explicitly stopped.
	KeeperStopped = capitan.NewSignal(
		"vigil.keeper.stopped",
		"Watch stopped",
	)

	// KeeperSessionEnded is emitted when an active session terminates on its
	// own and a restart cycle begins.
	KeeperSessionEnded = capitan.NewSignal(
		"vigil.keeper.session.ended",
		"Watch session terminated",
	)

	// KeeperRetryScheduled is emitted when a restart attempt is scheduled.
	KeeperRetryScheduled = capitan.NewSignal(
		"vigil.keeper.retry.scheduled",
		"Watch restart scheduled",
	)
)

// Health signals.
var (
	// KeeperHealthy is emitted when the watch transitions to healthy.
	KeeperHealthy = capitan.NewSignal(
		"vigil.keeper.healthy",
		"Watch recovered",
	)

	// KeeperUnhealthy is emitted when the watch transitions to unhealthy.
	KeeperUnhealthy = capitan.NewSignal(
		"vigil.keeper.unhealthy",
		"Watch degraded",
	)
)

// Snapshot signals.
var (
	// KeeperChangeReceived is emitted when a change arrives from the session.
	KeeperChangeReceived = capitan.NewSignal(
		"vigil.keeper.change.received",
		"Change received from session",
	)

	// KeeperSnapshotApplied is emitted when a snapshot is rebuilt and stored.
	KeeperSnapshotApplied = capitan.NewSignal(
		"vigil.keeper.snapshot.applied",
		"Snapshot rebuilt",
	)

	// KeeperApplyFailed is emitted when the change callback pipeline fails.
	KeeperApplyFailed = capitan.NewSignal(
		"vigil.keeper.apply.failed",
		"Change callback failed",
	)

	// KeeperDiagnostic is emitted once per malformed or undecodable record.
	KeeperDiagnostic = capitan.NewSignal(
		"vigil.keeper.diagnostic",
		"Malformed or undecodable record",
	)

	// KeeperError is emitted for transport failures after initialization.
	KeeperError = capitan.NewSignal(
		"vigil.keeper.error",
		"Watch transport error",
	)
)
