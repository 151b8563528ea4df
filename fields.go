package vigil

import "github.com/zoobzio/capitan"

// Field keys for Keeper events.
var (
	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyKeys is the number of records in an applied snapshot.
	KeyKeys = capitan.NewIntKey("keys")

	// KeyStartupTimeout is the configured initial-fetch deadline.
	KeyStartupTimeout = capitan.NewDurationKey("startup_timeout")

	// KeyRetryDelay is the delay before the next restart attempt.
	KeyRetryDelay = capitan.NewDurationKey("retry_delay")
)
