package vigil

// Update carries one snapshot change through the callback pipeline.
// Pipeline stages can compare the previous and current views to decide what
// changed.
type Update struct {
	// Previous is the snapshot that was current before this change.
	// On a retry restart it is the last snapshot from the prior session.
	Previous Snapshot

	// Current is the snapshot built from this change.
	Current Snapshot

	// Raw is the record batch the change carried, before validation.
	// Useful for debugging; nil on a retry restart.
	Raw any
}
