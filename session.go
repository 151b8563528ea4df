package vigil

import (
	"context"
	"time"
)

// Change is one successful fetch delivered by a Session. Data holds the raw
// record batch as decoded from the wire; Meta carries the protocol headers
// that accompanied the response (index, leader, and last-contact markers).
type Change struct {
	Data any
	Meta map[string]string
}

// Session is one open long-poll watch against the coordination service.
//
// Changes emits a Change per successful fetch, including the initial one.
// Errors emits transport failures; a session may keep running after an error.
// Done is closed exactly once when the session terminates for any reason,
// including Close. UpdateTime reports when the last successful change was
// delivered, and the zero time before the first one.
type Session interface {
	Changes() <-chan Change
	Errors() <-chan error
	Done() <-chan struct{}
	UpdateTime() time.Time
	Close()
}

// Source opens watch sessions. The Keeper holds at most one session at a
// time and opens a fresh one for every retry cycle.
type Source interface {
	Open(ctx context.Context) (Session, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (Session, error)

// Open calls f.
func (f SourceFunc) Open(ctx context.Context) (Session, error) { return f(ctx) }
