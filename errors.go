package vigil

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by Start when a watch session is already
	// open, opening, or scheduled to reopen.
	ErrAlreadyActive = errors.New("vigil: watch already active")

	// ErrStartupTimeout is returned by Start when the session delivers no
	// change before the startup deadline.
	ErrStartupTimeout = errors.New("vigil: no initial fetch before the startup deadline")

	// ErrSessionEnded reports a session that terminated before delivering a
	// first change.
	ErrSessionEnded = errors.New("vigil: session ended")

	// errStopped aborts an in-flight open when Stop ran underneath it.
	errStopped = errors.New("vigil: keeper stopped")
)

// TransportError wraps a failure reported by the watch session or its
// source. It is returned by Start when the first fetch fails and delivered
// to error listeners for failures after initialization.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("vigil: transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PayloadError reports a fetched payload that is not a record batch at all.
// It carries the offending value.
type PayloadError struct {
	Value any
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("vigil: payload is not a record batch (%T)", e.Value)
}

// RecordError reports one malformed element inside an otherwise well-formed
// batch. It carries the offending element.
type RecordError struct {
	Record any
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("vigil: malformed record: %v", e.Record)
}

// DecodeError reports a record whose raw value could not be decoded as
// structured data. The record is excluded from the snapshot.
type DecodeError struct {
	Key string
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("vigil: value for %q is not decodable: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
