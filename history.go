package vigil

import (
	"sync"
	"time"
)

// errorLog retains the most recent error and, when sized, a ring of recent
// errors with the time they were recorded. Diagnostics, transport errors,
// and callback failures all feed it.
type errorLog struct {
	mu      sync.RWMutex
	entries []logEntry
	size    int
	head    int
	count   int
	last    error
}

type logEntry struct {
	err error
	at  time.Time
}

// newErrorLog creates an error log. A size of 0 retains only the most
// recent error.
func newErrorLog(size int) *errorLog {
	l := &errorLog{size: size}
	if size > 0 {
		l.entries = make([]logEntry, size)
	}
	return l
}

func (l *errorLog) record(err error, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.last = err
	if l.size <= 0 {
		return
	}
	l.entries[l.head] = logEntry{err: err, at: at}
	l.head = (l.head + 1) % l.size
	if l.count < l.size {
		l.count++
	}
}

func (l *errorLog) lastError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}

// all returns the retained errors, oldest first. Nil when the ring is
// disabled or empty.
func (l *errorLog) all() []error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.count == 0 {
		return nil
	}
	result := make([]error, l.count)
	start := (l.head - l.count + l.size) % l.size
	for i := 0; i < l.count; i++ {
		result[i] = l.entries[(start+i)%l.size].err
	}
	return result
}
