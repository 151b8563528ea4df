package vigil

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ChannelSession is a scriptable Session for tests and in-process sources.
// Send, Fail, and End drive the change, error, and termination signals.
// Channels are buffered so a session can be scripted before the Keeper
// subscribes.
type ChannelSession struct {
	changes chan Change
	errs    chan error
	done    chan struct{}

	mu      sync.Mutex
	updated time.Time
	closed  bool
}

// NewChannelSession creates an idle ChannelSession.
func NewChannelSession() *ChannelSession {
	return &ChannelSession{
		changes: make(chan Change, 16),
		errs:    make(chan error, 16),
		done:    make(chan struct{}),
	}
}

// Send delivers a change and stamps the update time.
func (s *ChannelSession) Send(c Change) {
	s.mu.Lock()
	s.updated = time.Now()
	s.mu.Unlock()
	s.changes <- c
}

// Fail delivers a transport error. The session keeps running.
func (s *ChannelSession) Fail(err error) {
	s.errs <- err
}

// End terminates the session, as a server-side close would.
func (s *ChannelSession) End() {
	s.Close()
}

// SetUpdateTime overrides the update time, independent of Send.
func (s *ChannelSession) SetUpdateTime(t time.Time) {
	s.mu.Lock()
	s.updated = t
	s.mu.Unlock()
}

func (s *ChannelSession) Changes() <-chan Change { return s.changes }

func (s *ChannelSession) Errors() <-chan error { return s.errs }

func (s *ChannelSession) Done() <-chan struct{} { return s.done }

func (s *ChannelSession) UpdateTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}

func (s *ChannelSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// ErrSourceExhausted is returned by ChannelSource.Open once its script runs
// out, which keeps a restart loop failing deterministically.
var ErrSourceExhausted = errors.New("vigil: channel source exhausted")

// ChannelSource hands out scripted sessions and open failures in order.
type ChannelSource struct {
	mu    sync.Mutex
	queue []openOutcome
	opens int
}

type openOutcome struct {
	sess *ChannelSession
	err  error
}

// NewChannelSource creates a ChannelSource preloaded with sessions.
func NewChannelSource(sessions ...*ChannelSession) *ChannelSource {
	cs := &ChannelSource{}
	for _, s := range sessions {
		cs.QueueSession(s)
	}
	return cs
}

// QueueSession appends a session to the script.
func (cs *ChannelSource) QueueSession(s *ChannelSession) *ChannelSource {
	cs.mu.Lock()
	cs.queue = append(cs.queue, openOutcome{sess: s})
	cs.mu.Unlock()
	return cs
}

// QueueError appends an open failure to the script.
func (cs *ChannelSource) QueueError(err error) *ChannelSource {
	cs.mu.Lock()
	cs.queue = append(cs.queue, openOutcome{err: err})
	cs.mu.Unlock()
	return cs
}

// Opens returns how many times Open was called.
func (cs *ChannelSource) Opens() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.opens
}

// Open pops the next scripted outcome.
func (cs *ChannelSource) Open(_ context.Context) (Session, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.opens++
	if len(cs.queue) == 0 {
		return nil, ErrSourceExhausted
	}
	next := cs.queue[0]
	cs.queue = cs.queue[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.sess, nil
}

// Ensure the doubles satisfy the collaborator contracts.
var (
	_ Session = (*ChannelSession)(nil)
	_ Source  = (*ChannelSource)(nil)
)
