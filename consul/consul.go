// Package consul provides a vigil.Source backed by Consul KV using
// recursive blocking queries.
package consul

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/zoobzio/vigil"
)

// DefaultWait is the long-poll wait duration for blocking queries.
const DefaultWait = 60 * time.Second

// Watcher opens watch sessions over a Consul KV key prefix.
type Watcher struct {
	client *api.Client
	prefix string
	wait   time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithWait overrides the long-poll wait duration.
func WithWait(d time.Duration) Option {
	return func(w *Watcher) {
		w.wait = d
	}
}

// New creates a Watcher for the given KV key prefix. The prefix is fetched
// recursively, so every key below it lands in the snapshot.
func New(client *api.Client, prefix string, opts ...Option) *Watcher {
	w := &Watcher{
		client: client,
		prefix: prefix,
		wait:   DefaultWait,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Open starts a blocking-query loop against the prefix. The first query runs
// with index 0, so it returns immediately and serves as the initial fetch;
// subsequent queries continue from the index of the prior response.
func (w *Watcher) Open(ctx context.Context) (vigil.Session, error) {
	if w.prefix == "" {
		return nil, fmt.Errorf("consul: key prefix is required")
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		changes: make(chan vigil.Change),
		errs:    make(chan error),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go s.run(sctx, w)
	return s, nil
}

type session struct {
	changes chan vigil.Change
	errs    chan error
	done    chan struct{}
	cancel  context.CancelFunc
	updated atomic.Int64
	once    sync.Once
}

func (s *session) run(ctx context.Context, w *Watcher) {
	defer close(s.done)

	kv := w.client.KV()
	var index uint64

	for {
		if ctx.Err() != nil {
			return
		}

		opts := &api.QueryOptions{
			WaitIndex: index,
			WaitTime:  w.wait,
		}
		opts = opts.WithContext(ctx)

		pairs, meta, err := kv.List(w.prefix, opts)
		if err != nil {
			// Context cancelled
			if ctx.Err() != nil {
				return
			}
			select {
			case s.errs <- err:
			case <-ctx.Done():
				return
			}
			continue
		}

		// Wait timeout without a change keeps the index stable.
		if meta.LastIndex == index {
			continue
		}
		index = meta.LastIndex

		s.updated.Store(time.Now().UnixNano())
		select {
		case s.changes <- vigil.Change{Data: records(pairs), Meta: headers(meta)}:
		case <-ctx.Done():
			return
		}
	}
}

// records converts KV pairs into the raw batch shape the snapshot builder
// consumes, with values as strings.
func records(pairs api.KVPairs) []any {
	batch := make([]any, 0, len(pairs))
	for _, p := range pairs {
		batch = append(batch, map[string]any{
			"Key":         p.Key,
			"Value":       string(p.Value),
			"CreateIndex": p.CreateIndex,
			"ModifyIndex": p.ModifyIndex,
			"LockIndex":   p.LockIndex,
			"Flags":       p.Flags,
		})
	}
	return batch
}

// headers renders query metadata as the protocol headers Consul sends them
// as. Last contact is in milliseconds, matching the wire header.
func headers(meta *api.QueryMeta) map[string]string {
	return map[string]string{
		"X-Consul-Index":       strconv.FormatUint(meta.LastIndex, 10),
		"X-Consul-KnownLeader": strconv.FormatBool(meta.KnownLeader),
		"X-Consul-LastContact": strconv.FormatInt(meta.LastContact.Milliseconds(), 10),
	}
}

func (s *session) Changes() <-chan vigil.Change { return s.changes }

func (s *session) Errors() <-chan error { return s.errs }

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) UpdateTime() time.Time {
	ns := s.updated.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *session) Close() {
	s.once.Do(s.cancel)
}

var _ vigil.Source = (*Watcher)(nil)
