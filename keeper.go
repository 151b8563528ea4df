package vigil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// Defaults for the keeper timers.
const (
	// DefaultStartupTimeout bounds the wait for the first fetch in Start.
	DefaultStartupTimeout = 5 * time.Second

	// DefaultRetryInterval is the delay between restart attempts after a
	// session ends.
	DefaultRetryInterval = time.Second

	// DefaultFallbackInterval is the tick of the silent-recovery probe.
	DefaultFallbackInterval = time.Second
)

// Keeper maintains a locally cached, continuously refreshed snapshot of a
// watched namespace and tells "data changed" apart from "the watch is
// degraded".
//
// Start opens a session against the Source and blocks until the first fetch,
// an error, or the startup deadline. Once initialized the Keeper rebuilds
// its Snapshot on every change, notifies listeners, and tracks health: an
// explicit session error flips it unhealthy and arms a probe that detects
// silent recovery through the session's update time. A session that ends on
// its own puts the Keeper back into a restart loop until Stop.
type Keeper struct {
	source           Source
	pipeline         pipz.Chainable[*Update]
	startupTimeout   time.Duration
	retryInterval    time.Duration
	fallbackInterval time.Duration
	clock            clockz.Clock
	codec            Codec
	metrics          MetricsProvider

	initialized atomic.Bool
	healthy     atomic.Bool
	snapshot    atomic.Pointer[Snapshot]
	headers     atomic.Pointer[map[string]string]
	log         *errorLog

	emitter emitter

	mu       sync.Mutex
	gen      uint64
	starting bool
	session  Session
	detach   chan struct{}
	fallback chan struct{}
	retry    chan struct{}
}

// New creates a Keeper watching source. fn is invoked for every snapshot
// applied after initialization, wrapped in the pipeline configured by opts.
// Pass nil to rely on listeners alone.
//
// Example:
//
//	keeper := vigil.New(
//	    consul.New(client, "config/myapp/"),
//	    func(ctx context.Context, prev, curr vigil.Snapshot) error {
//	        return app.Reconfigure(curr)
//	    },
//	    vigil.WithRetry(3),
//	).DecodeValues(vigil.JSONCodec{})
func New(source Source, fn func(ctx context.Context, prev, curr Snapshot) error, opts ...Option) *Keeper {
	if fn == nil {
		fn = func(context.Context, Snapshot, Snapshot) error { return nil }
	}
	terminal := pipz.Effect(pipz.Name("callback"), func(ctx context.Context, upd *Update) error {
		return fn(ctx, upd.Previous, upd.Current)
	})

	return &Keeper{
		source:           source,
		pipeline:         buildPipeline(terminal, opts),
		startupTimeout:   DefaultStartupTimeout,
		retryInterval:    DefaultRetryInterval,
		fallbackInterval: DefaultFallbackInterval,
		clock:            clockz.RealClock,
		log:              newErrorLog(0),
	}
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// StartupTimeout sets the maximum duration Start waits for the first fetch.
// Default: 5s. Must be called before Start().
func (k *Keeper) StartupTimeout(d time.Duration) *Keeper {
	k.startupTimeout = d
	return k
}

// RetryInterval sets the delay between restart attempts after a session
// ends. Default: 1s. Must be called before Start().
func (k *Keeper) RetryInterval(d time.Duration) *Keeper {
	k.retryInterval = d
	return k
}

// FallbackInterval sets the tick of the silent-recovery probe.
// Default: 1s. Must be called before Start().
func (k *Keeper) FallbackInterval(d time.Duration) *Keeper {
	k.fallbackInterval = d
	return k
}

// DecodeValues enables structured decoding of record values with the given
// codec. A record whose value fails to decode is excluded from the snapshot
// and reported as a diagnostic. Off by default: values are stored raw.
// Must be called before Start().
func (k *Keeper) DecodeValues(codec Codec) *Keeper {
	k.codec = codec
	return k
}

// Clock sets a custom clock for time operations.
// Use this with clockz.FakeClock for deterministic timer testing.
// Must be called before Start().
func (k *Keeper) Clock(clock clockz.Clock) *Keeper {
	k.clock = clock
	return k
}

// Metrics sets a metrics provider for observability integration.
// Must be called before Start().
func (k *Keeper) Metrics(provider MetricsProvider) *Keeper {
	k.metrics = provider
	return k
}

// ErrorHistorySize sets the number of recent errors to retain.
// Use 0 (default) to only retain the most recent error via LastError().
// Must be called before Start().
func (k *Keeper) ErrorHistorySize(n int) *Keeper {
	k.log = newErrorLog(n)
	return k
}

// -----------------------------------------------------------------------------
// Listener Registration
// -----------------------------------------------------------------------------

// OnChanged registers a listener invoked with the new snapshot after every
// applied change. Must be called before Start().
func (k *Keeper) OnChanged(fn func(context.Context, Snapshot)) *Keeper {
	k.emitter.onChanged(fn)
	return k
}

// OnHealthy registers a listener invoked when the watch becomes healthy.
// Must be called before Start().
func (k *Keeper) OnHealthy(fn func(context.Context)) *Keeper {
	k.emitter.onHealthy(fn)
	return k
}

// OnUnhealthy registers a listener invoked when the watch degrades.
// Must be called before Start().
func (k *Keeper) OnUnhealthy(fn func(context.Context)) *Keeper {
	k.emitter.onUnhealthy(fn)
	return k
}

// OnError registers a listener invoked for transport errors, restart
// failures, and record diagnostics. Must be called before Start().
func (k *Keeper) OnError(fn func(context.Context, error)) *Keeper {
	k.emitter.onError(fn)
	return k
}

// -----------------------------------------------------------------------------
// State Reads
// -----------------------------------------------------------------------------

// Initialized reports whether a first fetch has completed and the session's
// ongoing handlers are attached.
func (k *Keeper) Initialized() bool { return k.initialized.Load() }

// Healthy reports whether the watch is currently believed to be delivering
// changes.
func (k *Keeper) Healthy() bool { return k.healthy.Load() }

// Snapshot returns the current snapshot. Never blocks; returns the empty
// snapshot before the first successful fetch.
func (k *Keeper) Snapshot() Snapshot {
	if p := k.snapshot.Load(); p != nil {
		return *p
	}
	return Snapshot{}
}

// Headers returns a copy of the last captured protocol headers under
// lower-cased keys. Headers persist across transient errors and are not
// cleared by Stop, so the last known index stays observable.
func (k *Keeper) Headers() map[string]string {
	out := map[string]string{}
	if p := k.headers.Load(); p != nil {
		for key, v := range *p {
			out[key] = v
		}
	}
	return out
}

// LastError returns the last error encountered, or nil.
func (k *Keeper) LastError() error { return k.log.lastError() }

// ErrorHistory returns the retained errors, oldest first.
// Nil unless ErrorHistorySize was set.
func (k *Keeper) ErrorHistory() []error { return k.log.all() }

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start opens a watch session and blocks until the first fetch arrives, the
// session reports an error, or the startup deadline elapses. On success it
// returns the initial snapshot with the Keeper initialized, healthy, and
// subscribed to the session's ongoing signals. Diagnostics from the initial
// batch surface asynchronously through error listeners.
//
// Start fails with ErrAlreadyActive while a session is open, opening, or
// scheduled to reopen. A Start failure is not retried automatically; only a
// session that ends after successful initialization triggers the restart
// loop.
func (k *Keeper) Start(ctx context.Context) (Snapshot, error) {
	k.mu.Lock()
	if k.active() {
		k.mu.Unlock()
		return Snapshot{}, ErrAlreadyActive
	}
	k.starting = true
	gen := k.gen
	k.mu.Unlock()

	capitan.Emit(ctx, KeeperStarted, KeyStartupTimeout.Field(k.startupTimeout))

	snap, err := k.open(ctx, gen)

	k.mu.Lock()
	k.starting = false
	k.mu.Unlock()

	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Stop cancels the watch. Safe to call in any state and idempotent. The
// pending restart timer, the recovery probe, and the session's termination
// handler are all suppressed before the session closes, so no restart and no
// notification fires after Stop returns; diagnostics already queued may
// still surface.
func (k *Keeper) Stop() *Keeper {
	k.mu.Lock()
	k.gen++
	if k.retry != nil {
		close(k.retry)
		k.retry = nil
	}
	if k.detach != nil {
		close(k.detach)
		k.detach = nil
	}
	if k.session != nil {
		k.session.Close()
		k.session = nil
	}
	k.cancelFallbackLocked()
	k.initialized.Store(false)
	k.healthy.Store(false)
	k.mu.Unlock()

	capitan.Emit(context.Background(), KeeperStopped)
	return k
}

// active reports whether a session is open, opening, or scheduled to reopen.
// Callers hold k.mu.
func (k *Keeper) active() bool {
	return k.session != nil || k.starting || k.retry != nil
}

// open runs one full start attempt: open a session, race its first change
// against its first error and the startup deadline, and adopt it on success.
// gen detects a Stop that ran underneath the attempt.
func (k *Keeper) open(ctx context.Context, gen uint64) (Snapshot, error) {
	sess, err := k.source.Open(ctx)
	if err != nil {
		return Snapshot{}, &TransportError{Err: err}
	}

	deadline, cancel := k.clock.WithTimeout(ctx, k.startupTimeout)
	defer cancel()

	start := k.clock.Now()

	select {
	case c, ok := <-sess.Changes():
		if !ok {
			sess.Close()
			return Snapshot{}, &TransportError{Err: ErrSessionEnded}
		}
		return k.adopt(ctx, gen, sess, c, start)

	case err := <-sess.Errors():
		sess.Close()
		return Snapshot{}, &TransportError{Err: err}

	case <-sess.Done():
		sess.Close()
		return Snapshot{}, &TransportError{Err: ErrSessionEnded}

	case <-deadline.Done():
		sess.Close()
		if ctx.Err() != nil {
			return Snapshot{}, ctx.Err()
		}
		return Snapshot{}, ErrStartupTimeout
	}
}

// adopt installs a session that delivered its first change.
func (k *Keeper) adopt(ctx context.Context, gen uint64, sess Session, c Change, start time.Time) (Snapshot, error) {
	snap, diags := buildSnapshot(c.Data, k.codec)

	k.mu.Lock()
	if k.gen != gen {
		k.mu.Unlock()
		sess.Close()
		return Snapshot{}, errStopped
	}
	k.session = sess
	k.detach = make(chan struct{})
	detach := k.detach
	k.mergeHeadersLocked(c.Meta)
	k.snapshot.Store(&snap)
	k.initialized.Store(true)
	k.healthy.Store(true)
	k.mu.Unlock()

	capitan.Emit(ctx, KeeperSnapshotApplied, KeyKeys.Field(snap.Len()))
	if k.metrics != nil {
		k.metrics.OnSnapshotApplied(snap.Len(), k.clock.Since(start))
	}
	k.queueDiagnostics(ctx, diags)

	go k.watch(ctx, sess, detach)

	return snap, nil
}

// mergeHeadersLocked copies protocol headers verbatim under lower-cased
// keys. Merging, not replacing, keeps the last known value of a header the
// latest response omitted. Callers hold k.mu.
func (k *Keeper) mergeHeadersLocked(meta map[string]string) {
	if len(meta) == 0 {
		return
	}
	merged := map[string]string{}
	if p := k.headers.Load(); p != nil {
		for key, v := range *p {
			merged[key] = v
		}
	}
	for key, v := range meta {
		merged[strings.ToLower(key)] = v
	}
	k.headers.Store(&merged)
}

// -----------------------------------------------------------------------------
// Ongoing Session Handlers
// -----------------------------------------------------------------------------

// watch consumes the session's ongoing signals until the session ends or the
// detach channel closes. Detaching first is how Stop suppresses the
// auto-restart an explicit close would otherwise trigger.
func (k *Keeper) watch(ctx context.Context, sess Session, detach chan struct{}) {
	changes := sess.Changes()
	errs := sess.Errors()
	for {
		select {
		case <-detach:
			return
		case <-ctx.Done():
			// Context cancellation is an implicit Stop.
			k.Stop()
			return
		case c, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			k.handleChange(ctx, c)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			k.handleError(ctx, sess, err)
		case <-sess.Done():
			k.handleEnd(ctx, detach)
			return
		}
	}
}

func (k *Keeper) handleChange(ctx context.Context, c Change) {
	capitan.Emit(ctx, KeeperChangeReceived)
	if k.metrics != nil {
		k.metrics.OnChangeReceived()
	}

	start := k.clock.Now()
	snap, diags := buildSnapshot(c.Data, k.codec)

	k.mu.Lock()
	k.mergeHeadersLocked(c.Meta)
	prev := Snapshot{}
	if p := k.snapshot.Load(); p != nil {
		prev = *p
	}
	k.snapshot.Store(&snap)
	recovered := !k.healthy.Load()
	if recovered {
		k.healthy.Store(true)
		k.cancelFallbackLocked()
	}
	k.mu.Unlock()

	if recovered {
		k.emitHealthy(ctx)
	}
	k.deliver(ctx, prev, snap, c.Data, start)
	k.queueDiagnostics(ctx, diags)
}

func (k *Keeper) handleError(ctx context.Context, sess Session, err error) {
	k.mu.Lock()
	wasHealthy := k.healthy.Load()
	if wasHealthy {
		k.healthy.Store(false)
	}
	k.startFallbackLocked(ctx, sess)
	k.mu.Unlock()

	terr := &TransportError{Err: err}
	k.log.record(terr, k.clock.Now())
	if wasHealthy {
		k.emitUnhealthy(ctx)
	}
	k.emitError(ctx, terr)
}

func (k *Keeper) handleEnd(ctx context.Context, detach chan struct{}) {
	k.mu.Lock()
	if k.detach != detach {
		// Stop got here first; the explicit close owns the shutdown.
		k.mu.Unlock()
		return
	}
	k.detach = nil
	if k.session != nil {
		k.session.Close()
		k.session = nil
	}
	k.cancelFallbackLocked()
	k.initialized.Store(false)
	wasHealthy := k.healthy.Load()
	k.healthy.Store(false)
	k.scheduleRetryLocked(ctx)
	k.mu.Unlock()

	capitan.Emit(ctx, KeeperSessionEnded)
	if wasHealthy {
		k.emitUnhealthy(ctx)
	}
}

// deliver runs the callback pipeline and notifies changed listeners. A
// pipeline failure is recorded but does not block listener notification.
func (k *Keeper) deliver(ctx context.Context, prev, curr Snapshot, raw any, start time.Time) {
	upd := &Update{Previous: prev, Current: curr, Raw: raw}
	if _, err := k.pipeline.Process(ctx, upd); err != nil {
		k.log.record(err, k.clock.Now())
		capitan.Emit(ctx, KeeperApplyFailed, KeyError.Field(err.Error()))
	} else {
		capitan.Emit(ctx, KeeperSnapshotApplied, KeyKeys.Field(curr.Len()))
		if k.metrics != nil {
			k.metrics.OnSnapshotApplied(curr.Len(), k.clock.Since(start))
		}
	}
	k.emitter.emitChanged(ctx, curr)
}

// queueDiagnostics defers diagnostic emission off the producing call stack,
// so a caller registering a listener right after the triggering call still
// observes them. Order within the batch is preserved.
func (k *Keeper) queueDiagnostics(ctx context.Context, diags []error) {
	if len(diags) == 0 {
		return
	}
	now := k.clock.Now()
	for _, d := range diags {
		k.log.record(d, now)
	}
	go func() {
		for _, d := range diags {
			capitan.Emit(ctx, KeeperDiagnostic, KeyError.Field(d.Error()))
			if k.metrics != nil {
				k.metrics.OnDiagnostic(d)
			}
			k.emitter.emitError(ctx, d)
		}
	}()
}

// -----------------------------------------------------------------------------
// Fallback Recovery Probe
// -----------------------------------------------------------------------------

// startFallbackLocked arms the silent-recovery probe. A degraded path can
// stop reporting errors without ever closing the session, so health cannot
// be inferred from error signals alone; the probe watches the session's
// update time instead. At most one probe runs at a time; arming a new one
// cancels the prior one. Callers hold k.mu.
func (k *Keeper) startFallbackLocked(ctx context.Context, sess Session) {
	k.cancelFallbackLocked()
	handle := make(chan struct{})
	k.fallback = handle
	timer := k.clock.NewTimer(k.fallbackInterval)
	go k.probe(ctx, sess, sess.UpdateTime(), handle, timer)
}

// cancelFallbackLocked cancels an armed probe. Callers hold k.mu.
func (k *Keeper) cancelFallbackLocked() {
	if k.fallback != nil {
		close(k.fallback)
		k.fallback = nil
	}
}

// probe ticks until the watch is healthy again. If the session's update time
// has moved from the baseline, a change was delivered without the normal
// healthy transition: flip healthy and notify, without a changed event since
// the data already went through the change handler.
func (k *Keeper) probe(ctx context.Context, sess Session, baseline time.Time, handle chan struct{}, timer clockz.Timer) {
	defer timer.Stop()

	for {
		select {
		case <-handle:
			return
		case <-ctx.Done():
			return
		case <-timer.C():
			if k.healthy.Load() {
				k.releaseFallback(handle)
				return
			}
			if !sess.UpdateTime().Equal(baseline) {
				k.mu.Lock()
				if k.fallback != handle || k.healthy.Load() {
					k.mu.Unlock()
					return
				}
				k.fallback = nil
				k.healthy.Store(true)
				k.mu.Unlock()
				k.emitHealthy(ctx)
				return
			}
			timer.Reset(k.fallbackInterval)
		}
	}
}

func (k *Keeper) releaseFallback(handle chan struct{}) {
	k.mu.Lock()
	if k.fallback == handle {
		k.fallback = nil
	}
	k.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Restart Loop
// -----------------------------------------------------------------------------

// scheduleRetryLocked arms the restart timer. Callers hold k.mu.
func (k *Keeper) scheduleRetryLocked(ctx context.Context) {
	if k.retry != nil {
		return
	}
	handle := make(chan struct{})
	k.retry = handle
	gen := k.gen
	timer := k.clock.NewTimer(k.retryInterval)

	go func() {
		defer timer.Stop()

		capitan.Emit(ctx, KeeperRetryScheduled, KeyRetryDelay.Field(k.retryInterval))
		if k.metrics != nil {
			k.metrics.OnRetryScheduled(k.retryInterval)
		}

		select {
		case <-handle:
		case <-ctx.Done():
		case <-timer.C():
			k.retryStart(ctx, gen, handle)
		}
	}()
}

// retryStart reruns the full start procedure. A failure is surfaced to error
// listeners and rescheduled indefinitely; success restores the snapshot and
// emits healthy, then changed.
func (k *Keeper) retryStart(ctx context.Context, gen uint64, handle chan struct{}) {
	k.mu.Lock()
	if k.retry != handle || k.gen != gen {
		k.mu.Unlock()
		return
	}
	k.retry = nil
	k.starting = true
	k.mu.Unlock()

	prev := k.Snapshot()
	snap, err := k.open(ctx, gen)

	k.mu.Lock()
	k.starting = false
	stopped := k.gen != gen
	if err != nil && !stopped {
		k.scheduleRetryLocked(ctx)
	}
	k.mu.Unlock()

	if err != nil {
		if stopped || errors.Is(err, errStopped) {
			return
		}
		k.log.record(err, k.clock.Now())
		k.emitError(ctx, err)
		return
	}

	k.emitHealthy(ctx)
	k.deliver(ctx, prev, snap, nil, k.clock.Now())
}

// -----------------------------------------------------------------------------
// Emission
// -----------------------------------------------------------------------------

func (k *Keeper) emitHealthy(ctx context.Context) {
	capitan.Emit(ctx, KeeperHealthy)
	if k.metrics != nil {
		k.metrics.OnHealthChange(true)
	}
	k.emitter.emitHealthy(ctx)
}

func (k *Keeper) emitUnhealthy(ctx context.Context) {
	capitan.Emit(ctx, KeeperUnhealthy)
	if k.metrics != nil {
		k.metrics.OnHealthChange(false)
	}
	k.emitter.emitUnhealthy(ctx)
}

func (k *Keeper) emitError(ctx context.Context, err error) {
	capitan.Emit(ctx, KeeperError, KeyError.Field(err.Error()))
	k.emitter.emitError(ctx, err)
}
