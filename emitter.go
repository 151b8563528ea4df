package vigil

import (
	"context"
	"sync"
)

// emitter fans notifications out to directly registered listeners. Listeners
// for one event run in registration order. Cross-event ordering (healthy
// before changed on recovery, unhealthy before error on degradation) is the
// caller's responsibility; the emitter only guarantees per-event order.
type emitter struct {
	mu        sync.RWMutex
	changed   []func(context.Context, Snapshot)
	healthy   []func(context.Context)
	unhealthy []func(context.Context)
	errs      []func(context.Context, error)
}

func (e *emitter) onChanged(fn func(context.Context, Snapshot)) {
	e.mu.Lock()
	e.changed = append(e.changed, fn)
	e.mu.Unlock()
}

func (e *emitter) onHealthy(fn func(context.Context)) {
	e.mu.Lock()
	e.healthy = append(e.healthy, fn)
	e.mu.Unlock()
}

func (e *emitter) onUnhealthy(fn func(context.Context)) {
	e.mu.Lock()
	e.unhealthy = append(e.unhealthy, fn)
	e.mu.Unlock()
}

func (e *emitter) onError(fn func(context.Context, error)) {
	e.mu.Lock()
	e.errs = append(e.errs, fn)
	e.mu.Unlock()
}

func (e *emitter) emitChanged(ctx context.Context, snap Snapshot) {
	e.mu.RLock()
	listeners := e.changed
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, snap)
	}
}

func (e *emitter) emitHealthy(ctx context.Context) {
	e.mu.RLock()
	listeners := e.healthy
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx)
	}
}

func (e *emitter) emitUnhealthy(ctx context.Context) {
	e.mu.RLock()
	listeners := e.unhealthy
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx)
	}
}

func (e *emitter) emitError(ctx context.Context, err error) {
	e.mu.RLock()
	listeners := e.errs
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, err)
	}
}
