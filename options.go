package vigil

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// Option configures the processing pipeline wrapped around the change
// callback. Pipeline options add middleware for retry, timeout, circuit
// breaking, and other reliability patterns.
//
// Instance configuration (startup timeout, intervals, codec, clock) is
// handled via chainable methods on the Keeper before calling Start().
type Option func(pipz.Chainable[*Update]) pipz.Chainable[*Update]

// buildPipeline wraps a terminal with pipeline options.
func buildPipeline(terminal pipz.Chainable[*Update], opts []Option) pipz.Chainable[*Update] {
	pipeline := terminal
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}
	return pipeline
}

// WithRetry wraps the pipeline with retry logic.
// A failed callback is retried immediately up to maxAttempts times.
// For exponential backoff between retries, use WithBackoff instead.
func WithRetry(maxAttempts int) Option {
	return func(p pipz.Chainable[*Update]) pipz.Chainable[*Update] {
		return pipz.NewRetry("retry", p, maxAttempts)
	}
}

// WithBackoff wraps the pipeline with exponential backoff retry logic.
// A failed callback is retried with increasing delays: baseDelay,
// 2*baseDelay, 4*baseDelay, and so on.
func WithBackoff(maxAttempts int, baseDelay time.Duration) Option {
	return func(p pipz.Chainable[*Update]) pipz.Chainable[*Update] {
		return pipz.NewBackoff("backoff", p, maxAttempts, baseDelay)
	}
}

// WithTimeout wraps the pipeline with a timeout.
// If the callback takes longer than the specified duration, the delivery
// fails with a timeout error.
func WithTimeout(d time.Duration) Option {
	return func(p pipz.Chainable[*Update]) pipz.Chainable[*Update] {
		return pipz.NewTimeout("timeout", p, d)
	}
}

// WithCircuitBreaker wraps the pipeline with circuit breaker protection.
// After 'failures' consecutive callback failures, the circuit opens and
// rejects further deliveries until 'recovery' time has passed.
func WithCircuitBreaker(failures int, recovery time.Duration) Option {
	return func(p pipz.Chainable[*Update]) pipz.Chainable[*Update] {
		return pipz.NewCircuitBreaker("circuit-breaker", p, failures, recovery)
	}
}

// WithErrorHandler adds error observation to the pipeline.
// Errors are passed to the handler for logging, metrics, or alerting,
// but the error still propagates. Use this for observability, not recovery.
func WithErrorHandler(handler pipz.Chainable[*pipz.Error[*Update]]) Option {
	return func(p pipz.Chainable[*Update]) pipz.Chainable[*Update] {
		return pipz.NewHandle("error-handler", p, handler)
	}
}

// WithMiddleware wraps the pipeline with a sequence of processors.
// Processors execute in order, with the wrapped callback last.
//
// Use the Use* functions to create processors for common patterns, or
// provide custom pipz.Chainable implementations directly.
func WithMiddleware(processors ...pipz.Chainable[*Update]) Option {
	return func(p pipz.Chainable[*Update]) pipz.Chainable[*Update] {
		all := make([]pipz.Chainable[*Update], 0, len(processors)+1)
		all = append(all, processors...)
		all = append(all, p)
		return pipz.NewSequence("middleware", all...)
	}
}

// UseTransform creates a processor that transforms the update.
// Cannot fail. Use for pure transformations that always succeed.
func UseTransform(name string, fn func(context.Context, *Update) *Update) pipz.Chainable[*Update] {
	return pipz.Transform(pipz.Name(name), fn)
}

// UseApply creates a processor that can transform the update and fail.
func UseApply(name string, fn func(context.Context, *Update) (*Update, error)) pipz.Chainable[*Update] {
	return pipz.Apply(pipz.Name(name), fn)
}

// UseEffect creates a processor that performs a side effect.
// The update passes through unchanged. Use for logging, metrics, or
// notifications that should not affect the snapshot.
func UseEffect(name string, fn func(context.Context, *Update) error) pipz.Chainable[*Update] {
	return pipz.Effect(pipz.Name(name), fn)
}
