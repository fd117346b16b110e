package store

import (
	"context"
	"errors"
	"log/slog"
)

// RetryLimits caps the two retrying paths of the policy. Zero means unbounded:
// the operation retries until it succeeds, fails otherwise, or ctx is done.
type RetryLimits struct {
	// MaxThrottleRetries caps retries after throttling (429).
	MaxThrottleRetries int

	// MaxInvalidations caps reconnects after a missing collection (404).
	MaxInvalidations int
}

// Policy executes operations with failure classification and retries.
// Safe for concurrent use.
type Policy struct {
	clock      Clock
	sink       Sink
	logger     *slog.Logger
	limits     RetryLimits
	invalidate func()
}

// NewPolicy creates a Policy. invalidate is called before retrying a missing
// collection; it may be nil.
func NewPolicy(invalidate func(), opts ...Option) *Policy {
	o := newOptions(opts)
	if invalidate == nil {
		invalidate = func() {}
	}
	return &Policy{
		clock:      o.clock,
		sink:       o.sink,
		logger:     o.logger,
		limits:     o.limits,
		invalidate: invalidate,
	}
}

// Execute runs fn under p. It is a function rather than a method because methods
// cannot have type parameters.
func Execute[T any](ctx context.Context, p *Policy, op Op, ref CollectionRef, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	throttled, invalidated := 0, 0

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, errors.Join(err, lastErr)
			}
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		d := Classify(op, err)
		switch d.Action {
		case ActionRetryAfterInvalidate:
			if p.limits.MaxInvalidations > 0 && invalidated >= p.limits.MaxInvalidations {
				p.report(ctx, op, ref, err)
				return zero, err
			}
			invalidated++
			p.logger.DebugContext(ctx, "collection missing, invalidating client",
				"op", op, "collection", ref.String(), "attempt", attempt)
			p.sink.Publish(ctx, RetryEvent{Op: op, Collection: ref, Action: d.Action, Attempt: attempt, Err: err})
			p.invalidate()

		case ActionRetryAfterDelay:
			if p.limits.MaxThrottleRetries > 0 && throttled >= p.limits.MaxThrottleRetries {
				p.report(ctx, op, ref, err)
				return zero, err
			}
			throttled++
			p.logger.DebugContext(ctx, "request throttled, backing off",
				"op", op, "collection", ref.String(), "attempt", attempt, "delay", d.Delay)
			p.sink.Publish(ctx, RetryEvent{Op: op, Collection: ref, Action: d.Action, Attempt: attempt, Delay: d.Delay, Err: err})
			if serr := p.clock.Sleep(ctx, d.Delay); serr != nil {
				return zero, errors.Join(serr, err)
			}

		case ActionTranslate, ActionNotFound:
			return zero, d.Err

		default:
			p.report(ctx, op, ref, err)
			return zero, err
		}
	}
}

func (p *Policy) report(ctx context.Context, op Op, ref CollectionRef, err error) {
	p.sink.Publish(ctx, FailureEvent{Op: op, Collection: ref, Err: err})
}
