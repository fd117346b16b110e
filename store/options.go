package store

import "log/slog"

// Option configures a Policy, Repository or ClientFactory.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	sink       Sink
	clock      Clock
	limits     RetryLimits
	middleware []Middleware
}

func newOptions(opts []Option) *options {
	o := &options{clock: realClock{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.sink == nil {
		o.sink = nopSink{}
	}
	return o
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSink sets the observability sink for failures, retries and lifecycle events.
func WithSink(sink Sink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithClock sets the clock used for throttling delays. Useful for testing.
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithRetryLimits caps the throttling and missing-collection retry paths.
func WithRetryLimits(limits RetryLimits) Option {
	return func(o *options) {
		o.limits = limits
	}
}

// WithMiddleware decorates the transport used by a Repository. The first
// middleware is the outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, mw...)
	}
}
