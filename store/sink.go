package store

import (
	"context"
	"log/slog"
	"time"
)

// Event is published to a Sink.
type Event interface {
	EventName() string
}

// FailureEvent reports an unclassified failure that is returned to the caller.
type FailureEvent struct {
	Op         Op
	Collection CollectionRef
	Err        error
}

func (FailureEvent) EventName() string { return "failure" }

// RetryEvent reports a retried attempt.
type RetryEvent struct {
	Op         Op
	Collection CollectionRef
	Action     Action
	Attempt    int
	Delay      time.Duration
	Err        error
}

func (RetryEvent) EventName() string { return "retry" }

// FactoryEvent reports a connection lifecycle step.
type FactoryEvent struct {
	Message string
}

func (FactoryEvent) EventName() string { return "factory" }

// Sink receives events from the retry policy and the client factory.
// Implementations must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, e Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, e Event)

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish implements Sink.
func (s *LogSink) Publish(ctx context.Context, e Event) {
	switch ev := e.(type) {
	case FailureEvent:
		s.logger.ErrorContext(ctx, "document store operation failed",
			"op", ev.Op,
			"collection", ev.Collection.String(),
			"error", ev.Err,
		)
	case RetryEvent:
		s.logger.WarnContext(ctx, "retrying document store operation",
			"op", ev.Op,
			"collection", ev.Collection.String(),
			"action", ev.Action.String(),
			"attempt", ev.Attempt,
			"delay", ev.Delay,
			"error", ev.Err,
		)
	case FactoryEvent:
		s.logger.InfoContext(ctx, ev.Message)
	default:
		s.logger.InfoContext(ctx, "document store event", "event", e.EventName())
	}
}

type multiSink []Sink

func (m multiSink) Publish(ctx context.Context, e Event) {
	for _, s := range m {
		s.Publish(ctx, e)
	}
}

// MultiSink fans events out to every non-nil sink.
func MultiSink(sinks ...Sink) Sink {
	var m multiSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}
