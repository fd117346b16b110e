package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsSink counts events with Prometheus collectors.
type MetricsSink struct {
	failures  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	lifecycle *prometheus.CounterVec
}

// NewMetricsSink registers the docstore collectors with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &MetricsSink{
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docstore_failures_total",
				Help: "Total number of unclassified document store failures",
			},
			[]string{"op", "collection", "status"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docstore_retries_total",
				Help: "Total number of retried document store operations",
			},
			[]string{"op", "collection", "action"},
		),
		lifecycle: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docstore_client_events_total",
				Help: "Total number of client factory lifecycle events",
			},
			[]string{"message"},
		),
	}
}

// Publish implements Sink.
func (m *MetricsSink) Publish(_ context.Context, e Event) {
	switch ev := e.(type) {
	case FailureEvent:
		m.failures.WithLabelValues(string(ev.Op), ev.Collection.String(), statusLabel(ev.Err)).Inc()
	case RetryEvent:
		m.retries.WithLabelValues(string(ev.Op), ev.Collection.String(), ev.Action.String()).Inc()
	case FactoryEvent:
		m.lifecycle.WithLabelValues(ev.Message).Inc()
	}
}

func statusLabel(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return strconv.Itoa(f.StatusCode)
	}
	return "unknown"
}
