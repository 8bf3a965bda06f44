// Package promsink counts state activity events with Prometheus collectors.
package promsink

import (
	"context"
	"errors"

	"github.com/goliatone/go-global-state/pkg/activity"
	"github.com/prometheus/client_golang/prometheus"
)

// Hook is an activity.ActivityHook maintaining event counters and a gauge of
// loads in flight.
type Hook struct {
	events   *prometheus.CounterVec
	inflight prometheus.Gauge
}

// Options name the collectors.
type Options struct {
	Namespace string
	Subsystem string
}

// New registers the hook's collectors with reg. A nil reg uses the default
// registerer. Collectors already registered under the same names are reused.
func New(reg prometheus.Registerer, opts Options) (*Hook, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name:      "state_events_total",
		Help:      "State activity events by verb and channel",
	}, []string{"verb", "channel"})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name:      "state_loads_in_flight",
		Help:      "Async loads started and not completed",
	})

	var err error
	if events, err = register(reg, events); err != nil {
		return nil, err
	}
	if inflight, err = register(reg, inflight); err != nil {
		return nil, err
	}
	return &Hook{events: events, inflight: inflight}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, err
	}
	return collector, nil
}

// Notify implements activity.ActivityHook.
func (h *Hook) Notify(_ context.Context, event activity.Event) error {
	if h == nil {
		return nil
	}
	h.events.WithLabelValues(event.Verb, event.Channel).Inc()
	switch event.Verb {
	case activity.VerbLoadStarted:
		h.inflight.Inc()
	case activity.VerbLoadCompleted:
		h.inflight.Dec()
	}
	return nil
}
