package promsink_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-global-state/pkg/activity"
	"github.com/goliatone/go-global-state/pkg/activity/promsink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHookCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook, err := promsink.New(reg, promsink.Options{Namespace: "test"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	emitter := activity.NewEmitter(activity.Hooks{hook}, activity.Config{Enabled: true})
	ctx := context.Background()
	_ = emitter.Emit(ctx, activity.BuildLoadStartedEvent(activity.StateEventInput{Path: "user"}))
	_ = emitter.Emit(ctx, activity.BuildLoadStartedEvent(activity.StateEventInput{Path: "posts"}))
	_ = emitter.Emit(ctx, activity.BuildLoadCompletedEvent(activity.StateEventInput{Path: "user"}))
	_ = emitter.Emit(ctx, activity.BuildStateUpdatedEvent(activity.StateEventInput{Path: "user"}))

	if n, err := testutil.GatherAndCount(reg, "test_state_events_total"); err != nil || n != 3 {
		t.Fatalf("expected 3 label sets, got %d (%v)", n, err)
	}
	inflight, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var gauge float64
	for _, family := range inflight {
		if family.GetName() == "test_state_loads_in_flight" {
			gauge = family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	if gauge != 1 {
		t.Fatalf("expected one load in flight, got %v", gauge)
	}
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := promsink.New(reg, promsink.Options{})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := promsink.New(reg, promsink.Options{})
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	_ = first.Notify(context.Background(), activity.Event{Verb: activity.VerbStateUpdated, Channel: "a"})
	_ = second.Notify(context.Background(), activity.Event{Verb: activity.VerbStateUpdated, Channel: "a"})

	if n, err := testutil.GatherAndCount(reg, "state_events_total"); err != nil || n != 1 {
		t.Fatalf("expected shared counter with one label set, got %d (%v)", n, err)
	}
}
