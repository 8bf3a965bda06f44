package gstate

import (
	"context"
	"errors"
	"testing"
)

func TestFromContextWithoutProvider(t *testing.T) {
	if _, err := FromContext(context.Background()); !errors.Is(err, ErrMissingProvider) {
		t.Fatalf("expected ErrMissingProvider, got %v", err)
	}
}

func TestProvideCreatesIsolatedScopes(t *testing.T) {
	outerCtx, outer, err := Provide(context.Background(), map[string]any{"theme": "dark"})
	if err != nil {
		t.Fatalf("provide outer: %v", err)
	}
	innerCtx, inner, err := Provide(outerCtx, map[string]any{"theme": "light"})
	if err != nil {
		t.Fatalf("provide inner: %v", err)
	}
	if inner == outer {
		t.Fatalf("expected nested provider to create its own container")
	}

	inner.Set("theme", "blue")
	if got := outer.Get("theme"); got != "dark" {
		t.Fatalf("expected outer scope untouched, got %v", got)
	}

	gs, err := FromContext(innerCtx)
	if err != nil || gs != inner {
		t.Fatalf("expected inner container from inner context, got %v %v", gs, err)
	}
	gs, err = FromContext(outerCtx)
	if err != nil || gs != outer {
		t.Fatalf("expected outer container from outer context, got %v %v", gs, err)
	}
}

func TestProvideProxies(t *testing.T) {
	parentCtx, parent, _ := Provide(context.Background(), map[string]any{})

	_, proxied, err := Provide(parentCtx, nil, ProxyParent())
	if err != nil || proxied != parent {
		t.Fatalf("expected parent container, got %v %v", proxied, err)
	}

	if _, _, err := Provide(context.Background(), nil, ProxyParent()); !errors.Is(err, ErrMissingProvider) {
		t.Fatalf("expected ErrMissingProvider without parent, got %v", err)
	}

	explicit := New(nil)
	_, got, err := Provide(parentCtx, nil, ProxyTo(explicit))
	if err != nil || got != explicit {
		t.Fatalf("expected explicit container, got %v %v", got, err)
	}
}

func TestProvideForwardsStateOptions(t *testing.T) {
	ssr := NewSSRContext()
	_, gs, err := Provide(context.Background(), nil, WithStateOptions(WithSSRContext(ssr)))
	if err != nil {
		t.Fatalf("provide: %v", err)
	}
	if gs.SSRContext() != ssr {
		t.Fatalf("expected options forwarded to the new container")
	}
}
