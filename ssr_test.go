package gstate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRenderSSRConvergesOverRounds(t *testing.T) {
	profile := func(any, *LoadMeta) (Result, error) {
		return Deferred(Go(func() (any, error) { return "ada", nil })), nil
	}
	friends := func(any, *LoadMeta) (Result, error) {
		return Deferred(Go(func() (any, error) { return []any{"grace"}, nil })), nil
	}

	res, err := RenderSSR(context.Background(), map[string]any{}, func(_ context.Context, gs *GlobalState) (string, error) {
		user, err := UseAsyncData(gs, "profile", profile, AsyncOptions{}).Render()
		if err != nil {
			return "", err
		}
		if user.Data == nil {
			return "loading", nil
		}
		list, err := UseAsyncData(gs, "friends", friends, AsyncOptions{}).Render()
		if err != nil {
			return "", err
		}
		if list.Data == nil {
			return user.Data.(string), nil
		}
		return user.Data.(string) + " + friends", nil
	}, WithSSRTimeout(time.Second))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.Output != "ada + friends" {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if res.Rounds != 3 || res.TimedOut {
		t.Fatalf("expected three rounds, got %+v", res)
	}
	state, _ := res.State.(map[string]any)
	if env := asEnvelope(state["friends"]); env.Loading() || env.Data == nil {
		t.Fatalf("expected settled state, got %+v", state)
	}
}

func TestRenderSSRCleanFirstRound(t *testing.T) {
	res, err := RenderSSR(context.Background(), map[string]any{"title": "home"}, func(_ context.Context, gs *GlobalState) (any, error) {
		return gs.Get("title"), nil
	})
	if err != nil || res.Output != "home" || res.Rounds != 1 {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
}

func TestRenderSSRProvidesContainer(t *testing.T) {
	_, err := RenderSSR(context.Background(), nil, func(ctx context.Context, gs *GlobalState) (bool, error) {
		got, err := FromContext(ctx)
		if err != nil || got != gs {
			t.Fatalf("expected pass context to carry the container")
		}
		if werr := gs.Watch(NewWatcher(func() {})); !errors.Is(werr, ErrSSRWatch) {
			t.Fatalf("expected ErrSSRWatch, got %v", werr)
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
}

func TestRenderSSRTimeout(t *testing.T) {
	never := NewFuture()
	res, err := RenderSSR(context.Background(), map[string]any{}, func(_ context.Context, gs *GlobalState) (AsyncResult, error) {
		return UseAsyncData(gs, "slow", func(any, *LoadMeta) (Result, error) {
			return Deferred(never), nil
		}, AsyncOptions{}).Render()
	}, WithSSRTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("expected timeout to return the last pass, got %v", err)
	}
	if !res.TimedOut || !res.Output.Loading || res.Rounds != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRenderSSRRoundsExceeded(t *testing.T) {
	n := 0
	res, err := RenderSSR(context.Background(), map[string]any{}, func(_ context.Context, gs *GlobalState) (int, error) {
		n++
		gs.Set("counter", n)
		return n, nil
	}, WithMaxSSRRounds(3))
	if !errors.Is(err, ErrSSRRoundsExceeded) {
		t.Fatalf("expected ErrSSRRoundsExceeded, got %v", err)
	}
	if res.Rounds != 3 || res.Output != 3 {
		t.Fatalf("expected populated result, got %+v", res)
	}
}

func TestRenderSSRPassError(t *testing.T) {
	boom := errors.New("boom")
	_, err := RenderSSR(context.Background(), nil, func(context.Context, *GlobalState) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected pass error, got %v", err)
	}
}

func TestRenderSSRLoadFailure(t *testing.T) {
	boom := errors.New("backend down")
	_, err := RenderSSR(context.Background(), map[string]any{}, func(_ context.Context, gs *GlobalState) (AsyncResult, error) {
		return UseAsyncData(gs, "data", func(any, *LoadMeta) (Result, error) {
			return Deferred(Rejected(boom)), nil
		}, AsyncOptions{}).Render()
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected settle failure, got %v", err)
	}
}
