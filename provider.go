package gstate

import "context"

type providerKey struct{}

// ProviderOption configures Provide.
type ProviderOption func(*providerConfig)

type providerConfig struct {
	proxyParent bool
	proxy       *GlobalState
	options     []Option
}

// ProxyParent makes Provide reuse the GlobalState already attached to the
// parent context instead of creating a new one.
func ProxyParent() ProviderOption {
	return func(cfg *providerConfig) {
		cfg.proxyParent = true
	}
}

// ProxyTo makes Provide expose gs instead of creating a new container.
func ProxyTo(gs *GlobalState) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.proxy = gs
	}
}

// WithStateOptions forwards container options to the GlobalState created by
// Provide.
func WithStateOptions(opts ...Option) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.options = append(cfg.options, opts...)
	}
}

// Provide opens a provider scope: it attaches a GlobalState to a child of ctx
// and returns both. Without proxy options a fresh container holding initial is
// created; scopes nested this way are fully isolated from each other.
func Provide(ctx context.Context, initial any, opts ...ProviderOption) (context.Context, *GlobalState, error) {
	cfg := providerConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	var gs *GlobalState
	switch {
	case cfg.proxy != nil:
		gs = cfg.proxy
	case cfg.proxyParent:
		parent, err := FromContext(ctx)
		if err != nil {
			return ctx, nil, err
		}
		gs = parent
	default:
		gs = New(initial, cfg.options...)
	}
	return WithProvider(ctx, gs), gs, nil
}

// WithProvider returns a child context carrying gs.
func WithProvider(ctx context.Context, gs *GlobalState) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, providerKey{}, gs)
}

// FromContext returns the GlobalState attached by WithProvider or Provide.
func FromContext(ctx context.Context) (*GlobalState, error) {
	if ctx == nil {
		return nil, ErrMissingProvider
	}
	gs, ok := ctx.Value(providerKey{}).(*GlobalState)
	if !ok || gs == nil {
		return nil, ErrMissingProvider
	}
	return gs, nil
}
