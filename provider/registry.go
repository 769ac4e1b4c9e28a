package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/pilacorp/go-pop-sdk/poperr"
)

// DefaultSettleDelay is how long ProbeSettled waits before re-probing absent providers.
const DefaultSettleDelay = 350 * time.Millisecond

// Registry detects which known providers are present in an Environment.
type Registry struct {
	env         Environment
	providers   []ID
	settleDelay time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.settleDelay = d
	}
}

// WithProviders restricts the registry to the given providers.
func WithProviders(ids ...ID) RegistryOption {
	return func(r *Registry) {
		r.providers = lo.Filter(ids, func(id ID, _ int) bool { return !id.IsZero() })
	}
}

// NewRegistry creates a registry over env covering every known provider.
func NewRegistry(env Environment, opts ...RegistryOption) *Registry {
	r := &Registry{
		env:         env,
		providers:   Known(),
		settleDelay: DefaultSettleDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers returns the providers the registry reports on.
func (r *Registry) Providers() []ID {
	return append([]ID(nil), r.providers...)
}

// Probe reports, for every known provider, whether its marker is injected.
// Absence is a valid answer, not a failure.
func (r *Registry) Probe() map[ID]bool {
	return lo.SliceToMap(r.providers, func(id ID) (ID, bool) {
		return id, r.Installed(id)
	})
}

// ProbeSettled probes, and if any provider is missing waits the settle delay
// and probes again. A provider seen in either probe is reported present.
func (r *Registry) ProbeSettled(ctx context.Context) (map[ID]bool, error) {
	first := r.Probe()
	if lo.EveryBy(lo.Values(first), func(present bool) bool { return present }) {
		return first, nil
	}

	timer := time.NewTimer(r.settleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return first, ctx.Err()
	case <-timer.C:
	}

	second := r.Probe()
	for id, present := range first {
		second[id] = second[id] || present
	}
	return second, nil
}

// Installed reports whether a single provider is injected.
func (r *Registry) Installed(id ID) bool {
	switch id.Namespace() {
	case NamespaceEVM:
		_, ok := r.env.AccountProvider()
		return ok
	case NamespaceSubstrate:
		_, ok := r.env.Extension(id.InjectKey())
		return ok
	default:
		return false
	}
}

// AccountProvider returns the injected account-based provider.
func (r *Registry) AccountProvider() (AccountProvider, error) {
	ap, ok := r.env.AccountProvider()
	if !ok {
		return nil, poperr.New(poperr.ErrProviderNotFound, "MetaMask not found. Install it and reload the page.")
	}
	return ap, nil
}

// Extension returns the injected extension for kind.
func (r *Registry) Extension(kind ExtensionKind) (Extension, error) {
	key := kind.InjectKey()
	if key == "" {
		return nil, fmt.Errorf("unknown extension kind: %d", kind)
	}
	ext, ok := r.env.Extension(key)
	if !ok {
		return nil, NotFoundError(key)
	}
	return ext, nil
}

// NotFoundError is the error returned when the extension registered under key is absent.
func NotFoundError(key string) error {
	return poperr.New(poperr.ErrProviderNotFound, fmt.Sprintf("%q extension not found. Install it and reload the page.", key))
}
