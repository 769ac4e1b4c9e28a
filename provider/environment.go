package provider

import (
	"context"
	"sync"
)

// Account is one account exposed by a Substrate extension.
type Account struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Source  string `json:"source,omitempty"`
}

// SubstrateSigner signs raw payloads with an extension-held key.
type SubstrateSigner interface {
	SignRaw(ctx context.Context, address string, data []byte) ([]byte, error)
}

// Injected is the handle an extension returns once the application has been authorized.
type Injected interface {
	Accounts(ctx context.Context) ([]Account, error)
	Signer() SubstrateSigner
}

// Extension is an injected Substrate extension before authorization.
type Extension interface {
	Enable(ctx context.Context, appName string) (Injected, error)
}

// Environment is the host the providers are injected into.
type Environment interface {
	// AccountProvider returns the account-based provider, if injected.
	AccountProvider() (AccountProvider, bool)
	// Extension returns the extension registered under injectKey, if injected.
	Extension(injectKey string) (Extension, bool)
}

// MapEnvironment is an Environment backed by in-memory registrations. Providers
// may be injected at any time, which models extensions that register late.
type MapEnvironment struct {
	mu         sync.RWMutex
	account    AccountProvider
	extensions map[string]Extension
}

// NewMapEnvironment returns an empty environment.
func NewMapEnvironment() *MapEnvironment {
	return &MapEnvironment{extensions: make(map[string]Extension)}
}

// SetAccountProvider injects (or, with nil, removes) the account-based provider.
func (e *MapEnvironment) SetAccountProvider(ap AccountProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account = ap
}

// Inject registers ext under injectKey.
func (e *MapEnvironment) Inject(injectKey string, ext Extension) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.extensions[injectKey] = ext
}

// Remove unregisters injectKey.
func (e *MapEnvironment) Remove(injectKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.extensions, injectKey)
}

// AccountProvider returns the installed account provider, if any.
func (e *MapEnvironment) AccountProvider() (AccountProvider, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.account, e.account != nil
}

// Extension returns the extension injected under injectKey.
func (e *MapEnvironment) Extension(injectKey string) (Extension, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ext, ok := e.extensions[injectKey]
	return ext, ok
}
