// Package wallet owns the wallet sessions and the personhood credential.
//
// A Manager is constructed once per process and handed to every consumer. It
// keeps one session per namespace, because the attestation flow needs both an
// account-based and a Substrate session, and persists the most recently
// connected one together with the credential tier.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pilacorp/go-pop-sdk/pop"
	"github.com/pilacorp/go-pop-sdk/poperr"
	"github.com/pilacorp/go-pop-sdk/provider"
	"github.com/pilacorp/go-pop-sdk/session"
	"github.com/pilacorp/go-pop-sdk/wake"
)

const (
	DefaultAppName       = "Prizm Protocol"
	DefaultConnectBudget = 55 * time.Second
)

// Manager is the wallet connection manager.
type Manager struct {
	registry *provider.Registry
	retrier  *wake.Retrier
	store    *session.Store
	chain    provider.ChainParams
	appName  string
	budget   time.Duration
	logger   *zap.Logger

	guard *semaphore.Weighted

	mu           sync.RWMutex
	sessions     map[provider.Namespace]session.Session
	signers      map[provider.ExtensionKind]provider.SubstrateSigner
	active       provider.Namespace
	tier         pop.Tier
	restoreOnce  sync.Once
	restoredFrom bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithAppName sets the name shown by Substrate extensions when they ask the
// user to authorize the application.
func WithAppName(name string) Option {
	return func(m *Manager) {
		m.appName = name
	}
}

// WithChain sets the chain the account-based provider must be on.
func WithChain(params provider.ChainParams) Option {
	return func(m *Manager) {
		m.chain = params
	}
}

// WithConnectBudget bounds a whole Connect call.
func WithConnectBudget(d time.Duration) Option {
	return func(m *Manager) {
		m.budget = d
	}
}

// WithRetrier replaces the default wake retrier used to enable extensions.
func WithRetrier(r *wake.Retrier) Option {
	return func(m *Manager) {
		m.retrier = r
	}
}

// WithStore persists the session through s after every change.
func WithStore(s *session.Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// New creates a Manager over the providers of registry. Without WithStore the
// session is kept in memory only.
func New(registry *provider.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
		chain:    provider.MoonbaseAlpha(),
		appName:  DefaultAppName,
		budget:   DefaultConnectBudget,
		logger:   zap.NewNop(),
		guard:    semaphore.NewWeighted(1),
		sessions: make(map[provider.Namespace]session.Session),
		signers:  make(map[provider.ExtensionKind]provider.SubstrateSigner),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retrier == nil {
		m.retrier = wake.New(wake.WithLogger(m.logger))
	}
	if m.store == nil {
		m.store = session.NewStore(session.NewMemoryKV(), session.WithLogger(m.logger))
	}
	return m
}

// Connect authenticates with id and makes the resulting session active.
// Only one Connect may run at a time; a concurrent call fails with
// poperr.ErrConnectInProgress. On failure the existing state is untouched.
func (m *Manager) Connect(ctx context.Context, id provider.ID) (session.Session, error) {
	if id.IsZero() {
		return session.Session{}, errors.New("no provider selected")
	}
	if !m.guard.TryAcquire(1) {
		return session.Session{}, poperr.New(poperr.ErrConnectInProgress, "A wallet connection is already in progress.")
	}
	defer m.guard.Release(1)

	ctx, cancel := context.WithTimeout(ctx, m.budget)
	defer cancel()

	log := m.logger.With(zap.Stringer("provider", id))
	log.Info("connecting wallet")

	var (
		sess   session.Session
		signer provider.SubstrateSigner
		err    error
	)
	switch id.Namespace() {
	case provider.NamespaceEVM:
		sess, err = m.connectAccount(ctx)
	case provider.NamespaceSubstrate:
		kind, _ := id.Extension()
		sess, signer, err = m.connectExtension(ctx, kind)
	}
	if err != nil {
		log.Warn("wallet connection failed", zap.Error(err))
		return session.Session{}, err
	}

	m.mu.Lock()
	m.sessions[sess.Namespace] = sess
	m.active = sess.Namespace
	if kind, ok := id.Extension(); ok {
		m.signers[kind] = signer
	}
	m.persistLocked()
	m.mu.Unlock()

	log.Info("wallet connected", zap.String("address", sess.Address))
	return sess, nil
}

func (m *Manager) connectAccount(ctx context.Context) (session.Session, error) {
	ap, err := m.registry.AccountProvider()
	if err != nil {
		return session.Session{}, err
	}

	accounts, err := ap.RequestAccounts(ctx)
	if err != nil {
		return session.Session{}, providerError(ctx, "MetaMask connection timed out.", err)
	}
	if len(accounts) == 0 || !common.IsHexAddress(accounts[0]) {
		return session.Session{}, poperr.New(poperr.ErrProviderRejected, "No accounts returned by MetaMask.")
	}

	if err := provider.EnsureChain(ctx, ap, m.chain); err != nil {
		return session.Session{}, providerError(ctx, "MetaMask network switch timed out.", err)
	}

	return session.Session{
		Connected: true,
		Address:   common.HexToAddress(accounts[0]).Hex(),
		Provider:  provider.MetaMask,
		Namespace: provider.NamespaceEVM,
	}, nil
}

func (m *Manager) connectExtension(ctx context.Context, kind provider.ExtensionKind) (session.Session, provider.SubstrateSigner, error) {
	h, err := m.retrier.Enable(ctx, m.registry, kind, m.appName)
	if err != nil {
		return session.Session{}, nil, err
	}

	accounts, err := h.Injected.Accounts(ctx)
	if err != nil {
		return session.Session{}, nil, providerError(ctx, fmt.Sprintf("%q did not return its accounts in time.", h.Key), err)
	}
	if len(accounts) == 0 || accounts[0].Address == "" {
		return session.Session{}, nil, poperr.New(poperr.ErrProviderRejected,
			fmt.Sprintf("No accounts found in %q. Open the extension and create or import an account.", h.Key))
	}

	return session.Session{
		Connected:     true,
		Address:       accounts[0].Address,
		Provider:      provider.Substrate(kind),
		Namespace:     provider.NamespaceSubstrate,
		AccountSource: h.Key,
	}, h.Injected.Signer(), nil
}

// providerError classifies a provider call failure as a timeout when the
// connect budget ran out, and as a rejection otherwise.
func providerError(ctx context.Context, timeoutMsg string, err error) error {
	var perr *poperr.Error
	if errors.As(err, &perr) {
		return err
	}
	if ctx.Err() != nil {
		return poperr.Wrap(poperr.ErrProviderTimeout, timeoutMsg, err)
	}
	return poperr.Wrap(poperr.ErrProviderRejected, "", err)
}

// Disconnect clears every session and resets the tier to 0. Calling it on a
// disconnected manager does nothing.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) == 0 && m.tier == pop.TierUnverified {
		return
	}
	m.sessions = make(map[provider.Namespace]session.Session)
	m.signers = make(map[provider.ExtensionKind]provider.SubstrateSigner)
	m.active = provider.NamespaceNone
	m.tier = pop.TierUnverified
	m.persistLocked()
	m.logger.Info("wallet disconnected")
}

// Restore repopulates the state from the persisted record without contacting
// any provider. Only the first call has an effect; it reports whether a
// session was restored.
func (m *Manager) Restore() bool {
	m.restoreOnce.Do(func() {
		sess, tier, ok := m.store.Load()
		if !ok {
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if sess.Connected {
			m.sessions[sess.Namespace] = sess
			m.active = sess.Namespace
		}
		m.tier = tier
		m.restoredFrom = true
		m.logger.Info("wallet session restored", zap.Stringer("provider", sess.Provider), zap.Uint8("tier", uint8(tier)))
	})
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restoredFrom
}

// SetTier clamps tier to [0,3] and stores it as the credential tier.
func (m *Manager) SetTier(tier int) pop.Tier {
	t := pop.ClampTier(tier)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tier = t
	m.persistLocked()
	m.logger.Info("personhood tier updated", zap.Uint8("tier", uint8(t)))
	return t
}

// Credential returns the current personhood credential.
func (m *Manager) Credential() pop.Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pop.Credential{Tier: m.tier}
}

// Session returns the session of namespace ns, if connected.
func (m *Manager) Session(ns provider.Namespace) (session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[ns]
	return s, ok && s.Connected
}

// Active returns the most recently connected session, or the empty session.
func (m *Manager) Active() session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[m.active]
}

// SubstrateSigner returns the signer of a connected Substrate extension.
func (m *Manager) SubstrateSigner(kind provider.ExtensionKind) (provider.SubstrateSigner, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.signers[kind]
	return s, ok && s != nil
}

func (m *Manager) persistLocked() {
	if err := m.store.Save(m.sessions[m.active], m.tier); err != nil {
		m.logger.Warn("failed to persist wallet state", zap.Error(err))
	}
}
