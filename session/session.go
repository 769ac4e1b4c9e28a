// Package session holds the wallet session model and its client-local persistence.
package session

import (
	"errors"
	"fmt"

	"github.com/pilacorp/go-pop-sdk/pop"
	"github.com/pilacorp/go-pop-sdk/provider"
)

// Session is one authenticated wallet connection. The zero value is the
// disconnected session.
type Session struct {
	Connected     bool
	Address       string
	Provider      provider.ID
	Namespace     provider.Namespace
	AccountSource string
}

// IsEmpty reports whether s is the disconnected session.
func (s Session) IsEmpty() bool { return s == Session{} }

// Validate checks the session invariants: an address is present exactly when
// connected, the provider agrees with the namespace, and an account source is
// set exactly for Substrate sessions.
func (s Session) Validate() error {
	if !s.Connected {
		if !s.IsEmpty() {
			return errors.New("disconnected session must be empty")
		}
		return nil
	}
	if s.Address == "" {
		return errors.New("connected session requires an address")
	}
	if s.Provider.IsZero() {
		return errors.New("connected session requires a provider")
	}
	if s.Provider.Namespace() != s.Namespace {
		return fmt.Errorf("provider %s does not belong to namespace %q", s.Provider, s.Namespace)
	}
	switch s.Namespace {
	case provider.NamespaceSubstrate:
		if s.AccountSource == "" {
			return errors.New("substrate session requires an account source")
		}
	case provider.NamespaceEVM:
		if s.AccountSource != "" {
			return errors.New("evm session must not carry an account source")
		}
	}
	return nil
}

// Record is the persisted form of the active session and the credential tier.
type Record struct {
	IsConnected     bool    `json:"isConnected"`
	Address         *string `json:"address"`
	WalletType      *string `json:"walletType"`
	WalletNamespace *string `json:"walletNamespace"`
	AccountSource   *string `json:"accountSource"`
	PopTier         int     `json:"popTier"`
}

// NewRecord encodes s and tier.
func NewRecord(s Session, tier pop.Tier) Record {
	return Record{
		IsConnected:     s.Connected,
		Address:         optional(s.Address),
		WalletType:      optional(s.Provider.WalletType()),
		WalletNamespace: optional(namespaceName(s.Namespace)),
		AccountSource:   optional(s.AccountSource),
		PopTier:         int(pop.ClampTier(tier)),
	}
}

// Decode converts the record back into a session and tier, validating the invariants.
func (r Record) Decode() (Session, pop.Tier, error) {
	id, err := provider.ParseWalletType(deref(r.WalletType))
	if err != nil {
		return Session{}, 0, err
	}
	ns, err := provider.ParseNamespace(deref(r.WalletNamespace))
	if err != nil {
		return Session{}, 0, err
	}
	s := Session{
		Connected:     r.IsConnected,
		Address:       deref(r.Address),
		Provider:      id,
		Namespace:     ns,
		AccountSource: deref(r.AccountSource),
	}
	if err := s.Validate(); err != nil {
		return Session{}, 0, fmt.Errorf("invalid session record: %w", err)
	}
	if r.PopTier < int(pop.MinTier) || r.PopTier > int(pop.MaxTier) {
		return Session{}, 0, fmt.Errorf("invalid session record: tier %d", r.PopTier)
	}
	return s, pop.Tier(r.PopTier), nil
}

// namespaceName is the persisted namespace: "evm" or "polkadot".
func namespaceName(ns provider.Namespace) string {
	if ns == provider.NamespaceSubstrate {
		return "polkadot"
	}
	return ns.String()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
