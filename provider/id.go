// Package provider enumerates the signer providers known to the application
// and detects which of them are injected in the current environment.
//
// A provider is either the single account-based (EVM) provider or one of the
// Substrate browser extensions. ID is a closed union over the two so that a
// Substrate provider without an extension kind, or an EVM provider with one,
// cannot be constructed.
package provider

import (
	"fmt"
	"strings"
)

// Namespace is the ledger ecosystem a provider, address or signer belongs to.
type Namespace uint8

const (
	NamespaceNone Namespace = iota
	NamespaceEVM
	NamespaceSubstrate
)

func (n Namespace) String() string {
	switch n {
	case NamespaceEVM:
		return "evm"
	case NamespaceSubstrate:
		return "substrate"
	default:
		return ""
	}
}

// ParseNamespace is the inverse of Namespace.String. The empty string is NamespaceNone.
func ParseNamespace(s string) (Namespace, error) {
	switch strings.ToLower(s) {
	case "":
		return NamespaceNone, nil
	case "evm":
		return NamespaceEVM, nil
	case "substrate", "polkadot":
		return NamespaceSubstrate, nil
	default:
		return NamespaceNone, fmt.Errorf("invalid namespace: %s", s)
	}
}

// ExtensionKind identifies a Substrate browser extension.
type ExtensionKind uint8

const (
	PolkadotJS ExtensionKind = iota + 1
	Talisman
	SubWallet
	Nova
)

var extensionKinds = []ExtensionKind{Talisman, PolkadotJS, SubWallet, Nova}

// InjectKey is the key the extension registers under in the injected-extension map.
func (k ExtensionKind) InjectKey() string {
	switch k {
	case PolkadotJS:
		return "polkadot-js"
	case Talisman:
		return "talisman"
	case SubWallet:
		return "subwallet-js"
	case Nova:
		return "nova"
	default:
		return ""
	}
}

// WalletType is the persisted wallet identifier of the extension.
func (k ExtensionKind) WalletType() string {
	switch k {
	case PolkadotJS:
		return "polkadot-js"
	case Talisman:
		return "talisman"
	case SubWallet:
		return "subwallet"
	case Nova:
		return "nova"
	default:
		return ""
	}
}

// DisplayName is the human readable extension name.
func (k ExtensionKind) DisplayName() string {
	switch k {
	case PolkadotJS:
		return "Polkadot.js"
	case Talisman:
		return "Talisman"
	case SubWallet:
		return "SubWallet"
	case Nova:
		return "Nova Wallet"
	default:
		return ""
	}
}

func (k ExtensionKind) valid() bool { return k >= PolkadotJS && k <= Nova }

// ExtensionKindFromInjectKey maps an inject key back to its kind.
func ExtensionKindFromInjectKey(key string) (ExtensionKind, bool) {
	for _, k := range extensionKinds {
		if k.InjectKey() == key {
			return k, true
		}
	}
	return 0, false
}

// ID identifies one provider. The zero value means "no provider".
type ID struct {
	ns  Namespace
	ext ExtensionKind
}

// MetaMask is the account-based provider.
var MetaMask = ID{ns: NamespaceEVM}

// Substrate returns the provider for an extension kind. An unknown kind
// yields the zero ID.
func Substrate(kind ExtensionKind) ID {
	if !kind.valid() {
		return ID{}
	}
	return ID{ns: NamespaceSubstrate, ext: kind}
}

// Known lists every provider the registry understands, EVM first.
func Known() []ID {
	out := []ID{MetaMask}
	for _, k := range extensionKinds {
		out = append(out, Substrate(k))
	}
	return out
}

// IsZero reports whether id is the zero ID, which names no provider.
func (id ID) IsZero() bool { return id.ns == NamespaceNone }

// Namespace returns the wallet family of id.
func (id ID) Namespace() Namespace { return id.ns }

// Extension returns the extension kind of a Substrate provider.
func (id ID) Extension() (ExtensionKind, bool) {
	if id.ns != NamespaceSubstrate {
		return 0, false
	}
	return id.ext, true
}

// InjectKey is the environment marker for Substrate providers; empty for EVM.
func (id ID) InjectKey() string {
	if id.ns != NamespaceSubstrate {
		return ""
	}
	return id.ext.InjectKey()
}

// WalletType is the persisted identifier ("metamask", "talisman", ...).
func (id ID) WalletType() string {
	switch id.ns {
	case NamespaceEVM:
		return "metamask"
	case NamespaceSubstrate:
		return id.ext.WalletType()
	default:
		return ""
	}
}

func (id ID) String() string {
	if id.IsZero() {
		return "none"
	}
	return id.WalletType()
}

// ParseWalletType maps a persisted wallet type to its provider.
func ParseWalletType(s string) (ID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ID{}, nil
	}
	if s == MetaMask.WalletType() {
		return MetaMask, nil
	}
	for _, k := range extensionKinds {
		if k.WalletType() == s || k.InjectKey() == s {
			return Substrate(k), nil
		}
	}
	return ID{}, fmt.Errorf("unknown wallet type: %s", s)
}

// MarshalText encodes the ID as its wallet type.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.WalletType()), nil
}

// UnmarshalText decodes a wallet type.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseWalletType(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
