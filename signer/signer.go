// Package signer provides the attester's signing capability.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// DemoAttesterKey is the well-known Hardhat account #0 key. It is used only
// when no attester key is configured and must never guard real value.
const DemoAttesterKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// DemoAttesterAddress is the address of DemoAttesterKey.
const DemoAttesterAddress = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"

// SignerProvider signs 32-byte digests.
type SignerProvider interface {
	Sign(digest []byte) ([]byte, error)
	GetAddress() string
}

// DefaultProvider signs with an in-process private key.
type DefaultProvider struct {
	priv *ecdsa.PrivateKey
}

// NewDefaultProvider creates a provider from a hex private key, with or without 0x.
func NewDefaultProvider(privHex string) (*DefaultProvider, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &DefaultProvider{priv: priv}, nil
}

// NewDemoProvider returns a provider for DemoAttesterKey.
func NewDemoProvider() *DefaultProvider {
	p, err := NewDefaultProvider(DemoAttesterKey)
	if err != nil {
		panic(err)
	}
	return p
}

// Sign returns the 65-byte [R || S || V] signature of digest with V in {0,1}.
func (s *DefaultProvider) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	signature, err := crypto.Sign(digest, s.priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	if len(signature) != 65 {
		return nil, fmt.Errorf("invalid signature length: expected 65 bytes, got %d", len(signature))
	}
	return signature, nil
}

// GetAddress returns the lower-case hex address of the key.
func (s *DefaultProvider) GetAddress() string {
	return strings.ToLower(crypto.PubkeyToAddress(s.priv.PublicKey).Hex())
}

// IsDemo reports whether p signs with DemoAttesterKey.
func IsDemo(p SignerProvider) bool {
	return p != nil && strings.EqualFold(p.GetAddress(), DemoAttesterAddress)
}

// IsDemoKey reports whether privHex is DemoAttesterKey.
func IsDemoKey(privHex string) bool {
	k := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(privHex), "0x"))
	return k == strings.TrimPrefix(DemoAttesterKey, "0x")
}
