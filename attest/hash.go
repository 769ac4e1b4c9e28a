// Package attest builds and verifies personhood attestations: a signed
// statement binding an EVM address, a Polkadot address and a tier under a
// fresh nonce, for one-time submission to the verifier contract.
package attest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// NonceSize is the length of an attestation nonce.
const NonceSize = 32

// Nonce is a bytes32 attestation nonce.
type Nonce [NonceSize]byte

// NewNonce returns 32 cryptographically random bytes.
func NewNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return Nonce{}, fmt.Errorf("rand.Read failed: %w", err)
	}
	return n, nil
}

// Hex returns the 0x-prefixed nonce.
func (n Nonce) Hex() string { return "0x" + hex.EncodeToString(n[:]) }

// ParseNonce decodes a 0x-prefixed bytes32 hex string.
func ParseNonce(s string) (Nonce, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != NonceSize {
		return Nonce{}, fmt.Errorf("invalid nonce (must be 32 bytes hex): %q", s)
	}
	var n Nonce
	copy(n[:], b)
	return n, nil
}

// PackedHash mirrors the contract's
// keccak256(abi.encodePacked(address, uint8, bytes, bytes32, uint256)).
func PackedHash(evm common.Address, tier uint8, polkadotAddress string, nonce Nonce, chainID *big.Int) []byte {
	polkadot := []byte(polkadotAddress)

	// Address(20) + Tier(1) + Polkadot(n) + Nonce(32) + ChainID(32)
	buf := make([]byte, 0, common.AddressLength+1+len(polkadot)+NonceSize+32)
	buf = append(buf, evm.Bytes()...)
	buf = append(buf, tier)
	buf = append(buf, polkadot...)
	buf = append(buf, nonce[:]...)
	buf = append(buf, common.LeftPadBytes(chainID.Bytes(), 32)...)

	return crypto.Keccak256(buf)
}

// SignedDigest applies the EIP-191 personal-message prefix to a 32-byte hash.
func SignedDigest(hash []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(hash))
	return crypto.Keccak256(append([]byte(prefix), hash...))
}

// Digest is SignedDigest(PackedHash(...)), the value the attester signs.
func Digest(evm common.Address, tier uint8, polkadotAddress string, nonce Nonce, chainID *big.Int) []byte {
	return SignedDigest(PackedHash(evm, tier, polkadotAddress, nonce, chainID))
}

// normalizeV moves the recovery byte of a 65-byte signature to 27/28.
func normalizeV(sig []byte) []byte {
	out := append([]byte(nil), sig...)
	if out[64] <= 1 {
		out[64] += 27
	}
	return out
}
