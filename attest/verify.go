package attest

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// VerifyOption configures Verify.
type VerifyOption func(*verifyConfig)

type verifyConfig struct {
	chainID *big.Int
	pinned  *btcec.PublicKey
}

// WithExpectedChainID rejects payloads bound to another chain.
func WithExpectedChainID(id uint64) VerifyOption {
	return func(c *verifyConfig) {
		c.chainID = new(big.Int).SetUint64(id)
	}
}

// WithPinnedKey requires the signature to come from pub rather than from
// whatever attester the payload names.
func WithPinnedKey(pub *btcec.PublicKey) VerifyOption {
	return func(c *verifyConfig) {
		c.pinned = pub
	}
}

// ParsePublicKey parses a compressed or uncompressed secp256k1 public key in hex.
func ParsePublicKey(pubHex string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(pubHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return pub, nil
}

// Verify recovers the signer of p for the given EVM address and checks it
// against the payload's attester (and the pinned key, if any). It returns
// the recovered attester address.
func Verify(p Payload, evm common.Address, opts ...VerifyOption) (common.Address, error) {
	cfg := verifyConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	chainID := new(big.Int).SetUint64(p.ChainID)
	if cfg.chainID != nil && cfg.chainID.Cmp(chainID) != 0 {
		return common.Address{}, fmt.Errorf("attestation bound to chain %d, expected %s", p.ChainID, cfg.chainID)
	}
	if p.Tier < 1 || p.Tier > 3 {
		return common.Address{}, fmt.Errorf("attestation tier %d out of range", p.Tier)
	}
	nonce, err := p.NonceBytes()
	if err != nil {
		return common.Address{}, err
	}
	sig, err := p.SignatureBytes()
	if err != nil {
		return common.Address{}, err
	}

	digest := Digest(evm, uint8(p.Tier), p.PolkadotAddress, nonce, chainID)
	pub, err := recoverPublicKey(digest, sig)
	if err != nil {
		return common.Address{}, err
	}

	recovered := pubkeyToAddress(pub)
	if !common.IsHexAddress(p.Attester) || common.HexToAddress(p.Attester) != recovered {
		return common.Address{}, fmt.Errorf("signature recovered %s, attestation names %s", recovered.Hex(), p.Attester)
	}
	if cfg.pinned != nil && !cfg.pinned.IsEqual(pub) {
		return common.Address{}, fmt.Errorf("attestation not signed by the pinned attester key")
	}
	return recovered, nil
}

// recoverPublicKey converts an [R || S || V] signature to the compact
// [V || R || S] form and recovers the signing key.
func recoverPublicKey(digest, sig []byte) (*secp256k1.PublicKey, error) {
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return nil, fmt.Errorf("invalid recovery id %d", sig[64])
	}

	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to recover public key: %w", err)
	}
	return pub, nil
}

func pubkeyToAddress(pub *secp256k1.PublicKey) common.Address {
	uncompressed := pub.SerializeUncompressed()
	return common.BytesToAddress(crypto.Keccak256(uncompressed[1:])[12:])
}
