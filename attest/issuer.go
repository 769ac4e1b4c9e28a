package attest

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/pilacorp/go-pop-sdk/poperr"
	"github.com/pilacorp/go-pop-sdk/signer"
)

// DefaultChainID is Moonbase Alpha.
const DefaultChainID = 1287

// Validation messages returned to callers verbatim.
const (
	MsgInvalidEVMAddress      = "Invalid EVM address"
	MsgInvalidPolkadotAddress = "Invalid Polkadot address"
	MsgInvalidTier            = "Tier must be 1, 2, or 3"
)

var evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Request asks for an attestation of tier for the address pair.
type Request struct {
	EVMAddress      string `json:"evmAddress"`
	PolkadotAddress string `json:"polkadotAddress"`
	Tier            int    `json:"tier"`
}

// Validate checks the request fields in order and returns the first violation.
func (r Request) Validate() error {
	if !evmAddressPattern.MatchString(r.EVMAddress) {
		return poperr.New(poperr.ErrValidation, MsgInvalidEVMAddress)
	}
	if r.PolkadotAddress == "" {
		return poperr.New(poperr.ErrValidation, MsgInvalidPolkadotAddress)
	}
	if r.Tier < 1 || r.Tier > 3 {
		return poperr.New(poperr.ErrValidation, MsgInvalidTier)
	}
	return nil
}

// Payload is a signed attestation. It is immutable once issued and is
// submitted on chain exactly once.
type Payload struct {
	Tier            int    `json:"tier"`
	PolkadotAddress string `json:"polkadotAddress"`
	Nonce           string `json:"nonce"`
	Signature       string `json:"signature"`
	Attester        string `json:"attester"`
	ChainID         uint64 `json:"chainId"`
}

// NonceBytes decodes the nonce.
func (p Payload) NonceBytes() (Nonce, error) { return ParseNonce(p.Nonce) }

// SignatureBytes decodes the 65-byte signature.
func (p Payload) SignatureBytes() ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(p.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(b) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(b))
	}
	return b, nil
}

// Issuer signs attestations with the attester key.
type Issuer struct {
	signer  signer.SignerProvider
	chainID *big.Int
	nonce   func() (Nonce, error)
	logger  *zap.Logger
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithChainID sets the chain id bound into every attestation.
func WithChainID(id uint64) IssuerOption {
	return func(i *Issuer) {
		i.chainID = new(big.Int).SetUint64(id)
	}
}

// WithNonceSource replaces NewNonce.
func WithNonceSource(f func() (Nonce, error)) IssuerOption {
	return func(i *Issuer) {
		i.nonce = f
	}
}

// WithLogger sets the logger for issued attestations and the demo key warning.
func WithLogger(l *zap.Logger) IssuerOption {
	return func(i *Issuer) {
		i.logger = l
	}
}

// NewIssuer creates an Issuer signing with s.
func NewIssuer(s signer.SignerProvider, opts ...IssuerOption) (*Issuer, error) {
	if s == nil {
		return nil, fmt.Errorf("signer provider is required")
	}
	i := &Issuer{
		signer:  s,
		chainID: big.NewInt(DefaultChainID),
		nonce:   NewNonce,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if signer.IsDemo(s) {
		i.logger.Warn("attester is using the public demo key; attestations are not trustworthy",
			zap.String("attester", s.GetAddress()))
	}
	return i, nil
}

// Attester returns the checksummed attester address.
func (i *Issuer) Attester() string { return common.HexToAddress(i.signer.GetAddress()).Hex() }

// ChainID returns the chain id bound into attestations.
func (i *Issuer) ChainID() uint64 { return i.chainID.Uint64() }

// Issue validates req, draws a fresh nonce and signs the attestation. No
// nonce is drawn for an invalid request.
func (i *Issuer) Issue(req Request) (*Payload, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	nonce, err := i.nonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	digest := Digest(common.HexToAddress(req.EVMAddress), uint8(req.Tier), req.PolkadotAddress, nonce, i.chainID)
	sig, err := i.signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign attestation: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("invalid signature length: expected 65 bytes, got %d", len(sig))
	}

	i.logger.Info("attestation issued",
		zap.Int("tier", req.Tier),
		zap.String("evm_address", req.EVMAddress),
		zap.String("nonce", nonce.Hex()))

	return &Payload{
		Tier:            req.Tier,
		PolkadotAddress: req.PolkadotAddress,
		Nonce:           nonce.Hex(),
		Signature:       "0x" + hex.EncodeToString(normalizeV(sig)),
		Attester:        i.Attester(),
		ChainID:         i.chainID.Uint64(),
	}, nil
}
