package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pilacorp/go-pop-sdk/attest"
	"github.com/pilacorp/go-pop-sdk/pop"
)

// OnChainCredential is the verifier's view of an account.
type OnChainCredential struct {
	Tier      pop.Tier  `json:"tier"`
	ExpiresAt time.Time `json:"expiresAt"`
	Active    bool      `json:"active"`
	Expired   bool      `json:"expired"`
}

// EffectiveTier is the tier the vault honours: 0 unless active and unexpired.
func (c OnChainCredential) EffectiveTier() pop.Tier {
	if !c.Active || c.Expired {
		return pop.TierUnverified
	}
	return c.Tier
}

// Submission is a mined attestation.
type Submission struct {
	TxHash common.Hash
	// Issued is set when the receipt carries a CredentialIssued event for the sender.
	Issued *OnChainCredential
}

type credentialIssuedEvent struct {
	User      common.Address
	Tier      uint8
	ExpiresAt *big.Int
}

// SubmitAttestation sends payload to PoPVerifier.submitAttestation and waits
// for it to be mined. The polkadot address is submitted as its UTF-8 bytes.
func (c *Client) SubmitAttestation(ctx context.Context, payload attest.Payload) (*Submission, error) {
	contract, err := c.verifier()
	if err != nil {
		return nil, err
	}
	nonce, err := payload.NonceBytes()
	if err != nil {
		return nil, fmt.Errorf("invalid attestation nonce: %w", err)
	}
	sig, err := payload.SignatureBytes()
	if err != nil {
		return nil, fmt.Errorf("invalid attestation signature: %w", err)
	}
	tier, err := pop.ParseTier(payload.Tier)
	if err != nil {
		return nil, fmt.Errorf("invalid attestation tier: %w", err)
	}

	auth, err := c.getTransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := contract.Transact(auth, "submitAttestation",
		uint8(tier),
		[]byte(payload.PolkadotAddress),
		[32]byte(nonce),
		sig,
	)
	if err != nil {
		return nil, classifyTxError("submitAttestation", err)
	}

	receipt, err := c.WaitMined(ctx, tx.Hash())
	if err != nil {
		return &Submission{TxHash: tx.Hash()}, err
	}
	out := &Submission{TxHash: tx.Hash()}
	out.Issued = c.issuedFrom(receipt, auth.From)
	return out, nil
}

func (c *Client) issuedFrom(receipt *types.Receipt, user common.Address) *OnChainCredential {
	contract, err := c.verifier()
	if err != nil {
		return nil
	}
	parsed, err := PoPVerifierABI()
	if err != nil {
		return nil
	}
	eventID := parsed.Events["CredentialIssued"].ID
	for _, l := range receipt.Logs {
		if l == nil || len(l.Topics) == 0 || l.Topics[0] != eventID {
			continue
		}
		var ev credentialIssuedEvent
		if err := contract.UnpackLog(&ev, "CredentialIssued", *l); err != nil {
			continue
		}
		if ev.User != user {
			continue
		}
		return &OnChainCredential{
			Tier:      pop.ClampTier(ev.Tier),
			ExpiresAt: time.Unix(ev.ExpiresAt.Int64(), 0).UTC(),
			Active:    true,
		}
	}
	return nil
}

// GetCredential reads PoPVerifier.getCredential for user.
func (c *Client) GetCredential(ctx context.Context, user common.Address) (OnChainCredential, error) {
	contract, err := c.verifier()
	if err != nil {
		return OnChainCredential{}, err
	}
	out, err := c.call(ctx, contract, "getCredential", user)
	if err != nil {
		return OnChainCredential{}, err
	}
	if len(out) != 4 {
		return OnChainCredential{}, fmt.Errorf("getCredential returned %d values", len(out))
	}
	tier, _ := out[0].(uint8)
	active, _ := out[2].(bool)
	expired, _ := out[3].(bool)
	return OnChainCredential{
		Tier:      pop.ClampTier(tier),
		ExpiresAt: time.Unix(bigOut(out, 1).Int64(), 0).UTC(),
		Active:    active,
		Expired:   expired,
	}, nil
}

// OnChainTier is the effective tier of user: 0 when the credential is
// inactive or expired.
func (c *Client) OnChainTier(ctx context.Context, user common.Address) (pop.Tier, error) {
	cred, err := c.GetCredential(ctx, user)
	if err != nil {
		return pop.TierUnverified, err
	}
	return cred.EffectiveTier(), nil
}

// Attester reads the signer address the verifier trusts.
func (c *Client) Attester(ctx context.Context) (common.Address, error) {
	contract, err := c.verifier()
	if err != nil {
		return common.Address{}, err
	}
	out, err := c.call(ctx, contract, "attester")
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("attester returned %T", out[0])
	}
	return addr, nil
}

// NonceUsed reports whether the verifier already consumed nonce.
func (c *Client) NonceUsed(ctx context.Context, nonce attest.Nonce) (bool, error) {
	contract, err := c.verifier()
	if err != nil {
		return false, err
	}
	out, err := c.call(ctx, contract, "usedNonces", [32]byte(nonce))
	if err != nil {
		return false, err
	}
	used, _ := out[0].(bool)
	return used, nil
}

// TierInfo is the risk engine's borrow parameters for an account.
type TierInfo struct {
	Tier pop.Tier
	// Multiplier is in basis points of 1x (100 = 1.0x).
	Multiplier *big.Int
	// BorrowCap is in USDC base units (6 decimals).
	BorrowCap *big.Int
}

// GetTierInfo reads PoPRiskEngine.getTierInfo for user.
func (c *Client) GetTierInfo(ctx context.Context, user common.Address) (TierInfo, error) {
	contract, err := c.riskEngine()
	if err != nil {
		return TierInfo{}, err
	}
	out, err := c.call(ctx, contract, "getTierInfo", user)
	if err != nil {
		return TierInfo{}, err
	}
	if len(out) != 3 {
		return TierInfo{}, fmt.Errorf("getTierInfo returned %d values", len(out))
	}
	tier, _ := out[0].(uint8)
	return TierInfo{
		Tier:       pop.ClampTier(tier),
		Multiplier: bigOut(out, 1),
		BorrowCap:  bigOut(out, 2),
	}, nil
}
