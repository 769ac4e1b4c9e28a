// Package pop models the Proof of Personhood credential: the tier ladder and
// the borrow parameters derived from it.
package pop

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// Tier ranks the strength of a personhood proof.
type Tier uint8

const (
	TierUnverified Tier = 0
	TierDIM1       Tier = 1
	TierDIM2       Tier = 2
	TierFullStack  Tier = 3

	MinTier = TierUnverified
	MaxTier = TierFullStack
)

var multipliers = map[Tier]float64{
	TierUnverified: 1.0,
	TierDIM1:       1.0,
	TierDIM2:       1.5,
	TierFullStack:  2.0,
}

var borrowCaps = map[Tier]uint64{
	TierUnverified: 0,
	TierDIM1:       100_000,
	TierDIM2:       150_000,
	TierFullStack:  200_000,
}

var labels = map[Tier]string{
	TierUnverified: "Unverified",
	TierDIM1:       "DIM1 Verified",
	TierDIM2:       "DIM2 Verified",
	TierFullStack:  "Full-Stack PoP",
}

var descriptions = map[Tier]string{
	TierUnverified: "Connect a Polkadot wallet with People Chain PoP to unlock borrowing.",
	TierDIM1:       "DIM1 (Dimensional Layer 1) – Ring VRF uniqueness proof. 1× borrow multiplier.",
	TierDIM2:       "DIM2 (Dimensional Layer 2) – Enhanced uniqueness + social graph. 1.5× multiplier.",
	TierFullStack:  "Full-stack PoP – All dimensions verified. Maximum 2× borrow multiplier.",
}

// ClampTier bounds any integer to [MinTier, MaxTier].
func ClampTier[T constraints.Integer](v T) Tier {
	if v <= T(MinTier) {
		return MinTier
	}
	if v >= T(MaxTier) {
		return MaxTier
	}
	return Tier(v)
}

// ParseTier accepts only tiers that may be attested (1 to 3).
func ParseTier[T constraints.Integer](v T) (Tier, error) {
	if v < T(TierDIM1) || v > T(MaxTier) {
		return 0, fmt.Errorf("tier %d out of range [1,3]", v)
	}
	return Tier(v), nil
}

// Valid reports whether t is on the ladder.
func (t Tier) Valid() bool { return t <= MaxTier }

// Multiplier is the borrow multiplier for t. Tier 0 carries a neutral
// multiplier for display only.
func (t Tier) Multiplier() float64 { return multipliers[ClampTier(t)] }

// BorrowCapUSD is the maximum debt in whole USD for t.
func (t Tier) BorrowCapUSD() uint64 { return borrowCaps[ClampTier(t)] }

// Label is the short display name of t.
func (t Tier) Label() string { return labels[ClampTier(t)] }

// Description is the long display text of t.
func (t Tier) Description() string { return descriptions[ClampTier(t)] }

// MultiplierLabel renders the multiplier as shown in the UI. Tier 0 shows 0×
// because it is never eligible to borrow.
func (t Tier) MultiplierLabel() string {
	if t == TierUnverified {
		return "0×"
	}
	return fmt.Sprintf("%.1f×", t.Multiplier())
}

func (t Tier) String() string { return fmt.Sprintf("tier %d", uint8(t)) }
