package pop

// Credential is the caller's current personhood state.
type Credential struct {
	Tier Tier `json:"tier"`
}

// IsVerified reports whether the credential reaches at least tier 1.
func (c Credential) IsVerified() bool { return c.Tier >= TierDIM1 }

// BorrowMultiplier returns the multiplier table entry for the tier.
func (c Credential) BorrowMultiplier() float64 { return c.Tier.Multiplier() }

// CanBorrow reports whether the credential is eligible to borrow at all.
func (c Credential) CanBorrow() bool { return c.IsVerified() }

// BorrowCapUSD returns the tier's borrow cap in whole USD.
func (c Credential) BorrowCapUSD() uint64 { return c.Tier.BorrowCapUSD() }
