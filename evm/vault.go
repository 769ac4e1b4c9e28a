package evm

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-pop-sdk/pop"
)

var (
	// maxUint256 is the health factor reported for positions without debt.
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	wad        = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// Decimals of the two vault tokens.
const (
	RWADecimals  = 18
	USDCDecimals = 6
)

// Position is a user's vault position.
type Position struct {
	Supplied *big.Int // collateral, 18 decimals
	Borrowed *big.Int // USDC, 6 decimals
	// HealthFactor is +Inf when there is no debt.
	HealthFactor float64
	MaxBorrow    *big.Int // USDC, 6 decimals
	PopTier      pop.Tier
	// CollateralValue is Supplied priced in USDC base units.
	CollateralValue *big.Int
}

// VaultStats are the vault-wide figures.
type VaultStats struct {
	TotalSupplied   *big.Int // USDC value of collateral
	TotalBorrowed   *big.Int
	Utilization     uint64 // percent
	SupplyAPY       float64
	BorrowAPY       float64
	CollateralPrice *big.Int // USDC per collateral token
}

// GetPosition reads RWAVault.getPosition and the collateral price.
func (c *Client) GetPosition(ctx context.Context, user common.Address) (Position, error) {
	vault, _, err := c.vault()
	if err != nil {
		return Position{}, err
	}
	out, err := c.call(ctx, vault, "getPosition", user)
	if err != nil {
		return Position{}, err
	}
	if len(out) != 5 {
		return Position{}, fmt.Errorf("getPosition returned %d values", len(out))
	}
	priceOut, err := c.call(ctx, vault, "collateralPrice")
	if err != nil {
		return Position{}, err
	}
	price := bigOut(priceOut, 0)
	tier, _ := out[4].(uint8)

	pos := Position{
		Supplied:  bigOut(out, 0),
		Borrowed:  bigOut(out, 1),
		MaxBorrow: bigOut(out, 3),
		PopTier:   pop.ClampTier(tier),
	}
	pos.HealthFactor = healthFactor(bigOut(out, 2))
	pos.CollateralValue = new(big.Int).Div(new(big.Int).Mul(pos.Supplied, price), wad)
	return pos, nil
}

func healthFactor(raw *big.Int) float64 {
	if raw.Cmp(maxUint256) == 0 {
		return math.Inf(1)
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), new(big.Float).SetInt(wad)).Float64()
	return f
}

// GetVaultStats reads the vault totals, utilisation and rates.
func (c *Client) GetVaultStats(ctx context.Context) (VaultStats, error) {
	vault, _, err := c.vault()
	if err != nil {
		return VaultStats{}, err
	}
	read := func(method string) (*big.Int, error) {
		out, err := c.call(ctx, vault, method)
		if err != nil {
			return nil, err
		}
		return bigOut(out, 0), nil
	}

	values := map[string]*big.Int{}
	for _, method := range []string{"totalSupplied", "totalBorrowed", "getUtilization", "supplyRateBps", "borrowRateBps", "collateralPrice"} {
		v, err := read(method)
		if err != nil {
			return VaultStats{}, err
		}
		values[method] = v
	}

	price := values["collateralPrice"]
	return VaultStats{
		TotalSupplied:   new(big.Int).Div(new(big.Int).Mul(values["totalSupplied"], price), wad),
		TotalBorrowed:   values["totalBorrowed"],
		Utilization:     values["getUtilization"].Uint64(),
		SupplyAPY:       float64(values["supplyRateBps"].Int64()) / 100,
		BorrowAPY:       float64(values["borrowRateBps"].Int64()) / 100,
		CollateralPrice: price,
	}, nil
}

// VaultAddress returns the configured vault address, the spender of approvals.
func (c *Client) VaultAddress() (common.Address, error) {
	_, addr, err := c.vault()
	return addr, err
}

// Supply deposits collateral. The vault must already hold an allowance.
func (c *Client) Supply(ctx context.Context, amount *big.Int) (common.Hash, error) {
	return c.vaultWrite(ctx, "supply", amount)
}

// Withdraw removes collateral.
func (c *Client) Withdraw(ctx context.Context, amount *big.Int) (common.Hash, error) {
	return c.vaultWrite(ctx, "withdraw", amount)
}

// Borrow draws USDC against the caller's collateral.
func (c *Client) Borrow(ctx context.Context, amount *big.Int) (common.Hash, error) {
	return c.vaultWrite(ctx, "borrow", amount)
}

// Repay returns USDC. The vault must already hold an allowance.
func (c *Client) Repay(ctx context.Context, amount *big.Int) (common.Hash, error) {
	return c.vaultWrite(ctx, "repay", amount)
}

func (c *Client) vaultWrite(ctx context.Context, method string, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("%s amount must be positive", method)
	}
	vault, _, err := c.vault()
	if err != nil {
		return common.Hash{}, err
	}
	return c.transact(ctx, vault, method, amount)
}
