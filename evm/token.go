package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Allowance reads token.allowance(owner, spender).
func (c *Client) Allowance(ctx context.Context, t Token, owner, spender common.Address) (*big.Int, error) {
	contract, err := c.token(t)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, contract, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return bigOut(out, 0), nil
}

// Approve grants spender an allowance of amount and waits for it to be mined.
func (c *Client) Approve(ctx context.Context, t Token, spender common.Address, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() < 0 {
		return common.Hash{}, fmt.Errorf("approve amount must not be negative")
	}
	contract, err := c.token(t)
	if err != nil {
		return common.Hash{}, err
	}
	return c.transact(ctx, contract, "approve", spender, amount)
}

// BalanceOf reads the token balance of account.
func (c *Client) BalanceOf(ctx context.Context, t Token, account common.Address) (*big.Int, error) {
	contract, err := c.token(t)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, contract, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return bigOut(out, 0), nil
}

// Faucet claims test tokens from the mock token contract.
func (c *Client) Faucet(ctx context.Context, t Token) (common.Hash, error) {
	contract, err := c.token(t)
	if err != nil {
		return common.Hash{}, err
	}
	return c.transact(ctx, contract, "faucet")
}

// ParseAmount converts a decimal string into base units with the given decimals.
func ParseAmount(s string, decimals int) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %q", s)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	return new(big.Int).Set(r.Num()), nil
}

// FormatAmount renders base units as a decimal string.
func FormatAmount(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(v, scale).FloatString(decimals)
}
