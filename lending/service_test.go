package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-pop-sdk/evm"
	"github.com/pilacorp/go-pop-sdk/pop"
	"github.com/pilacorp/go-pop-sdk/poperr"
	"github.com/pilacorp/go-pop-sdk/txsteps"
)

var (
	user  = common.HexToAddress("0xABCDabcdABCDabcdABCDabcdABCDabcdABCD1234")
	vault = common.HexToAddress("0x1000000000000000000000000000000000000003")
)

type fakeChain struct {
	allowance map[evm.Token]*big.Int
	borrowed  *big.Int
	writeErr  map[string]error
	calls     []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		allowance: map[evm.Token]*big.Int{evm.TokenRWA: big.NewInt(0), evm.TokenUSDC: big.NewInt(0)},
		borrowed:  big.NewInt(0),
		writeErr:  map[string]error{},
	}
}

func (c *fakeChain) Sender() (common.Address, error)       { return user, nil }
func (c *fakeChain) VaultAddress() (common.Address, error) { return vault, nil }

func (c *fakeChain) Allowance(_ context.Context, t evm.Token, owner, spender common.Address) (*big.Int, error) {
	c.calls = append(c.calls, "allowance")
	if owner != user || spender != vault {
		return nil, errors.New("unexpected allowance query")
	}
	return c.allowance[t], nil
}

func (c *fakeChain) write(name string) (common.Hash, error) {
	c.calls = append(c.calls, name)
	if err := c.writeErr[name]; err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash([]byte(name)), nil
}

func (c *fakeChain) Approve(_ context.Context, t evm.Token, _ common.Address, amount *big.Int) (common.Hash, error) {
	h, err := c.write("approve")
	if err == nil {
		c.allowance[t] = amount
	}
	return h, err
}

func (c *fakeChain) GetPosition(context.Context, common.Address) (evm.Position, error) {
	return evm.Position{Borrowed: c.borrowed}, nil
}

func (c *fakeChain) Supply(context.Context, *big.Int) (common.Hash, error)   { return c.write("supply") }
func (c *fakeChain) Withdraw(context.Context, *big.Int) (common.Hash, error) { return c.write("withdraw") }
func (c *fakeChain) Borrow(context.Context, *big.Int) (common.Hash, error)   { return c.write("borrow") }
func (c *fakeChain) Repay(context.Context, *big.Int) (common.Hash, error)    { return c.write("repay") }

type staticCreds pop.Tier

func (c staticCreds) Credential() pop.Credential { return pop.Credential{Tier: pop.Tier(c)} }

func usdc(v int64) *big.Int { return new(big.Int).Mul(big.NewInt(v), big.NewInt(1_000_000)) }

func statuses(t *txsteps.Tracker) []txsteps.Status {
	var out []txsteps.Status
	for _, s := range t.Steps() {
		out = append(out, s.Status)
	}
	return out
}

func TestSupplyApprovesThenSupplies(t *testing.T) {
	chain := newFakeChain()
	var observed []txsteps.Status
	svc := NewService(chain, staticCreds(pop.TierDIM1), WithObserver(func(op Op, steps []txsteps.Step) {
		assert.Equal(t, OpSupply, op)
		observed = append(observed, steps[0].Status)
	}))

	tr, err := svc.Supply(context.Background(), big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, []txsteps.Status{txsteps.Success, txsteps.Success}, statuses(tr))
	assert.Equal(t, []string{"allowance", "approve", "supply"}, chain.calls)
	assert.True(t, tr.AllDone())
	assert.Contains(t, observed, txsteps.Loading)

	step, _ := tr.Step(StepSupply)
	assert.Equal(t, common.BytesToHash([]byte("supply")).Hex(), step.TxHash)
}

func TestSupplySkipsApproveWithAllowance(t *testing.T) {
	chain := newFakeChain()
	chain.allowance[evm.TokenRWA] = big.NewInt(100)
	var approveStates []txsteps.Status
	svc := NewService(chain, staticCreds(pop.TierDIM1), WithObserver(func(_ Op, steps []txsteps.Step) {
		approveStates = append(approveStates, steps[0].Status)
	}))

	tr, err := svc.Supply(context.Background(), big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, []string{"allowance", "supply"}, chain.calls)

	step, _ := tr.Step(StepApprove)
	assert.Equal(t, txsteps.Success, step.Status)
	assert.Empty(t, step.TxHash)
	assert.NotContains(t, approveStates[:1], txsteps.Loading)
}

func TestRepayUsesUSDCAllowance(t *testing.T) {
	chain := newFakeChain()
	chain.allowance[evm.TokenRWA] = usdc(1_000)
	svc := NewService(chain, staticCreds(pop.TierDIM1))

	_, err := svc.Repay(context.Background(), usdc(5))
	require.NoError(t, err)
	assert.Equal(t, []string{"allowance", "approve", "repay"}, chain.calls)
	assert.Equal(t, usdc(5), chain.allowance[evm.TokenUSDC])
}

func TestApproveFailureStopsOperation(t *testing.T) {
	chain := newFakeChain()
	chain.writeErr["approve"] = poperr.New(poperr.ErrProviderRejected, "User denied transaction signature.")
	svc := NewService(chain, staticCreds(pop.TierDIM1))

	tr, err := svc.Supply(context.Background(), big.NewInt(1))
	assert.ErrorIs(t, err, poperr.ErrProviderRejected)
	assert.Equal(t, []txsteps.Status{txsteps.Error, txsteps.Pending}, statuses(tr))
	assert.NotContains(t, chain.calls, "supply")
	assert.NoError(t, tr.Close())

	step, _ := tr.Step(StepApprove)
	assert.Equal(t, "User denied transaction signature.", step.ErrorMsg)
}

func TestWithdraw(t *testing.T) {
	chain := newFakeChain()
	chain.writeErr["withdraw"] = poperr.New(poperr.ErrOnChainRevert, "Transaction reverted on-chain.")
	svc := NewService(chain, staticCreds(pop.TierUnverified))

	tr, err := svc.Withdraw(context.Background(), big.NewInt(1))
	assert.ErrorIs(t, err, poperr.ErrOnChainRevert)
	assert.Len(t, tr.Steps(), 1)
	assert.True(t, tr.HasError())
}

func TestBorrowEligibility(t *testing.T) {
	tests := []struct {
		name     string
		tier     pop.Tier
		borrowed int64
		amount   int64
		kind     error
	}{
		{"unverified", pop.TierUnverified, 0, 1, poperr.ErrNotVerified},
		{"within dim1 cap", pop.TierDIM1, 0, 100_000, nil},
		{"over dim1 cap", pop.TierDIM1, 0, 100_001, poperr.ErrValidation},
		{"existing debt counts", pop.TierDIM2, 100_000, 60_000, poperr.ErrValidation},
		{"full stack", pop.TierFullStack, 50_000, 150_000, nil},
		{"zero amount", pop.TierDIM1, 0, 0, poperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newFakeChain()
			chain.borrowed = usdc(tt.borrowed)
			svc := NewService(chain, staticCreds(tt.tier))

			tr, err := svc.Borrow(context.Background(), usdc(tt.amount))
			if tt.kind == nil {
				require.NoError(t, err)
				assert.True(t, tr.AllDone())
				assert.Contains(t, chain.calls, "borrow")
				return
			}
			assert.ErrorIs(t, err, tt.kind)
			assert.NotContains(t, chain.calls, "borrow")
			assert.True(t, tr.HasError())
		})
	}
}

func TestBorrowCapMessage(t *testing.T) {
	svc := NewService(newFakeChain(), staticCreds(pop.TierDIM2))
	_, err := svc.Borrow(context.Background(), usdc(150_001))
	require.Error(t, err)
	assert.Equal(t, "Borrow exceeds your DIM2 Verified cap of $150,000.", err.Error())
	assert.Equal(t, usdc(200_000), BorrowCap(pop.TierFullStack))
	assert.Equal(t, "1,234,567", groupThousands(1234567))
}
