// Package lending composes the vault operations as tracked multi-step
// transactions.
package lending

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/pilacorp/go-pop-sdk/evm"
	"github.com/pilacorp/go-pop-sdk/pop"
	"github.com/pilacorp/go-pop-sdk/poperr"
	"github.com/pilacorp/go-pop-sdk/txsteps"
)

// Step ids.
const (
	StepApprove  = "approve"
	StepSupply   = "supply"
	StepWithdraw = "withdraw"
	StepBorrow   = "borrow"
	StepRepay    = "repay"
)

// Op names an operation.
type Op string

const (
	OpSupply   Op = "supply"
	OpWithdraw Op = "withdraw"
	OpBorrow   Op = "borrow"
	OpRepay    Op = "repay"
)

// Chain is the vault gateway. *evm.Client implements it.
type Chain interface {
	Sender() (common.Address, error)
	VaultAddress() (common.Address, error)
	Allowance(ctx context.Context, t evm.Token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, t evm.Token, spender common.Address, amount *big.Int) (common.Hash, error)
	GetPosition(ctx context.Context, user common.Address) (evm.Position, error)
	Supply(ctx context.Context, amount *big.Int) (common.Hash, error)
	Withdraw(ctx context.Context, amount *big.Int) (common.Hash, error)
	Borrow(ctx context.Context, amount *big.Int) (common.Hash, error)
	Repay(ctx context.Context, amount *big.Int) (common.Hash, error)
}

// Credentials exposes the personhood credential. *wallet.Manager implements it.
type Credentials interface {
	Credential() pop.Credential
}

// Service runs vault operations, each in a fresh tracker.
type Service struct {
	chain    Chain
	creds    Credentials
	observer func(Op, []txsteps.Step)
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithObserver receives every step change of every operation.
func WithObserver(f func(Op, []txsteps.Step)) Option {
	return func(s *Service) {
		s.observer = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates a Service.
func NewService(chain Chain, creds Credentials, opts ...Option) *Service {
	s := &Service{
		chain:  chain,
		creds:  creds,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) tracker(op Op, steps ...txsteps.Step) *txsteps.Tracker {
	opts := []txsteps.Option{txsteps.WithLogger(s.logger.With(zap.String("operation", string(op))))}
	if s.observer != nil {
		opts = append(opts, txsteps.WithObserver(func(steps []txsteps.Step) { s.observer(op, steps) }))
	}
	t, err := txsteps.New(steps, opts...)
	if err != nil {
		// step templates are static
		panic(err)
	}
	return t
}

// Supply approves the collateral token if needed, then supplies amount
// (18 decimals). The tracker is returned even when a step fails.
func (s *Service) Supply(ctx context.Context, amount *big.Int) (*txsteps.Tracker, error) {
	t := s.tracker(OpSupply,
		txsteps.Step{ID: StepApprove, Label: "Approve RWA token"},
		txsteps.Step{ID: StepSupply, Label: "Supply collateral"},
	)
	if err := s.approve(ctx, t, evm.TokenRWA, amount); err != nil {
		return t, err
	}
	return t, t.Do(ctx, StepSupply, hashOf(s.chain.Supply, amount))
}

// Repay approves USDC if needed, then repays amount (6 decimals).
func (s *Service) Repay(ctx context.Context, amount *big.Int) (*txsteps.Tracker, error) {
	t := s.tracker(OpRepay,
		txsteps.Step{ID: StepApprove, Label: "Approve USDC"},
		txsteps.Step{ID: StepRepay, Label: "Repay USDC"},
	)
	if err := s.approve(ctx, t, evm.TokenUSDC, amount); err != nil {
		return t, err
	}
	return t, t.Do(ctx, StepRepay, hashOf(s.chain.Repay, amount))
}

// Withdraw removes amount of collateral (18 decimals).
func (s *Service) Withdraw(ctx context.Context, amount *big.Int) (*txsteps.Tracker, error) {
	t := s.tracker(OpWithdraw, txsteps.Step{ID: StepWithdraw, Label: "Withdraw collateral"})
	return t, t.Do(ctx, StepWithdraw, hashOf(s.chain.Withdraw, amount))
}

// Borrow draws amount of USDC (6 decimals). It requires a verified
// credential, and the resulting debt must stay within the tier's cap.
func (s *Service) Borrow(ctx context.Context, amount *big.Int) (*txsteps.Tracker, error) {
	t := s.tracker(OpBorrow, txsteps.Step{ID: StepBorrow, Label: "Borrow USDC"})
	if err := s.checkBorrow(ctx, amount); err != nil {
		t.SetStepStatus(StepBorrow, txsteps.Error, txsteps.Extra{ErrorMsg: poperr.Message(err)})
		return t, err
	}
	return t, t.Do(ctx, StepBorrow, hashOf(s.chain.Borrow, amount))
}

// BorrowCap is the tier's cap in USDC base units.
func BorrowCap(tier pop.Tier) *big.Int {
	usd := new(big.Int).SetUint64(tier.BorrowCapUSD())
	return usd.Mul(usd, big.NewInt(1_000_000))
}

func (s *Service) checkBorrow(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return poperr.New(poperr.ErrValidation, "Borrow amount must be positive.")
	}
	cred := s.creds.Credential()
	if !cred.CanBorrow() {
		return poperr.New(poperr.ErrNotVerified, "Verify your Proof of Personhood to borrow.")
	}

	debt := new(big.Int).Set(amount)
	if user, err := s.chain.Sender(); err == nil {
		pos, err := s.chain.GetPosition(ctx, user)
		if err != nil {
			return fmt.Errorf("failed to read position: %w", err)
		}
		if pos.Borrowed != nil {
			debt.Add(debt, pos.Borrowed)
		}
	}
	if limit := BorrowCap(cred.Tier); debt.Cmp(limit) > 0 {
		return poperr.New(poperr.ErrValidation, fmt.Sprintf("Borrow exceeds your %s cap of $%s.",
			cred.Tier.Label(), groupThousands(cred.Tier.BorrowCapUSD())))
	}
	return nil
}

// approve skips the approve step when the vault's allowance already covers amount.
func (s *Service) approve(ctx context.Context, t *txsteps.Tracker, token evm.Token, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		err := poperr.New(poperr.ErrValidation, "Amount must be positive.")
		t.SetStepStatus(StepApprove, txsteps.Error, txsteps.Extra{ErrorMsg: err.Error()})
		return err
	}
	owner, err := s.chain.Sender()
	if err != nil {
		t.SetStepStatus(StepApprove, txsteps.Error, txsteps.Extra{ErrorMsg: poperr.Message(err)})
		return err
	}
	spender, err := s.chain.VaultAddress()
	if err != nil {
		t.SetStepStatus(StepApprove, txsteps.Error, txsteps.Extra{ErrorMsg: poperr.Message(err)})
		return err
	}

	allowance, err := s.chain.Allowance(ctx, token, owner, spender)
	if err == nil && allowance.Cmp(amount) >= 0 {
		s.logger.Debug("allowance sufficient, skipping approve", zap.Stringer("token", token))
		return t.Skip(StepApprove)
	}
	if err != nil {
		s.logger.Warn("allowance read failed, approving", zap.Error(err))
	}
	return t.Do(ctx, StepApprove, func(ctx context.Context) (string, error) {
		h, err := s.chain.Approve(ctx, token, spender, amount)
		return hashString(h), err
	})
}

func hashOf(write func(context.Context, *big.Int) (common.Hash, error), amount *big.Int) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		h, err := write(ctx, amount)
		return hashString(h), err
	}
}

func hashString(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

func groupThousands(v uint64) string {
	s := fmt.Sprintf("%d", v)
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return string(out)
}
