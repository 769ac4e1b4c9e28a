// Package verify runs the Proof of Personhood attestation pipeline: connect
// both wallets, read the personhood tier from the People Chain, obtain a
// signed attestation and submit it to the on-chain verifier.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pilacorp/go-pop-sdk/attest"
	"github.com/pilacorp/go-pop-sdk/evm"
	"github.com/pilacorp/go-pop-sdk/peoplechain"
	"github.com/pilacorp/go-pop-sdk/pop"
	"github.com/pilacorp/go-pop-sdk/poperr"
	"github.com/pilacorp/go-pop-sdk/provider"
	"github.com/pilacorp/go-pop-sdk/session"
)

// FallbackTier is granted when the tier query fails or finds no record and
// the fallback is enabled.
const FallbackTier = pop.TierDIM1

const (
	msgAttestationMismatch = "Attestation does not match the request."
	msgAttestationInvalid  = "Attestation signature is invalid."
)

// Tier sources reported in Status.
const (
	TierSourcePeopleChain = "people-chain"
	TierSourceFallback    = "fallback"
)

// Wallet is the session owner the pipeline connects through.
// *wallet.Manager implements it.
type Wallet interface {
	Connect(ctx context.Context, id provider.ID) (session.Session, error)
	Session(ns provider.Namespace) (session.Session, bool)
	SetTier(tier int) pop.Tier
}

// TierQuerier reads the personhood tier of a Substrate address.
// *peoplechain.Querier implements it.
type TierQuerier interface {
	QueryTier(ctx context.Context, address string, network peoplechain.Network) (peoplechain.Result, error)
}

// Attester obtains a signed attestation. *attestapi.Client implements it.
type Attester interface {
	Request(ctx context.Context, evmAddress, polkadotAddress string, tier pop.Tier) (*attest.Payload, error)
}

// Submitter submits an attestation and waits for it to be mined.
// *evm.Client implements it.
type Submitter interface {
	SubmitAttestation(ctx context.Context, payload attest.Payload) (*evm.Submission, error)
}

// Status is a snapshot of a run.
type Status struct {
	Phase Phase `json:"phase"`
	// Failed is the phase that failed when Phase is PhaseError.
	Failed         Phase               `json:"failed,omitempty"`
	AccountAddress string              `json:"accountAddress,omitempty"`
	Counterpart    string              `json:"counterpartAddress,omitempty"`
	Tier           pop.Tier            `json:"tier"`
	TierSource     string              `json:"tierSource,omitempty"`
	Query          *peoplechain.Result `json:"query,omitempty"`
	Payload        *attest.Payload     `json:"payload,omitempty"`
	TxHash         string              `json:"txHash,omitempty"`
	// Message is the failure message clipped for display.
	Message string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

// Observer receives every status change of a run, in order.
type Observer func(Status)

// Pipeline is the attestation state machine. Only one run may be active.
type Pipeline struct {
	wallet    Wallet
	querier   TierQuerier
	attester  Attester
	submitter Submitter

	network  peoplechain.Network
	fallback bool
	chainID  uint64
	trusted  common.Address
	observer Observer
	logger   *zap.Logger

	guard *semaphore.Weighted
	mu    sync.RWMutex
	last  Status
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNetwork selects the People Chain network queried for the tier.
func WithNetwork(n peoplechain.Network) Option {
	return func(p *Pipeline) {
		p.network = n
	}
}

// WithTierFallback enables or disables the FallbackTier grant. It dilutes
// sybil resistance and must be disabled outside demos.
func WithTierFallback(enabled bool) Option {
	return func(p *Pipeline) {
		p.fallback = enabled
	}
}

// WithExpectedChainID rejects attestations bound to another chain.
func WithExpectedChainID(id uint64) Option {
	return func(p *Pipeline) {
		p.chainID = id
	}
}

// WithTrustedAttester rejects attestations not signed by addr, typically the
// attester the verifier contract trusts.
func WithTrustedAttester(addr common.Address) Option {
	return func(p *Pipeline) {
		p.trusted = addr
	}
}

// WithObserver receives every status change, in order.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// New creates a pipeline. The tier fallback is on unless disabled.
func New(w Wallet, q TierQuerier, a Attester, s Submitter, opts ...Option) *Pipeline {
	p := &Pipeline{
		wallet:    w,
		querier:   q,
		attester:  a,
		submitter: s,
		network:   peoplechain.Paseo,
		fallback:  true,
		logger:    zap.NewNop(),
		guard:     semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Status returns the latest snapshot.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Running reports whether a run is in flight.
func (p *Pipeline) Running() bool { return p.Status().Phase.Running() }

// Run drives one verification for the Substrate provider counterpart. A
// second Run while one is active fails with poperr.ErrPipelineRunning. The
// returned status is terminal; its error is also returned.
func (p *Pipeline) Run(ctx context.Context, counterpart provider.ID) (Status, error) {
	if counterpart.Namespace() != provider.NamespaceSubstrate {
		return p.Status(), fmt.Errorf("counterpart provider must be a Substrate extension, got %s", counterpart)
	}
	if !p.guard.TryAcquire(1) {
		return p.Status(), poperr.New(poperr.ErrPipelineRunning, "Verification is already running.")
	}
	defer p.guard.Release(1)

	r := &run{p: p}
	return r.execute(ctx, counterpart)
}

type run struct {
	p  *Pipeline
	st Status
}

func (r *run) enter(phase Phase) {
	r.st.Phase = phase
	r.publish()
	r.p.logger.Debug("verification phase", zap.Stringer("phase", phase))
}

func (r *run) publish() {
	r.p.mu.Lock()
	r.p.last = r.st
	r.p.mu.Unlock()
	if r.p.observer != nil {
		r.p.observer(r.st)
	}
}

func (r *run) fail(err error) (Status, error) {
	r.st.Failed = r.st.Phase
	r.st.Phase = PhaseError
	r.st.Err = err
	r.st.Message = poperr.Message(err)
	r.publish()
	r.p.logger.Warn("verification failed", zap.Stringer("phase", r.st.Failed), zap.Error(err))
	return r.st, err
}

func (r *run) execute(ctx context.Context, counterpart provider.ID) (Status, error) {
	r.enter(PhaseConnectingAccount)
	account, err := r.ensure(ctx, provider.NamespaceEVM, provider.MetaMask)
	if err != nil {
		return r.fail(err)
	}
	r.st.AccountAddress = account.Address

	r.enter(PhaseConnectingCounterpart)
	sub, err := r.ensure(ctx, provider.NamespaceSubstrate, counterpart)
	if err != nil {
		return r.fail(err)
	}
	r.st.Counterpart = sub.Address

	r.enter(PhaseQueryingTier)
	tier, err := r.queryTier(ctx)
	if err != nil {
		return r.fail(err)
	}
	r.st.Tier = tier

	r.enter(PhaseRequestingAttestation)
	payload, err := r.p.attester.Request(ctx, r.st.AccountAddress, r.st.Counterpart, tier)
	if err != nil {
		return r.fail(err)
	}
	if err := r.checkPayload(*payload, tier); err != nil {
		return r.fail(err)
	}
	r.st.Payload = payload

	r.enter(PhaseSubmitting)
	submission, err := r.p.submitter.SubmitAttestation(ctx, *payload)
	if submission != nil {
		r.st.TxHash = submission.TxHash.Hex()
	}
	if err != nil {
		return r.fail(err)
	}

	r.st.Tier = r.p.wallet.SetTier(int(tier))
	r.enter(PhaseComplete)
	r.p.logger.Info("personhood verified", zap.Uint8("tier", uint8(r.st.Tier)), zap.String("tx_hash", r.st.TxHash))
	return r.st, nil
}

// checkPayload verifies the attestation locally so a payload the verifier
// would reject is never submitted.
func (r *run) checkPayload(p attest.Payload, tier pop.Tier) error {
	if p.Tier != int(tier) || p.PolkadotAddress != r.st.Counterpart {
		return poperr.New(poperr.ErrAttestationServer, msgAttestationMismatch)
	}
	var opts []attest.VerifyOption
	if r.p.chainID != 0 {
		opts = append(opts, attest.WithExpectedChainID(r.p.chainID))
	}
	attester, err := attest.Verify(p, common.HexToAddress(r.st.AccountAddress), opts...)
	if err != nil {
		return poperr.Wrap(poperr.ErrAttestationServer, msgAttestationInvalid, err)
	}
	if r.p.trusted != (common.Address{}) && attester != r.p.trusted {
		return poperr.Wrap(poperr.ErrAttestationServer, msgAttestationInvalid,
			fmt.Errorf("attestation signed by %s, verifier trusts %s", attester.Hex(), r.p.trusted.Hex()))
	}
	return nil
}

// ensure reuses a connected session of ns or connects id.
func (r *run) ensure(ctx context.Context, ns provider.Namespace, id provider.ID) (session.Session, error) {
	if s, ok := r.p.wallet.Session(ns); ok {
		return s, nil
	}
	return r.p.wallet.Connect(ctx, id)
}

// queryTier reads the tier, degrading to FallbackTier when enabled.
func (r *run) queryTier(ctx context.Context) (pop.Tier, error) {
	res, err := r.p.querier.QueryTier(ctx, r.st.Counterpart, r.p.network)
	if err == nil {
		r.st.Query = &res
	}
	if err == nil && res.Tier >= pop.TierDIM1 {
		r.st.TierSource = TierSourcePeopleChain
		return res.Tier, nil
	}

	if r.p.fallback {
		r.st.TierSource = TierSourceFallback
		r.p.logger.Warn("granting fallback tier",
			zap.Uint8("tier", uint8(FallbackTier)),
			zap.String("network", string(r.p.network)),
			zap.Error(err))
		return FallbackTier, nil
	}
	if err != nil {
		return 0, err
	}
	return 0, poperr.New(poperr.ErrNotVerified,
		fmt.Sprintf("No Proof of Personhood record on People Chain (%s).", r.p.network))
}

// IsRunning reports whether err is the single-flight refusal.
func IsRunning(err error) bool { return errors.Is(err, poperr.ErrPipelineRunning) }
