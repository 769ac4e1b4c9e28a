// Package evm is the chain gateway for the EVM side of the protocol: the
// PoPVerifier, PoPRiskEngine, RWAVault and ERC-20 token contracts.
//
// Transactions are signed with a signer.SignerProvider and sent through the
// configured backend. Every write returns the transaction hash once the
// transaction has been mined successfully; a failed receipt is reported as
// poperr.ErrOnChainRevert.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/pilacorp/go-pop-sdk/poperr"
	"github.com/pilacorp/go-pop-sdk/signer"
)

const (
	DefaultChainID      = 1287
	DefaultRPCURL       = "https://rpc.api.moonbase.moonbeam.network"
	DefaultExplorerURL  = "https://moonbase.moonscan.io"
	DefaultPollInterval = 2 * time.Second
	// DefaultConfirmTimeout bounds the wait for one transaction receipt.
	DefaultConfirmTimeout = 2 * time.Minute
	// DefaultDialTimeout bounds establishing the RPC connection in Dial.
	DefaultDialTimeout = 12 * time.Second

	msgRPCUnreachable = "Could not connect to the EVM RPC."
)

// Backend is the JSON-RPC surface the client needs. *ethclient.Client
// implements it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Contracts holds the deployed contract addresses.
type Contracts struct {
	PoPVerifier   string
	PoPRiskEngine string
	RWAVault      string
	RWAToken      string
	USDC          string
}

// Token selects one of the two ERC-20 tokens of the vault.
type Token int

const (
	// TokenRWA is the collateral token (18 decimals).
	TokenRWA Token = iota
	// TokenUSDC is the borrow token (6 decimals).
	TokenUSDC
)

func (t Token) String() string {
	switch t {
	case TokenRWA:
		return "MockRWAToken"
	case TokenUSDC:
		return "MockUSDC"
	default:
		return "unknown"
	}
}

// Client reads and writes the protocol contracts.
type Client struct {
	backend   Backend
	chainID   *big.Int
	contracts Contracts
	txSigner  signer.SignerProvider
	gasLimit  uint64
	gasPrice  *big.Int

	pollInterval   time.Duration
	confirmTimeout time.Duration
	dialTimeout    time.Duration
	explorerURL    string
	logger         *zap.Logger

	closer func()
}

// Option configures a Client.
type Option func(*Client)

// WithChainID sets the chain id used for transaction signing.
func WithChainID(id int64) Option {
	return func(c *Client) {
		c.chainID = big.NewInt(id)
	}
}

// WithTxSigner sets the account that signs transactions. Reads work without one.
func WithTxSigner(s signer.SignerProvider) Option {
	return func(c *Client) {
		c.txSigner = s
	}
}

// WithGas fixes the gas limit and legacy gas price. Zero values fall back to
// estimation and the node's fee suggestion.
func WithGas(limit uint64, price *big.Int) Option {
	return func(c *Client) {
		c.gasLimit = limit
		c.gasPrice = price
	}
}

// WithPollInterval sets how often a pending receipt is polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithConfirmTimeout bounds the wait for a receipt.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.confirmTimeout = d
	}
}

// WithDialTimeout bounds establishing the connection in Dial.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.dialTimeout = d
	}
}

// WithExplorerURL sets the block explorer used by ExplorerURL.
func WithExplorerURL(u string) Option {
	return func(c *Client) {
		c.explorerURL = strings.TrimRight(u, "/")
	}
}

// WithLogger sets the logger for sent and confirmed transactions.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client over backend.
func NewClient(backend Backend, contracts Contracts, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	c := &Client{
		backend:        backend,
		chainID:        big.NewInt(DefaultChainID),
		contracts:      contracts,
		pollInterval:   DefaultPollInterval,
		confirmTimeout: DefaultConfirmTimeout,
		dialTimeout:    DefaultDialTimeout,
		explorerURL:    DefaultExplorerURL,
		logger:         zap.NewNop(),
	}
	return c.apply(opts), nil
}

// Dial connects to rpcURL and creates a client over it. Establishing the
// connection is bounded by the dial timeout; a connection that cannot be
// established fails with poperr.ErrNetworkUnreachable.
func Dial(ctx context.Context, rpcURL string, contracts Contracts, opts ...Option) (*Client, error) {
	if rpcURL == "" {
		rpcURL = DefaultRPCURL
	}
	// options only set fields, so they can be resolved ahead of NewClient
	dialTimeout := (&Client{dialTimeout: DefaultDialTimeout}).apply(opts).dialTimeout

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	ec, err := ethclient.DialContext(dialCtx, rpcURL)
	if err != nil {
		return nil, poperr.Wrap(poperr.ErrNetworkUnreachable, msgRPCUnreachable,
			fmt.Errorf("failed to dial EVM RPC: %w", err))
	}
	c, err := NewClient(ec, contracts, opts...)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close
	return c, nil
}

func (c *Client) apply(opts []Option) *Client {
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases a connection opened by Dial.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// ChainID returns the signing chain id.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Contracts returns the configured addresses.
func (c *Client) Contracts() Contracts { return c.contracts }

// ExplorerURL returns the explorer page of a transaction.
func (c *Client) ExplorerURL(txHash common.Hash) string {
	return c.explorerURL + "/tx/" + txHash.Hex()
}

// TxExplorerURL returns the Moonbase Alpha explorer page of a transaction.
func TxExplorerURL(txHash string) string {
	return DefaultExplorerURL + "/tx/" + txHash
}

func (c *Client) bound(name, address string, parsed *contractABI) (*bind.BoundContract, common.Address, error) {
	if address == "" {
		return nil, common.Address{}, fmt.Errorf("%s address not configured", name)
	}
	if !common.IsHexAddress(address) {
		return nil, common.Address{}, fmt.Errorf("invalid %s address: %s", name, address)
	}
	contractABI, err := parsed.load()
	if err != nil {
		return nil, common.Address{}, err
	}
	addr := common.HexToAddress(address)
	return bind.NewBoundContract(addr, contractABI, c.backend, c.backend, c.backend), addr, nil
}

func (c *Client) verifier() (*bind.BoundContract, error) {
	bc, _, err := c.bound("PoPVerifier", c.contracts.PoPVerifier, popVerifierABI)
	return bc, err
}

func (c *Client) riskEngine() (*bind.BoundContract, error) {
	bc, _, err := c.bound("PoPRiskEngine", c.contracts.PoPRiskEngine, riskEngineABI)
	return bc, err
}

func (c *Client) vault() (*bind.BoundContract, common.Address, error) {
	return c.bound("RWAVault", c.contracts.RWAVault, rwaVaultABI)
}

func (c *Client) token(t Token) (*bind.BoundContract, error) {
	address := c.contracts.RWAToken
	if t == TokenUSDC {
		address = c.contracts.USDC
	}
	bc, _, err := c.bound(t.String(), address, erc20ABI)
	return bc, err
}

// call runs a view method and returns its unpacked outputs.
func (c *Client) call(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("contract call %s failed: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("contract call %s returned no data", method)
	}
	return out, nil
}

func bigOut(out []interface{}, i int) *big.Int {
	return abi.ConvertType(out[i], new(big.Int)).(*big.Int)
}

// Sender returns the address transactions are sent from.
func (c *Client) Sender() (common.Address, error) {
	if c.txSigner == nil {
		return common.Address{}, errors.New("tx signer is required")
	}
	return common.HexToAddress(c.txSigner.GetAddress()), nil
}
