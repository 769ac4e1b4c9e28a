package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrCodeUnrecognizedChain is the wallet RPC error code for a chain the wallet does not know.
const ErrCodeUnrecognizedChain = 4902

// Moonbase Alpha defaults.
const (
	DefaultChainID     = 1287
	DefaultChainName   = "Moonbase Alpha"
	DefaultRPCURL      = "https://rpc.api.moonbase.moonbeam.network"
	DefaultExplorerURL = "https://moonbase.moonscan.io"
)

// NativeCurrency describes a chain's gas token.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ChainParams are the parameters of wallet_addEthereumChain.
type ChainParams struct {
	ChainID           hexutil.Big    `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls"`
}

// MoonbaseAlpha returns the parameters of the default target chain.
func MoonbaseAlpha() ChainParams {
	return ChainParams{
		ChainID:           hexutil.Big(*big.NewInt(DefaultChainID)),
		ChainName:         DefaultChainName,
		NativeCurrency:    NativeCurrency{Name: "DEV", Symbol: "DEV", Decimals: 18},
		RPCURLs:           []string{DefaultRPCURL},
		BlockExplorerURLs: []string{DefaultExplorerURL},
	}
}

// AccountProvider is the account-based wallet: an EIP-1193 style request surface.
type AccountProvider interface {
	RequestAccounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
	AddChain(ctx context.Context, params ChainParams) error
}

// EnsureChain makes params the active chain of ap, switching to it and adding
// it first if the wallet does not know it.
func EnsureChain(ctx context.Context, ap AccountProvider, params ChainParams) error {
	want := params.ChainID.ToInt()
	current, err := ap.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chain id: %w", err)
	}
	if current.Cmp(want) == 0 {
		return nil
	}

	err = ap.SwitchChain(ctx, want)
	if err == nil {
		return nil
	}
	if !IsUnrecognizedChain(err) {
		return fmt.Errorf("failed to switch chain: %w", err)
	}
	if err := ap.AddChain(ctx, params); err != nil {
		return fmt.Errorf("failed to add chain: %w", err)
	}
	return nil
}

// IsUnrecognizedChain reports whether err carries wallet error code 4902.
func IsUnrecognizedChain(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == ErrCodeUnrecognizedChain
}

// RPCAccountProvider implements AccountProvider over a JSON-RPC connection to
// a wallet bridge.
type RPCAccountProvider struct {
	client *rpc.Client
}

// NewRPCAccountProvider wraps an established client.
func NewRPCAccountProvider(client *rpc.Client) *RPCAccountProvider {
	return &RPCAccountProvider{client: client}
}

// DialAccountProvider connects to a wallet bridge at url.
func DialAccountProvider(ctx context.Context, url string) (*RPCAccountProvider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial account provider: %w", err)
	}
	return NewRPCAccountProvider(client), nil
}

// RequestAccounts calls eth_requestAccounts. The bridge prompts the user
// when the application is not yet authorized.
func (p *RPCAccountProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := p.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, err
	}
	for i, a := range accounts {
		accounts[i] = strings.TrimSpace(a)
	}
	return accounts, nil
}

// ChainID calls eth_chainId.
func (p *RPCAccountProvider) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := p.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

// SwitchChain calls wallet_switchEthereumChain. A wallet that does not know
// the chain fails with code 4902; EnsureChain then adds it.
func (p *RPCAccountProvider) SwitchChain(ctx context.Context, chainID *big.Int) error {
	arg := map[string]string{"chainId": hexutil.EncodeBig(chainID)}
	return p.client.CallContext(ctx, nil, "wallet_switchEthereumChain", arg)
}

// AddChain calls wallet_addEthereumChain with params.
func (p *RPCAccountProvider) AddChain(ctx context.Context, params ChainParams) error {
	return p.client.CallContext(ctx, nil, "wallet_addEthereumChain", params)
}

// Close closes the underlying connection.
func (p *RPCAccountProvider) Close() {
	p.client.Close()
}
