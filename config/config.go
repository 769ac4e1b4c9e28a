// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/pilacorp/go-pop-sdk/attest"
	"github.com/pilacorp/go-pop-sdk/evm"
	"github.com/pilacorp/go-pop-sdk/peoplechain"
	"github.com/pilacorp/go-pop-sdk/signer"
)

// Application environments.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Default values
const (
	DefaultAppEnv      = EnvDevelopment
	DefaultListenAddr  = ":8080"
	DefaultChainID     = 1287
	DefaultRPC         = evm.DefaultRPCURL
	DefaultPeopleChain = string(peoplechain.Paseo)
)

// Environment variable names
const (
	EnvAppEnv             = "APP_ENV"
	EnvAttesterKey        = "ATTESTER_PRIVATE_KEY"
	EnvAttesterChainID    = "ATTESTER_CHAIN_ID"
	EnvRemoteSignerURL    = "ATTESTER_SIGNER_URL"
	EnvRemoteSignerAddr   = "ATTESTER_SIGNER_ADDRESS"
	EnvRemoteSignerAPIKey = "ATTESTER_SIGNER_API_KEY"
	EnvListenAddr         = "LISTEN_ADDR"
	EnvRPC                = "EVM_RPC_URL"
	EnvChainID            = "EVM_CHAIN_ID"
	EnvPoPVerifier        = "POP_VERIFIER_ADDRESS"
	EnvPoPRiskEngine      = "POP_RISK_ENGINE_ADDRESS"
	EnvRWAVault           = "RWA_VAULT_ADDRESS"
	EnvMockRWAToken       = "MOCK_RWA_TOKEN_ADDRESS"
	EnvMockUSDC           = "MOCK_USDC_ADDRESS"
	EnvPeopleChainNetwork = "PEOPLE_CHAIN_NETWORK"
	EnvPeopleChainRPC     = "PEOPLE_CHAIN_RPC_URL"
	EnvAllowTierFallback  = "ALLOW_TIER_FALLBACK"
)

// Config is the process configuration.
type Config struct {
	AppEnv     string `env:"APP_ENV" envDefault:"development"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// AttesterKey is the hex private key of the attester. Empty selects the
	// demo key, which is refused in production.
	AttesterKey     string `env:"ATTESTER_PRIVATE_KEY"`
	AttesterChainID uint64 `env:"ATTESTER_CHAIN_ID" envDefault:"1287"`
	RemoteSigner    RemoteSignerConfig

	RPC       string `env:"EVM_RPC_URL" envDefault:"https://rpc.api.moonbase.moonbeam.network"`
	ChainID   int64  `env:"EVM_CHAIN_ID" envDefault:"1287"`
	Contracts ContractsConfig

	PeopleChainNetwork string   `env:"PEOPLE_CHAIN_NETWORK" envDefault:"paseo"`
	PeopleChainRPC     []string `env:"PEOPLE_CHAIN_RPC_URL" envSeparator:","`

	AllowTierFallback *bool `env:"ALLOW_TIER_FALLBACK"`
}

// RemoteSignerConfig selects an HTTP signing service instead of a local key.
type RemoteSignerConfig struct {
	URL     string `env:"ATTESTER_SIGNER_URL"`
	Address string `env:"ATTESTER_SIGNER_ADDRESS"`
	APIKey  string `env:"ATTESTER_SIGNER_API_KEY"`
}

// ContractsConfig holds the deployed contract addresses.
type ContractsConfig struct {
	PoPVerifier   string `env:"POP_VERIFIER_ADDRESS"`
	PoPRiskEngine string `env:"POP_RISK_ENGINE_ADDRESS"`
	RWAVault      string `env:"RWA_VAULT_ADDRESS"`
	RWAToken      string `env:"MOCK_RWA_TOKEN_ADDRESS"`
	USDC          string `env:"MOCK_USDC_ADDRESS"`
}

// Load parses the process environment and validates the result.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.AppEnv {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("invalid %s: %q", EnvAppEnv, c.AppEnv)
	}
	if _, err := peoplechain.ParseNetwork(c.PeopleChainNetwork); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvPeopleChainNetwork, err)
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("invalid %s: %d", EnvChainID, c.ChainID)
	}
	if c.AttesterChainID == 0 {
		return fmt.Errorf("invalid %s: 0", EnvAttesterChainID)
	}

	if c.RemoteSigner.URL != "" {
		if c.AttesterKey != "" {
			return fmt.Errorf("%s and %s are mutually exclusive", EnvAttesterKey, EnvRemoteSignerURL)
		}
		if !common.IsHexAddress(c.RemoteSigner.Address) {
			return fmt.Errorf("invalid %s: %q", EnvRemoteSignerAddr, c.RemoteSigner.Address)
		}
	}

	addrs := map[string]string{
		EnvPoPVerifier:   c.Contracts.PoPVerifier,
		EnvPoPRiskEngine: c.Contracts.PoPRiskEngine,
		EnvRWAVault:      c.Contracts.RWAVault,
		EnvMockRWAToken:  c.Contracts.RWAToken,
		EnvMockUSDC:      c.Contracts.USDC,
	}
	for name, addr := range addrs {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s: %q", name, addr)
		}
	}

	if c.IsProduction() && c.RemoteSigner.URL == "" {
		if strings.TrimSpace(c.AttesterKey) == "" {
			return fmt.Errorf("%s or %s is required in production", EnvAttesterKey, EnvRemoteSignerURL)
		}
		if signer.IsDemoKey(c.AttesterKey) {
			return errors.New("the demo attester key cannot be used in production")
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool { return c.AppEnv == EnvProduction }

// TierFallback reports whether the verification pipeline may assume tier 1
// when the People Chain cannot confirm a tier. It defaults to on outside
// production.
func (c *Config) TierFallback() bool {
	if c.AllowTierFallback != nil {
		return *c.AllowTierFallback
	}
	return !c.IsProduction()
}

// Network returns the validated People Chain network.
func (c *Config) Network() peoplechain.Network {
	n, err := peoplechain.ParseNetwork(c.PeopleChainNetwork)
	if err != nil {
		return peoplechain.Paseo
	}
	return n
}

// PeopleChainEndpoints lists the configured endpoints ahead of the network's
// public ones.
func (c *Config) PeopleChainEndpoints() []string {
	out := make([]string, 0, len(c.PeopleChainRPC)+2)
	seen := map[string]bool{}
	for _, e := range append(append([]string(nil), c.PeopleChainRPC...), peoplechain.DefaultEndpoints(c.Network())...) {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// QuerierOptions configures a peoplechain.Querier for this environment.
func (c *Config) QuerierOptions(logger *zap.Logger) []peoplechain.Option {
	return []peoplechain.Option{
		peoplechain.WithEndpoints(c.Network(), c.PeopleChainEndpoints()...),
		peoplechain.WithLogger(logger),
	}
}

// Signer returns the attester signer: the remote signing service when
// configured, then the local key, then the demo key.
func (c *Config) Signer() (signer.SignerProvider, error) {
	if rs := c.RemoteSigner; rs.URL != "" {
		var opts []signer.RemoteOption
		if rs.APIKey != "" {
			opts = append(opts, signer.WithAPIKey(rs.APIKey))
		}
		rsigner, err := signer.NewRemoteSigner(rs.URL, rs.Address, opts...)
		if err != nil {
			return nil, fmt.Errorf("invalid remote signer: %w", err)
		}
		return rsigner, nil
	}
	if strings.TrimSpace(c.AttesterKey) == "" {
		return signer.NewDemoProvider(), nil
	}
	s, err := signer.NewDefaultProvider(c.AttesterKey)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvAttesterKey, err)
	}
	return s, nil
}

// Issuer builds the attestation issuer. The issuer itself warns when it signs
// with the demo key.
func (c *Config) Issuer(logger *zap.Logger) (*attest.Issuer, error) {
	s, err := c.Signer()
	if err != nil {
		return nil, err
	}
	return attest.NewIssuer(s, attest.WithChainID(c.AttesterChainID), attest.WithLogger(logger))
}

// EVMContracts returns the contract addresses for evm.NewClient.
func (c *Config) EVMContracts() evm.Contracts {
	return evm.Contracts{
		PoPVerifier:   c.Contracts.PoPVerifier,
		PoPRiskEngine: c.Contracts.PoPRiskEngine,
		RWAVault:      c.Contracts.RWAVault,
		RWAToken:      c.Contracts.RWAToken,
		USDC:          c.Contracts.USDC,
	}
}

// ContractsDeployed reports whether the addresses every vault flow needs are set.
func (c *Config) ContractsDeployed() bool {
	k := c.Contracts
	return k.RWAVault != "" && k.PoPVerifier != "" && k.RWAToken != "" && k.USDC != ""
}
