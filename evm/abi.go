package evm

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	//go:embed abi/pop_verifier.json
	popVerifierArtifact []byte
	//go:embed abi/pop_risk_engine.json
	riskEngineArtifact []byte
	//go:embed abi/rwa_vault.json
	rwaVaultArtifact []byte
	//go:embed abi/erc20.json
	erc20Artifact []byte
)

// contractABI parses one embedded hardhat artifact exactly once.
type contractABI struct {
	artifact []byte
	once     sync.Once
	parsed   abi.ABI
	err      error
}

func (c *contractABI) load() (abi.ABI, error) {
	c.once.Do(func() {
		type hardhatArtifact struct {
			ContractName string          `json:"contractName"`
			ABI          json.RawMessage `json:"abi"`
		}
		var artifact hardhatArtifact
		if err := json.Unmarshal(c.artifact, &artifact); err != nil {
			c.err = fmt.Errorf("failed to unmarshal artifact JSON: %w", err)
			return
		}
		c.parsed, c.err = abi.JSON(strings.NewReader(string(artifact.ABI)))
		if c.err != nil {
			c.err = fmt.Errorf("failed to parse %s ABI: %w", artifact.ContractName, c.err)
		}
	})
	return c.parsed, c.err
}

var (
	popVerifierABI = &contractABI{artifact: popVerifierArtifact}
	riskEngineABI  = &contractABI{artifact: riskEngineArtifact}
	rwaVaultABI    = &contractABI{artifact: rwaVaultArtifact}
	erc20ABI       = &contractABI{artifact: erc20Artifact}
)

// PoPVerifierABI returns the parsed PoPVerifier ABI.
func PoPVerifierABI() (abi.ABI, error) { return popVerifierABI.load() }

// RiskEngineABI returns the parsed PoPRiskEngine ABI.
func RiskEngineABI() (abi.ABI, error) { return riskEngineABI.load() }

// RWAVaultABI returns the parsed RWAVault ABI.
func RWAVaultABI() (abi.ABI, error) { return rwaVaultABI.load() }

// ERC20ABI returns the parsed ERC-20 ABI shared by the collateral and borrow tokens.
func ERC20ABI() (abi.ABI, error) { return erc20ABI.load() }
