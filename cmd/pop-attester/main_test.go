package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pilacorp/go-pop-sdk/attest"
	"github.com/pilacorp/go-pop-sdk/config"
	"github.com/pilacorp/go-pop-sdk/signer"
)

const (
	testEVM      = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
	testPolkadot = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvAppEnv, config.EnvStaging)
	t.Setenv(config.EnvAttesterKey, "")

	cmd := RootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestAttestCommand(t *testing.T) {
	out, err := run(t, "attest", "--evm", testEVM, "--polkadot", testPolkadot, "--tier", "2")
	require.NoError(t, err)

	var p attest.Payload
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, 2, p.Tier)
	assert.Equal(t, uint64(config.DefaultChainID), p.ChainID)

	recovered, err := attest.Verify(p, common.HexToAddress(testEVM), attest.WithExpectedChainID(config.DefaultChainID))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(signer.DemoAttesterAddress), recovered)
}

func TestAttestCommandValidation(t *testing.T) {
	_, err := run(t, "attest", "--evm", testEVM, "--polkadot", testPolkadot, "--tier", "4")
	assert.ErrorContains(t, err, attest.MsgInvalidTier)

	_, err = run(t, "attest", "--polkadot", testPolkadot)
	assert.ErrorContains(t, err, "evm")
}

func TestCredentialCommandRejectsAddress(t *testing.T) {
	_, err := run(t, "credential", "0x1234")
	assert.ErrorContains(t, err, "invalid EVM address")
}

func TestServeShutsDown(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{})
	require.NoError(t, err)
	a := &app{cfg: cfg, logger: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}
