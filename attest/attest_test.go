package attest

import (
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-pop-sdk/poperr"
	"github.com/pilacorp/go-pop-sdk/signer"
)

const (
	testEVM      = "0xABCDabcdABCDabcdABCDabcdABCDabcdABCD1234"
	testPolkadot = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
)

func TestPackedHashLayout(t *testing.T) {
	evm := common.HexToAddress(testEVM)
	var nonce Nonce
	for i := range nonce {
		nonce[i] = byte(i)
	}

	want := crypto.Keccak256(
		evm.Bytes(),
		[]byte{2},
		[]byte(testPolkadot),
		nonce[:],
		common.LeftPadBytes(big.NewInt(1287).Bytes(), 32),
	)
	assert.Equal(t, want, PackedHash(evm, 2, testPolkadot, nonce, big.NewInt(1287)))

	// EIP-191 matches go-ethereum's personal message hash
	assert.Equal(t, accounts.TextHash(want), SignedDigest(want))
}

func TestIssueAndVerify(t *testing.T) {
	iss, err := NewIssuer(signer.NewDemoProvider())
	require.NoError(t, err)

	p, err := iss.Issue(Request{EVMAddress: testEVM, PolkadotAddress: testPolkadot, Tier: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Tier)
	assert.Equal(t, testPolkadot, p.PolkadotAddress)
	assert.Equal(t, uint64(1287), p.ChainID)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", p.Attester)
	assert.Len(t, p.Nonce, 66)

	sig, err := p.SignatureBytes()
	require.NoError(t, err)
	assert.Contains(t, []byte{27, 28}, sig[64])

	recovered, err := Verify(*p, common.HexToAddress(testEVM), WithExpectedChainID(1287))
	require.NoError(t, err)
	assert.Equal(t, p.Attester, recovered.Hex())

	// the signature is bound to the EVM address
	_, err = Verify(*p, common.HexToAddress("0x0000000000000000000000000000000000000001"))
	assert.Error(t, err)

	// and to the chain
	_, err = Verify(*p, common.HexToAddress(testEVM), WithExpectedChainID(1))
	assert.Error(t, err)

	tampered := *p
	tampered.Tier = 3
	_, err = Verify(tampered, common.HexToAddress(testEVM))
	assert.Error(t, err)
}

func TestVerifyPinnedKey(t *testing.T) {
	demo := signer.NewDemoProvider()
	iss, err := NewIssuer(demo)
	require.NoError(t, err)
	p, err := iss.Issue(Request{EVMAddress: testEVM, PolkadotAddress: testPolkadot, Tier: 1})
	require.NoError(t, err)

	demoKey, err := crypto.HexToECDSA(signer.DemoAttesterKey[2:])
	require.NoError(t, err)
	pinned, err := ParsePublicKey(hex.EncodeToString(crypto.CompressPubkey(&demoKey.PublicKey)))
	require.NoError(t, err)

	_, err = Verify(*p, common.HexToAddress(testEVM), WithPinnedKey(pinned))
	require.NoError(t, err)

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := ParsePublicKey(hex.EncodeToString(crypto.FromECDSAPub(&otherKey.PublicKey)))
	require.NoError(t, err)
	_, err = Verify(*p, common.HexToAddress(testEVM), WithPinnedKey(other))
	assert.Error(t, err)
}

func TestNonceUniqueness(t *testing.T) {
	iss, err := NewIssuer(signer.NewDemoProvider())
	require.NoError(t, err)
	req := Request{EVMAddress: testEVM, PolkadotAddress: testPolkadot, Tier: 3}

	seen := map[string]bool{}
	for i := 0; i < 16; i++ {
		p, err := iss.Issue(req)
		require.NoError(t, err)
		assert.False(t, seen[p.Nonce], "nonce reused")
		seen[p.Nonce] = true
	}
}

func TestIssueValidation(t *testing.T) {
	drawn := 0
	iss, err := NewIssuer(signer.NewDemoProvider(), WithNonceSource(func() (Nonce, error) {
		drawn++
		return NewNonce()
	}))
	require.NoError(t, err)

	tests := []struct {
		name string
		req  Request
		msg  string
	}{
		{"missing evm", Request{PolkadotAddress: testPolkadot, Tier: 1}, MsgInvalidEVMAddress},
		{"short evm", Request{EVMAddress: "0x1234", PolkadotAddress: testPolkadot, Tier: 1}, MsgInvalidEVMAddress},
		{"evm without prefix", Request{EVMAddress: testEVM[2:] + "00", PolkadotAddress: testPolkadot, Tier: 1}, MsgInvalidEVMAddress},
		{"empty polkadot", Request{EVMAddress: testEVM, Tier: 1}, MsgInvalidPolkadotAddress},
		{"tier zero", Request{EVMAddress: testEVM, PolkadotAddress: testPolkadot, Tier: 0}, MsgInvalidTier},
		{"tier five", Request{EVMAddress: testEVM, PolkadotAddress: testPolkadot, Tier: 5}, MsgInvalidTier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := iss.Issue(tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, poperr.ErrValidation)
			assert.Equal(t, tt.msg, err.Error())
		})
	}
	assert.Zero(t, drawn)
}

func TestIssueAcceptsAnyNonEmptyPolkadotAddress(t *testing.T) {
	iss, err := NewIssuer(signer.NewDemoProvider())
	require.NoError(t, err)

	p, err := iss.Issue(Request{EVMAddress: testEVM, PolkadotAddress: "   ", Tier: 1})
	require.NoError(t, err)
	assert.Equal(t, "   ", p.PolkadotAddress)

	_, err = Verify(*p, common.HexToAddress(testEVM))
	assert.NoError(t, err)
}

func TestIssueNonceFailure(t *testing.T) {
	iss, err := NewIssuer(signer.NewDemoProvider(), WithNonceSource(func() (Nonce, error) {
		return Nonce{}, errors.New("entropy exhausted")
	}))
	require.NoError(t, err)
	_, err = iss.Issue(Request{EVMAddress: testEVM, PolkadotAddress: testPolkadot, Tier: 1})
	assert.ErrorContains(t, err, "entropy exhausted")
}

func TestParseNonce(t *testing.T) {
	n, err := NewNonce()
	require.NoError(t, err)
	back, err := ParseNonce(n.Hex())
	require.NoError(t, err)
	assert.Equal(t, n, back)

	_, err = ParseNonce("0x1234")
	assert.Error(t, err)
}
