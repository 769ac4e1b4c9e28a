package provider

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-pop-sdk/poperr"
)

type stubExtension struct{}

func (stubExtension) Enable(context.Context, string) (Injected, error) { return nil, nil }

func TestIDUnion(t *testing.T) {
	tests := []struct {
		id         ID
		ns         Namespace
		walletType string
		injectKey  string
	}{
		{MetaMask, NamespaceEVM, "metamask", ""},
		{Substrate(PolkadotJS), NamespaceSubstrate, "polkadot-js", "polkadot-js"},
		{Substrate(Talisman), NamespaceSubstrate, "talisman", "talisman"},
		{Substrate(SubWallet), NamespaceSubstrate, "subwallet", "subwallet-js"},
		{Substrate(Nova), NamespaceSubstrate, "nova", "nova"},
	}

	for _, tt := range tests {
		t.Run(tt.walletType, func(t *testing.T) {
			assert.Equal(t, tt.ns, tt.id.Namespace())
			assert.Equal(t, tt.walletType, tt.id.WalletType())
			assert.Equal(t, tt.injectKey, tt.id.InjectKey())

			parsed, err := ParseWalletType(tt.walletType)
			require.NoError(t, err)
			assert.Equal(t, tt.id, parsed)

			text, err := tt.id.MarshalText()
			require.NoError(t, err)
			var back ID
			require.NoError(t, back.UnmarshalText(text))
			assert.Equal(t, tt.id, back)
		})
	}

	assert.True(t, Substrate(ExtensionKind(42)).IsZero())
	_, ok := MetaMask.Extension()
	assert.False(t, ok)
	_, err := ParseWalletType("phantom")
	assert.Error(t, err)
	assert.Len(t, Known(), 5)
}

func TestRegistryProbe(t *testing.T) {
	env := NewMapEnvironment()
	env.Inject(Talisman.InjectKey(), stubExtension{})
	reg := NewRegistry(env)

	got := reg.Probe()
	assert.Len(t, got, 5)
	assert.True(t, got[Substrate(Talisman)])
	assert.False(t, got[MetaMask])
	assert.False(t, got[Substrate(Nova)])

	_, err := reg.Extension(Nova)
	assert.ErrorIs(t, err, poperr.ErrProviderNotFound)
	assert.Equal(t, `"nova" extension not found. Install it and reload the page.`, err.Error())

	_, err = reg.AccountProvider()
	assert.ErrorIs(t, err, poperr.ErrProviderNotFound)
}

func TestRegistryProbeSettledSeesLateInjection(t *testing.T) {
	env := NewMapEnvironment()
	reg := NewRegistry(env, WithSettleDelay(50*time.Millisecond), WithProviders(Substrate(SubWallet)))

	go func() {
		time.Sleep(10 * time.Millisecond)
		env.Inject(SubWallet.InjectKey(), stubExtension{})
	}()

	got, err := reg.ProbeSettled(context.Background())
	require.NoError(t, err)
	assert.True(t, got[Substrate(SubWallet)])
}

func TestRegistryProbeSettledHonoursContext(t *testing.T) {
	reg := NewRegistry(NewMapEnvironment(), WithSettleDelay(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := reg.ProbeSettled(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, got[MetaMask])
}

type walletError struct{ code int }

func (e walletError) Error() string  { return "unrecognized chain" }
func (e walletError) ErrorCode() int { return e.code }

type ethService struct{ chainID int64 }

func (s *ethService) RequestAccounts() []string {
	return []string{"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}
}

func (s *ethService) ChainId() hexutil.Big { return hexutil.Big(*big.NewInt(s.chainID)) }

type walletService struct {
	eth      *ethService
	known    map[int64]bool
	switches int
	added    []ChainParams
}

func (s *walletService) SwitchEthereumChain(arg map[string]string) error {
	s.switches++
	id, err := hexutil.DecodeBig(arg["chainId"])
	if err != nil {
		return err
	}
	if !s.known[id.Int64()] {
		return walletError{code: ErrCodeUnrecognizedChain}
	}
	s.eth.chainID = id.Int64()
	return nil
}

func (s *walletService) AddEthereumChain(params ChainParams) error {
	s.added = append(s.added, params)
	s.known[params.ChainID.ToInt().Int64()] = true
	s.eth.chainID = params.ChainID.ToInt().Int64()
	return nil
}

func newWalletBridge(t *testing.T, chainID int64, known ...int64) (*RPCAccountProvider, *walletService) {
	t.Helper()
	eth := &ethService{chainID: chainID}
	wallet := &walletService{eth: eth, known: map[int64]bool{chainID: true}}
	for _, k := range known {
		wallet.known[k] = true
	}

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", eth))
	require.NoError(t, server.RegisterName("wallet", wallet))
	client := rpc.DialInProc(server)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return NewRPCAccountProvider(client), wallet
}

func TestEnsureChain(t *testing.T) {
	ctx := context.Background()

	t.Run("already on chain", func(t *testing.T) {
		ap, wallet := newWalletBridge(t, DefaultChainID)
		require.NoError(t, EnsureChain(ctx, ap, MoonbaseAlpha()))
		assert.Zero(t, wallet.switches)
	})

	t.Run("switch to known chain", func(t *testing.T) {
		ap, wallet := newWalletBridge(t, 1, DefaultChainID)
		require.NoError(t, EnsureChain(ctx, ap, MoonbaseAlpha()))
		assert.Equal(t, 1, wallet.switches)
		assert.Empty(t, wallet.added)
	})

	t.Run("add unknown chain after 4902", func(t *testing.T) {
		ap, wallet := newWalletBridge(t, 1)
		require.NoError(t, EnsureChain(ctx, ap, MoonbaseAlpha()))
		require.Len(t, wallet.added, 1)
		assert.Equal(t, DefaultChainName, wallet.added[0].ChainName)
		assert.Equal(t, "DEV", wallet.added[0].NativeCurrency.Symbol)

		id, err := ap.ChainID(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(DefaultChainID), id.Int64())
	})

	t.Run("request accounts", func(t *testing.T) {
		ap, _ := newWalletBridge(t, DefaultChainID)
		accounts, err := ap.RequestAccounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}, accounts)
	})
}

func TestIsUnrecognizedChain(t *testing.T) {
	assert.True(t, IsUnrecognizedChain(walletError{code: 4902}))
	assert.False(t, IsUnrecognizedChain(walletError{code: 4001}))
	assert.False(t, IsUnrecognizedChain(errors.New("boom")))
}
