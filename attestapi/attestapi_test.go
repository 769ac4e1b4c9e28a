package attestapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-pop-sdk/attest"
	"github.com/pilacorp/go-pop-sdk/pop"
	"github.com/pilacorp/go-pop-sdk/poperr"
	"github.com/pilacorp/go-pop-sdk/signer"
)

const (
	testEVM      = "0xABCDabcdABCDabcdABCDabcdABCDabcdABCD1234"
	testPolkadot = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
)

type failingSigner struct{}

func (failingSigner) Sign([]byte) ([]byte, error) { return nil, errors.New("hsm offline") }
func (failingSigner) GetAddress() string         { return "0x0000000000000000000000000000000000000001" }

func newTestServer(t *testing.T, s signer.SignerProvider, nonceDraws *int) *httptest.Server {
	t.Helper()
	iss, err := attest.NewIssuer(s, attest.WithNonceSource(func() (attest.Nonce, error) {
		if nonceDraws != nil {
			*nonceDraws++
		}
		return attest.NewNonce()
	}))
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(iss).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url+AttestPath, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, strings.HasPrefix(resp.Header.Get("X-Request-Id"), "req_"))
	return resp.StatusCode, out
}

func TestAttestEndpointSuccess(t *testing.T) {
	srv := newTestServer(t, signer.NewDemoProvider(), nil)

	status, out := post(t, srv.URL, `{"evmAddress":"`+testEVM+`","polkadotAddress":"`+testPolkadot+`","tier":2}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), out["tier"])
	assert.Equal(t, testPolkadot, out["polkadotAddress"])
	assert.Equal(t, float64(1287), out["chainId"])
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", out["attester"])
	assert.Len(t, out["nonce"], 66)
	assert.Len(t, out["signature"], 132)
}

func TestAttestEndpointValidation(t *testing.T) {
	draws := 0
	srv := newTestServer(t, signer.NewDemoProvider(), &draws)

	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"tier five", `{"evmAddress":"` + testEVM + `","polkadotAddress":"` + testPolkadot + `","tier":5}`, 400, "Tier must be 1, 2, or 3"},
		{"tier fraction", `{"evmAddress":"` + testEVM + `","polkadotAddress":"` + testPolkadot + `","tier":1.5}`, 400, "Tier must be 1, 2, or 3"},
		{"tier string", `{"evmAddress":"` + testEVM + `","polkadotAddress":"` + testPolkadot + `","tier":"2"}`, 400, "Tier must be 1, 2, or 3"},
		{"missing tier", `{"evmAddress":"` + testEVM + `","polkadotAddress":"` + testPolkadot + `"}`, 400, "Tier must be 1, 2, or 3"},
		{"bad evm", `{"evmAddress":"0x12","polkadotAddress":"` + testPolkadot + `","tier":1}`, 400, "Invalid EVM address"},
		{"numeric evm", `{"evmAddress":12,"polkadotAddress":"` + testPolkadot + `","tier":1}`, 400, "Invalid EVM address"},
		{"empty polkadot", `{"evmAddress":"` + testEVM + `","polkadotAddress":"","tier":1}`, 400, "Invalid Polkadot address"},
		{"object polkadot", `{"evmAddress":"` + testEVM + `","polkadotAddress":{},"tier":1}`, 400, "Invalid Polkadot address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := post(t, srv.URL, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, map[string]any{"error": tt.msg}, out)
		})
	}
	assert.Zero(t, draws)
}

func TestAttestEndpointWhitespacePolkadotAddress(t *testing.T) {
	srv := newTestServer(t, signer.NewDemoProvider(), nil)

	status, out := post(t, srv.URL, `{"evmAddress":"`+testEVM+`","polkadotAddress":"   ","tier":1}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "   ", out["polkadotAddress"])
}

func TestAttestEndpointMalformedBody(t *testing.T) {
	draws := 0
	srv := newTestServer(t, signer.NewDemoProvider(), &draws)

	for _, body := range []string{`tier=1`, `[1,2,3]`, `{"evmAddress":`} {
		status, out := post(t, srv.URL, body)
		assert.Equal(t, http.StatusInternalServerError, status, body)
		assert.Equal(t, map[string]any{"error": "Internal server error"}, out, body)
	}
	assert.Zero(t, draws)
}

func TestAttestEndpointInternalError(t *testing.T) {
	srv := newTestServer(t, failingSigner{}, nil)

	status, out := post(t, srv.URL, `{"evmAddress":"`+testEVM+`","polkadotAddress":"`+testPolkadot+`","tier":1}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, map[string]any{"error": "Internal server error"}, out)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, signer.NewDemoProvider(), nil)
	resp, err := http.Get(srv.URL + HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientRoundTrip(t *testing.T) {
	srv := newTestServer(t, signer.NewDemoProvider(), nil)
	client := NewClient(srv.URL, WithHTTPClient(srv.Client()))

	first, err := client.Request(context.Background(), testEVM, testPolkadot, pop.TierDIM2)
	require.NoError(t, err)
	second, err := client.Request(context.Background(), testEVM, testPolkadot, pop.TierDIM2)
	require.NoError(t, err)
	assert.NotEqual(t, first.Nonce, second.Nonce)

	_, err = attest.Verify(*first, common.HexToAddress(testEVM))
	require.NoError(t, err)
}

func TestClientErrors(t *testing.T) {
	srv := newTestServer(t, signer.NewDemoProvider(), nil)
	client := NewClient(srv.URL)

	_, err := client.Request(context.Background(), testEVM, testPolkadot, pop.Tier(5))
	require.Error(t, err)
	assert.ErrorIs(t, err, poperr.ErrValidation)
	assert.Equal(t, "Tier must be 1, 2, or 3", err.Error())

	failing := newTestServer(t, failingSigner{}, nil)
	_, err = NewClient(failing.URL).Request(context.Background(), testEVM, testPolkadot, pop.TierDIM1)
	assert.ErrorIs(t, err, poperr.ErrAttestationServer)
	assert.Equal(t, "Internal server error", err.Error())

	bare := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bare.Close()
	_, err = NewClient(bare.URL).Request(context.Background(), testEVM, testPolkadot, pop.TierDIM1)
	assert.ErrorIs(t, err, poperr.ErrAttestationServer)
	assert.Equal(t, "Attestation request failed (503)", err.Error())

	bare.Close()
	_, err = NewClient(bare.URL).Request(context.Background(), testEVM, testPolkadot, pop.TierDIM1)
	assert.ErrorIs(t, err, poperr.ErrNetworkUnreachable)
}
