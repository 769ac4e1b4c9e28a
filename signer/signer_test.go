package signer

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProvider(t *testing.T) {
	p := NewDemoProvider()
	assert.Equal(t, DemoAttesterAddress, p.GetAddress())
	assert.True(t, IsDemo(p))

	digest := crypto.Keccak256([]byte("prizm"))
	sig, err := p.Sign(digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, DemoAttesterAddress, strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()))

	_, err = p.Sign([]byte("short"))
	assert.Error(t, err)

	_, err = NewDefaultProvider("0xzz")
	assert.Error(t, err)
}

func TestIsDemoKey(t *testing.T) {
	assert.True(t, IsDemoKey(DemoAttesterKey))
	assert.True(t, IsDemoKey("AC0974BEC39A17E36BA4A6B4D238FF944BACB478CBED5EFCAE784D7BF4F2FF80"))
	assert.False(t, IsDemoKey("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"))

	other, err := NewDefaultProvider("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	require.NoError(t, err)
	assert.False(t, IsDemo(other))
}

func TestRemoteSigner(t *testing.T) {
	local := NewDemoProvider()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		var in struct {
			PayloadHex string `json:"payload_hex"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		digest, err := hex.DecodeString(in.PayloadHex)
		require.NoError(t, err)
		sig, err := local.Sign(digest)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]string{"signature_hex": "0x" + hex.EncodeToString(sig)})
	}))
	defer srv.Close()

	remote, err := NewRemoteSigner(srv.URL, local.GetAddress(), WithAPIKey("secret"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	assert.True(t, IsDemo(remote))

	digest := crypto.Keccak256([]byte("remote"))
	got, err := remote.Sign(digest)
	require.NoError(t, err)
	want, err := local.Sign(digest)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRemoteSignerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	remote, err := NewRemoteSigner(srv.URL, DemoAttesterAddress)
	require.NoError(t, err)
	_, err = remote.Sign(make([]byte, 32))
	assert.EqualError(t, err, "remote signer http 502")

	_, err = remote.Sign(make([]byte, 31))
	assert.Error(t, err)

	_, err = NewRemoteSigner(" ", DemoAttesterAddress)
	assert.Error(t, err)
}
