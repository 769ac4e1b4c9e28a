package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultRemoteTimeout bounds one call to a remote signer.
const DefaultRemoteTimeout = 10 * time.Second

// RemoteSigner signs digests through an HTTP signing service holding the key.
type RemoteSigner struct {
	endpoint string
	apiKey   string
	address  string
	client   *http.Client
}

// RemoteOption configures a RemoteSigner.
type RemoteOption func(*RemoteSigner)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(s *RemoteSigner) {
		s.client = c
	}
}

// WithAPIKey sets the x-api-key header.
func WithAPIKey(key string) RemoteOption {
	return func(s *RemoteSigner) {
		s.apiKey = key
	}
}

// NewRemoteSigner creates a signer for endpoint whose key controls address.
func NewRemoteSigner(endpoint, address string, opts ...RemoteOption) (*RemoteSigner, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("endpoint required")
	}
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("signer address required")
	}
	s := &RemoteSigner{
		endpoint: endpoint,
		address:  strings.ToLower(address),
		client: &http.Client{
			Timeout:   DefaultRemoteTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetAddress returns the configured signing address.
func (s *RemoteSigner) GetAddress() string { return s.address }

// Sign asks the remote service to sign digest.
func (s *RemoteSigner) Sign(digest []byte) ([]byte, error) {
	return s.SignContext(context.Background(), digest)
}

// SignContext is Sign bound to ctx.
func (s *RemoteSigner) SignContext(ctx context.Context, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("payload must be 32 bytes, got %d", len(digest))
	}

	reqBody, err := json.Marshal(map[string]any{
		"payload_hex": hex.EncodeToString(digest),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote signer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote signer http %d", resp.StatusCode)
	}

	var out struct {
		SignatureHex string `json:"signature_hex"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode remote signer response: %w", err)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(out.SignatureHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("invalid signature length %d", len(sig))
	}
	return sig, nil
}
