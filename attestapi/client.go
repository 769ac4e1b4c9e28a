package attestapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-pop-sdk/attest"
	"github.com/pilacorp/go-pop-sdk/pop"
	"github.com/pilacorp/go-pop-sdk/poperr"
)

// DefaultClientTimeout bounds one attestation request.
const DefaultClientTimeout = 30 * time.Second

// Client calls a remote attestation endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default client, which is traced with otelhttp
// and times out after DefaultClientTimeout.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.http = c
	}
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   DefaultClientTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request asks the service to sign an attestation. A 400 response fails with
// poperr.ErrValidation, any other non-2xx with poperr.ErrAttestationServer,
// both carrying the server's message verbatim.
func (c *Client) Request(ctx context.Context, evmAddress, polkadotAddress string, tier pop.Tier) (*attest.Payload, error) {
	body, err := json.Marshal(attest.Request{
		EVMAddress:      evmAddress,
		PolkadotAddress: polkadotAddress,
		Tier:            int(tier),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+AttestPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, poperr.Wrap(poperr.ErrNetworkUnreachable, "Attestation service unreachable.", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read attestation response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e ErrorResponse
		msg := fmt.Sprintf("Attestation request failed (%d)", resp.StatusCode)
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		kind := poperr.ErrAttestationServer
		if resp.StatusCode == http.StatusBadRequest {
			kind = poperr.ErrValidation
		}
		return nil, poperr.New(kind, msg)
	}

	var payload attest.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, poperr.Wrap(poperr.ErrAttestationServer, "Malformed attestation response.", err)
	}
	return &payload, nil
}
