package peoplechain

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// RPCConn reads storage over a Substrate JSON-RPC connection.
type RPCConn struct {
	client *rpc.Client
}

// DialRPC connects to a ws, wss, http or https Substrate endpoint.
func DialRPC(ctx context.Context, endpoint string) (Conn, error) {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return &RPCConn{client: client}, nil
}

// NewRPCConn wraps an established client.
func NewRPCConn(client *rpc.Client) *RPCConn {
	return &RPCConn{client: client}
}

// Storage calls state_getStorage. An absent entry yields nil.
func (c *RPCConn) Storage(ctx context.Context, key []byte) ([]byte, error) {
	var value *hexutil.Bytes
	if err := c.client.CallContext(ctx, &value, "state_getStorage", hexutil.Encode(key)); err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	return *value, nil
}

// Close closes the JSON-RPC client.
func (c *RPCConn) Close() { c.client.Close() }
