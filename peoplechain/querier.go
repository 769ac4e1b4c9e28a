// Package peoplechain reads Proof of Personhood status from the Polkadot
// People Chain and maps it to a tier.
package peoplechain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/pilacorp/go-pop-sdk/pop"
	"github.com/pilacorp/go-pop-sdk/poperr"
)

// Network is a People Chain deployment.
type Network string

const (
	Mainnet Network = "mainnet"
	Paseo   Network = "paseo"
)

// ParseNetwork validates a network name. The empty string is Paseo.
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case "", Paseo:
		return Paseo, nil
	case Mainnet:
		return Mainnet, nil
	default:
		return "", fmt.Errorf("unknown people chain network: %s", s)
	}
}

var defaultEndpoints = map[Network][]string{
	Mainnet: {
		"wss://people-polkadot.api.onfinality.io/public-ws",
		"wss://polkadot-people-rpc.polkadot.io",
	},
	Paseo: {
		"wss://people-paseo.rpc.amforc.com",
		"wss://paseo-people-rpc.polkadot.io",
	},
}

// DefaultEndpoints returns the public endpoints of network, in priority order.
func DefaultEndpoints(network Network) []string {
	return append([]string(nil), defaultEndpoints[network]...)
}

// Raw status values for results without a decoded record.
const (
	StatusUnverified = "Unverified"
	StatusNoRecord   = "NoRecord"
)

const (
	DefaultEndpointTimeout = 10 * time.Second

	DefaultBreakerMaxRequests = 1
	DefaultBreakerInterval    = 60 * time.Second
	DefaultBreakerTimeout     = 30 * time.Second
	DefaultBreakerFailures    = 3
)

// Result is the outcome of a tier query.
type Result struct {
	Tier           pop.Tier  `json:"tier"`
	RawStatus      string    `json:"rawStatus"`
	Network        Network   `json:"network"`
	QueriedAddress string    `json:"queriedAddress"`
	Timestamp      time.Time `json:"timestamp"`
}

// Classify maps a raw personhood record to a tier: a record mentioning dim2
// or an enhanced proof is tier 2, any other record tier 1, no record tier 0.
func Classify(record []byte) pop.Tier {
	if len(record) == 0 {
		return pop.TierUnverified
	}
	text := strings.ToLower(string(record))
	if text == "{}" {
		return pop.TierUnverified
	}
	if strings.Contains(text, "dim2") || strings.Contains(text, "enhanced") {
		return pop.TierDIM2
	}
	return pop.TierDIM1
}

// Conn is a storage connection to one endpoint.
type Conn interface {
	Storage(ctx context.Context, key []byte) ([]byte, error)
	Close()
}

// Dialer opens a Conn to endpoint.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)

// Querier queries personhood tiers with endpoint failover and a per-network
// circuit breaker.
type Querier struct {
	endpoints map[Network][]string
	dial      Dialer
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time

	breakerSettings gobreaker.Settings
	breakerMu       sync.Mutex
	breakers        map[Network]*gobreaker.CircuitBreaker
}

// Option configures a Querier.
type Option func(*Querier)

// WithEndpoints replaces the endpoints of network.
func WithEndpoints(network Network, endpoints ...string) Option {
	return func(q *Querier) {
		q.endpoints[network] = endpoints
	}
}

// WithDialer replaces the JSON-RPC dialer.
func WithDialer(d Dialer) Option {
	return func(q *Querier) {
		q.dial = d
	}
}

// WithEndpointTimeout sets the budget of each endpoint attempt.
func WithEndpointTimeout(d time.Duration) Option {
	return func(q *Querier) {
		q.timeout = d
	}
}

// WithBreaker overrides the breaker trip threshold and open-state duration.
func WithBreaker(failures uint32, openFor time.Duration) Option {
	return func(q *Querier) {
		q.breakerSettings.Timeout = openFor
		q.breakerSettings.ReadyToTrip = func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		}
	}
}

// WithLogger sets the logger for endpoint failures and breaker transitions.
func WithLogger(l *zap.Logger) Option {
	return func(q *Querier) {
		q.logger = l
	}
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Querier) {
		q.now = now
	}
}

// NewQuerier creates a Querier over the public endpoints.
func NewQuerier(opts ...Option) *Querier {
	q := &Querier{
		endpoints: map[Network][]string{
			Mainnet: DefaultEndpoints(Mainnet),
			Paseo:   DefaultEndpoints(Paseo),
		},
		dial:    DialRPC,
		timeout: DefaultEndpointTimeout,
		logger:  zap.NewNop(),
		now:     time.Now,
		breakerSettings: gobreaker.Settings{
			MaxRequests: DefaultBreakerMaxRequests,
			Interval:    DefaultBreakerInterval,
			Timeout:     DefaultBreakerTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= DefaultBreakerFailures
			},
		},
		breakers: make(map[Network]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Querier) breaker(network Network) *gobreaker.CircuitBreaker {
	q.breakerMu.Lock()
	defer q.breakerMu.Unlock()

	if cb, ok := q.breakers[network]; ok {
		return cb
	}
	settings := q.breakerSettings
	settings.Name = "people-chain-" + string(network)
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		q.logger.Info("circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	cb := gobreaker.NewCircuitBreaker(settings)
	q.breakers[network] = cb
	return cb
}

// QueryTier reads the personhood record of address on network. An empty
// record yields tier 0 with StatusNoRecord. A network that cannot be reached
// on any endpoint, or whose breaker is open, fails with
// poperr.ErrNetworkUnreachable.
func (q *Querier) QueryTier(ctx context.Context, address string, network Network) (Result, error) {
	result := Result{
		Tier:           pop.TierUnverified,
		RawStatus:      StatusUnverified,
		Network:        network,
		QueriedAddress: address,
		Timestamp:      q.now(),
	}

	id, _, err := DecodeSS58(address)
	if err != nil {
		return result, poperr.Wrap(poperr.ErrValidation, "Invalid Polkadot address", err)
	}
	endpoints := q.endpoints[network]
	if len(endpoints) == 0 {
		return result, fmt.Errorf("no endpoints for people chain network %q", network)
	}

	out, err := q.breaker(network).Execute(func() (interface{}, error) {
		return q.readRecord(ctx, id, endpoints)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return result, poperr.Wrap(poperr.ErrNetworkUnreachable,
				fmt.Sprintf("People Chain (%s) temporarily unavailable", network), err)
		}
		return result, err
	}

	record, _ := out.([]byte)
	if len(record) == 0 {
		result.RawStatus = StatusNoRecord
		return result, nil
	}
	result.RawStatus = "0x" + hex.EncodeToString(record)
	result.Tier = Classify(record)
	q.logger.Debug("people chain record", zap.String("network", string(network)), zap.Uint8("tier", uint8(result.Tier)))
	return result, nil
}

// Reachable reports whether any endpoint of network accepts a connection.
func (q *Querier) Reachable(ctx context.Context, network Network) bool {
	for _, endpoint := range q.endpoints[network] {
		attemptCtx, cancel := context.WithTimeout(ctx, q.timeout)
		conn, err := q.dial(attemptCtx, endpoint)
		cancel()
		if err == nil {
			conn.Close()
			return true
		}
	}
	return false
}

// readRecord tries each endpoint in order, each bounded by the endpoint
// timeout; the first endpoint that answers decides the record.
func (q *Querier) readRecord(ctx context.Context, id AccountID, endpoints []string) ([]byte, error) {
	var lastErr error
	for _, endpoint := range endpoints {
		record, err := q.readFrom(ctx, endpoint, id)
		if err == nil {
			return record, nil
		}
		if ctx.Err() != nil {
			return nil, poperr.Wrap(poperr.ErrNetworkUnreachable, "People Chain query cancelled", ctx.Err())
		}
		q.logger.Warn("people chain endpoint failed", zap.String("endpoint", endpoint), zap.Error(err))
		lastErr = err
	}
	return nil, poperr.Wrap(poperr.ErrNetworkUnreachable,
		fmt.Sprintf("Could not connect to People Chain: %v", lastErr), lastErr)
}

func (q *Querier) readFrom(ctx context.Context, endpoint string, id AccountID) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	conn, err := q.dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("people chain (%s): %w", endpoint, err)
	}
	defer conn.Close()

	record, err := conn.Storage(ctx, PersonhoodKey(id))
	if err != nil {
		return nil, fmt.Errorf("people chain (%s): %w", endpoint, err)
	}
	if len(record) > 0 {
		return record, nil
	}

	record, err = conn.Storage(ctx, IdentityKey(id))
	if err != nil {
		return nil, fmt.Errorf("people chain (%s): %w", endpoint, err)
	}
	return record, nil
}
