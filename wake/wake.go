// Package wake authorizes the application with a Substrate browser extension.
//
// Extensions run their message handler in a background worker that is often
// dormant: the first message wakes it but is lost. Enable therefore makes one
// long attempt (the user may be looking at a permission popup) and, only when
// the failure says the message channel was dead, a bounded number of shorter
// retries spaced by a fixed delay.
package wake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/pilacorp/go-pop-sdk/poperr"
	"github.com/pilacorp/go-pop-sdk/provider"
)

const (
	DefaultFirstTimeout = 40 * time.Second
	DefaultRetryTimeout = 15 * time.Second
	DefaultRetryDelay   = 4 * time.Second
	DefaultRetries      = 3
)

// Error fragments of a dormant or unreachable extension worker.
var retryableMarkers = []string{
	"Receiving end does not exist",
	"service worker",
	"Could not establish connection",
	"Failed to wake up",
	"Failed to send message",
}

var errEnableTimeout = errors.New("enable attempt timed out")

// Finder resolves an extension kind to its injected handle.
type Finder interface {
	Extension(kind provider.ExtensionKind) (provider.Extension, error)
}

// Handle is an authorized extension session.
type Handle struct {
	Key      string
	Injected provider.Injected
	Attempts int
}

// Config holds the retry budget.
type Config struct {
	FirstTimeout time.Duration
	RetryTimeout time.Duration
	RetryDelay   time.Duration
	Retries      uint
	Logger       *zap.Logger
}

// Option configures a Retrier.
type Option func(*Config)

// WithTimeouts sets the first-attempt and retry-attempt timeouts.
func WithTimeouts(first, retry time.Duration) Option {
	return func(c *Config) {
		c.FirstTimeout = first
		c.RetryTimeout = retry
	}
}

// WithRetryDelay sets the fixed delay before each retry.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		c.RetryDelay = d
	}
}

// WithRetries sets how many attempts follow the first one.
func WithRetries(n uint) Option {
	return func(c *Config) {
		c.Retries = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Retrier runs the enable handshake.
type Retrier struct {
	cfg Config
}

// New creates a Retrier with the default budget of 40s + 3 x (4s + 15s).
func New(opts ...Option) *Retrier {
	cfg := Config{
		FirstTimeout: DefaultFirstTimeout,
		RetryTimeout: DefaultRetryTimeout,
		RetryDelay:   DefaultRetryDelay,
		Retries:      DefaultRetries,
		Logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Retrier{cfg: cfg}
}

// Enable authorizes appName with the extension of the given kind.
//
// It fails with poperr.ErrProviderNotFound if the extension is absent,
// poperr.ErrProviderTimeout if the first attempt times out or every retry
// fails, and poperr.ErrProviderRejected, without retrying, for any failure
// that does not look like a dormant worker.
func (r *Retrier) Enable(ctx context.Context, finder Finder, kind provider.ExtensionKind, appName string) (*Handle, error) {
	ext, err := finder.Extension(kind)
	if err != nil {
		return nil, err
	}
	key := kind.InjectKey()
	log := r.cfg.Logger.With(zap.String("provider", key))

	var (
		injected provider.Injected
		attempts int
	)
	err = retry.Do(
		func() error {
			timeout := r.cfg.RetryTimeout
			if attempts == 0 {
				timeout = r.cfg.FirstTimeout
			}
			attempts++

			inj, err := enableOnce(ctx, ext, appName, timeout)
			switch {
			case err == nil:
				injected = inj
				return nil
			case ctx.Err() != nil:
				return retry.Unrecoverable(ctx.Err())
			case errors.Is(err, errEnableTimeout) && attempts == 1:
				return retry.Unrecoverable(poperr.Wrap(poperr.ErrProviderTimeout, timeoutMessage(key), err))
			case !IsRetryable(err):
				return retry.Unrecoverable(poperr.Wrap(poperr.ErrProviderRejected, "", err))
			default:
				return err
			}
		},
		retry.Context(ctx),
		retry.Attempts(r.cfg.Retries+1),
		retry.Delay(r.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Info("extension not responding, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err == nil {
		log.Debug("extension enabled", zap.Int("attempts", attempts))
		return &Handle{Key: key, Injected: injected, Attempts: attempts}, nil
	}

	var perr *poperr.Error
	switch {
	case errors.As(err, &perr):
		return nil, err
	case errors.Is(err, context.DeadlineExceeded):
		return nil, poperr.Wrap(poperr.ErrProviderTimeout, timeoutMessage(key), err)
	case errors.Is(err, context.Canceled):
		return nil, err
	default:
		log.Warn("extension enable exhausted retries", zap.Int("attempts", attempts), zap.Error(err))
		return nil, poperr.Wrap(poperr.ErrProviderTimeout, exhaustedMessage(key), err)
	}
}

// enableOnce runs a single enable call bounded by timeout. The attempt's
// context is cancelled on return so the extension call and its timer never
// outlive the attempt.
func enableOnce(parent context.Context, ext provider.Extension, appName string, timeout time.Duration) (provider.Injected, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type result struct {
		injected provider.Injected
		err      error
	}
	done := make(chan result, 1)
	go func() {
		inj, err := ext.Enable(ctx, appName)
		done <- result{inj, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && parent.Err() == nil && errors.Is(res.err, context.DeadlineExceeded) {
			return nil, errEnableTimeout
		}
		return res.injected, res.err
	case <-ctx.Done():
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		return nil, errEnableTimeout
	}
}

// IsRetryable reports whether err is a dormant-worker failure or an attempt timeout.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errEnableTimeout) {
		return true
	}
	msg := err.Error()
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func timeoutMessage(key string) string {
	return fmt.Sprintf("%q authorization timed out. Check your extension. It may be waiting for you to approve the connection.", key)
}

func exhaustedMessage(key string) string {
	return fmt.Sprintf("Could not connect to %q. Click the extension icon in your toolbar, wait a moment, then click Connect again.", key)
}
