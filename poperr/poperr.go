// Package poperr defines the error taxonomy shared by the connection manager,
// the attestation pipeline and the transaction tracker.
//
// Every user-facing failure is an *Error: its message is surfaced verbatim,
// while errors.Is still matches the taxonomy kind and the underlying cause.
package poperr

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Taxonomy kinds.
var (
	// ErrProviderNotFound means the selected provider is not injected in the environment.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrProviderTimeout means the wake-retry budget was exhausted.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrProviderRejected means the provider refused the request (e.g. user declined).
	ErrProviderRejected = errors.New("provider rejected")
	// ErrNetworkUnreachable means a chain RPC or tier-query endpoint could not be reached.
	ErrNetworkUnreachable = errors.New("network unreachable")
	// ErrValidation means a request failed input validation.
	ErrValidation = errors.New("validation error")
	// ErrAttestationServer means the signing endpoint answered with a non-2xx status.
	ErrAttestationServer = errors.New("attestation server error")
	// ErrOnChainRevert means the contract rejected a submitted transaction.
	ErrOnChainRevert = errors.New("on-chain revert")
)

// Guard and eligibility kinds.
var (
	ErrConnectInProgress = errors.New("connection already in progress")
	ErrPipelineRunning   = errors.New("verification already running")
	ErrNotVerified       = errors.New("personhood not verified")
	ErrOperationPending  = errors.New("operation still pending")
)

// DisplayLimit is the longest message shown to the user unclipped.
const DisplayLimit = 80

// ClippedLen is the rune length of a clipped message, ellipsis included.
const ClippedLen = DisplayLimit - 2

// Error carries a verbatim message together with its taxonomy kind and cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

// New returns an *Error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap returns an *Error of the given kind wrapping cause. An empty msg
// falls back to the cause's message.
func Wrap(kind error, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Error returns the message verbatim, or the kind when there is none.
func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Kind != nil {
		return e.Kind.Error()
	}
	return "unknown error"
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the first taxonomy kind found in err's chain, or nil.
func KindOf(err error) error {
	for _, k := range []error{
		ErrProviderNotFound, ErrProviderTimeout, ErrProviderRejected,
		ErrNetworkUnreachable, ErrValidation, ErrAttestationServer, ErrOnChainRevert,
		ErrConnectInProgress, ErrPipelineRunning, ErrNotVerified, ErrOperationPending,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Truncate clips a message longer than DisplayLimit runes to ClippedLen
// runes, the last one an ellipsis.
func Truncate(msg string) string {
	return TruncateTo(msg, DisplayLimit)
}

// TruncateTo clips a message longer than limit runes to its first limit-3
// runes followed by an ellipsis.
func TruncateTo(msg string, limit int) string {
	msg = strings.TrimSpace(msg)
	if limit <= 3 || utf8.RuneCountInString(msg) <= limit {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:limit-3]) + "…"
}

// Message returns the display form of err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return Truncate(err.Error())
}
