// Package txsteps tracks multi-step on-chain operations.
//
// A Tracker owns an ordered, non-empty list of steps. Status updates are
// events applied by a single reducer, so every step only ever moves forward:
// pending, loading, then success or error. Reset is the only way back.
package txsteps

import (
	"errors"
	"fmt"
)

// Status is the state of one step.
type Status int

const (
	Pending Status = iota
	Loading
	Success
	Error
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Loading:
		return "loading"
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	for _, v := range []Status{Pending, Loading, Success, Error} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("invalid step status: %q", b)
}

func (s Status) rank() int {
	if s == Error {
		return int(Success)
	}
	return int(s)
}

// Terminal reports whether s is success or error.
func (s Status) Terminal() bool { return s == Success || s == Error }

// Step is one named stage of an operation.
type Step struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Status   Status `json:"status"`
	TxHash   string `json:"txHash,omitempty"`
	ErrorMsg string `json:"errorMsg,omitempty"`
}

// Event requests a status change of one step. Empty TxHash and ErrorMsg keep
// the step's current values.
type Event struct {
	StepID   string
	Status   Status
	TxHash   string
	ErrorMsg string
}

var (
	ErrUnknownStep       = errors.New("unknown step")
	ErrInvalidTransition = errors.New("invalid step transition")
)

// CanTransition reports whether a step may move from one status to another.
// Loading may repeat so a transaction hash can be attached while it is mined.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if from == Loading && to == Loading {
		return true
	}
	return to.rank() > from.rank()
}

// Reduce applies ev to steps and returns the new list. steps is not modified.
// An unknown id or a backward transition returns steps unchanged and an error.
func Reduce(steps []Step, ev Event) ([]Step, error) {
	idx := -1
	for i, s := range steps {
		if s.ID == ev.StepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return steps, fmt.Errorf("%w: %s", ErrUnknownStep, ev.StepID)
	}
	cur := steps[idx]
	if !CanTransition(cur.Status, ev.Status) {
		return steps, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, cur.ID, cur.Status, ev.Status)
	}

	out := append([]Step(nil), steps...)
	next := cur
	next.Status = ev.Status
	if ev.TxHash != "" {
		next.TxHash = ev.TxHash
	}
	if ev.ErrorMsg != "" {
		next.ErrorMsg = ev.ErrorMsg
	}
	out[idx] = next
	return out, nil
}
