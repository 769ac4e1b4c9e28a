package txsteps

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/pilacorp/go-pop-sdk/poperr"
)

// Tracker is one operation's step list.
type Tracker struct {
	mu       sync.RWMutex
	steps    []Step
	observer func([]Step)
	logger   *zap.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithObserver is called with a snapshot after every applied change.
func WithObserver(f func([]Step)) Option {
	return func(t *Tracker) {
		t.observer = f
	}
}

// WithLogger sets the logger for applied and rejected step events.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// New creates a tracker over steps, all reset to pending. The list must be
// non-empty with unique ids.
func New(steps []Step, opts ...Option) (*Tracker, error) {
	if len(steps) == 0 {
		return nil, errors.New("an operation needs at least one step")
	}
	if dup := lo.FindDuplicatesBy(steps, func(s Step) string { return s.ID }); len(dup) > 0 {
		return nil, fmt.Errorf("duplicate step id: %s", dup[0].ID)
	}
	if lo.SomeBy(steps, func(s Step) bool { return s.ID == "" }) {
		return nil, errors.New("step id is required")
	}
	t := &Tracker{
		steps:  lo.Map(steps, func(s Step, _ int) Step { return Step{ID: s.ID, Label: s.Label} }),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Steps returns a snapshot of the step list.
func (t *Tracker) Steps() []Step {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Step(nil), t.steps...)
}

// Step returns the step with id.
func (t *Tracker) Step(id string) (Step, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lo.Find(t.steps, func(s Step) bool { return s.ID == id })
}

// Dispatch applies ev. Rejected events leave the list unchanged.
func (t *Tracker) Dispatch(ev Event) error {
	t.mu.Lock()
	next, err := Reduce(t.steps, ev)
	if err != nil {
		t.mu.Unlock()
		t.logger.Debug("step event rejected", zap.String("step", ev.StepID), zap.Error(err))
		return err
	}
	t.steps = next
	snapshot := append([]Step(nil), next...)
	t.mu.Unlock()

	t.logger.Debug("step updated", zap.String("step", ev.StepID), zap.Stringer("status", ev.Status))
	t.notify(snapshot)
	return nil
}

// Extra carries optional step details.
type Extra struct {
	TxHash   string
	ErrorMsg string
}

// SetStepStatus updates one step. An unknown id or a backward transition is
// a no-op.
func (t *Tracker) SetStepStatus(id string, status Status, extra ...Extra) {
	ev := Event{StepID: id, Status: status}
	for _, e := range extra {
		if e.TxHash != "" {
			ev.TxHash = e.TxHash
		}
		if e.ErrorMsg != "" {
			ev.ErrorMsg = e.ErrorMsg
		}
	}
	_ = t.Dispatch(ev)
}

// ResetSteps returns every step to pending and clears hashes and errors.
func (t *Tracker) ResetSteps() {
	t.mu.Lock()
	t.steps = lo.Map(t.steps, func(s Step, _ int) Step { return Step{ID: s.ID, Label: s.Label} })
	snapshot := append([]Step(nil), t.steps...)
	t.mu.Unlock()
	t.notify(snapshot)
}

func (t *Tracker) notify(snapshot []Step) {
	if t.observer != nil {
		t.observer(snapshot)
	}
}

// AllDone reports whether every step succeeded.
func (t *Tracker) AllDone() bool {
	return lo.EveryBy(t.Steps(), func(s Step) bool { return s.Status == Success })
}

// HasError reports whether any step failed.
func (t *Tracker) HasError() bool {
	return lo.SomeBy(t.Steps(), func(s Step) bool { return s.Status == Error })
}

// InProgress reports whether any step is loading.
func (t *Tracker) InProgress() bool {
	return lo.SomeBy(t.Steps(), func(s Step) bool { return s.Status == Loading })
}

// CanClose reports whether the operation may be dismissed.
func (t *Tracker) CanClose() bool {
	steps := t.Steps()
	return lo.EveryBy(steps, func(s Step) bool { return s.Status == Success }) ||
		lo.SomeBy(steps, func(s Step) bool { return s.Status == Error })
}

// Close refuses with poperr.ErrOperationPending until CanClose holds.
func (t *Tracker) Close() error {
	if !t.CanClose() {
		return poperr.New(poperr.ErrOperationPending, "Transaction in progress. Please wait for it to finish.")
	}
	return nil
}

// Skip marks a pending step successful without a loading phase.
func (t *Tracker) Skip(id string) error {
	return t.Dispatch(Event{StepID: id, Status: Success})
}

// Do runs fn as step id: loading while it runs, then success with the
// returned hash or error with the clipped message. fn's error is returned.
func (t *Tracker) Do(ctx context.Context, id string, fn func(ctx context.Context) (string, error)) error {
	if err := t.Dispatch(Event{StepID: id, Status: Loading}); err != nil {
		return err
	}
	hash, err := fn(ctx)
	if err != nil {
		t.SetStepStatus(id, Error, Extra{TxHash: hash, ErrorMsg: poperr.Message(err)})
		return err
	}
	t.SetStepStatus(id, Success, Extra{TxHash: hash})
	return nil
}
