package promisestate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bookly/service_layer/pkg/eventhook"
)

// ErrOperationPanicked wraps the value recovered from a panicking Operation.
var ErrOperationPanicked = errors.New("operation panicked")

// Operation is the asynchronous call being tracked.
type Operation[R, P any] func(ctx context.Context, payload P) (R, error)

// Subscription is returned by OnError and OnChange.
type Subscription = eventhook.Subscription

// State is a point-in-time copy of a tracker's bookkeeping. Zero times mean
// the marker is unset.
type State[R any] struct {
	Ready      bool
	Loading    bool
	Counter    int
	StartedAt  time.Time
	FinishedAt time.Time
	Result     R
	Err        error
}

// Tracker observes one logical operation.
type Tracker[R, P any] struct {
	op Operation[R, P]

	mu    sync.RWMutex
	state State[R]

	errHook    eventhook.Hook[error]
	changeHook eventhook.Hook[State[R]]
}

// New wraps op. Each onError callback is registered in the order given.
func New[R, P any](op Operation[R, P], onError ...func(error)) *Tracker[R, P] {
	if op == nil {
		panic("promisestate: nil operation")
	}
	t := &Tracker[R, P]{op: op}
	for _, fn := range onError {
		t.errHook.On(fn)
	}
	return t
}

// Execute runs one invocation: optional delay, the operation, then cleanup.
// It returns the tracker's current result, which after a failure is whatever
// the last successful invocation stored. The delay is not cancellable and ctx
// is only handed to the operation.
func (t *Tracker[R, P]) Execute(ctx context.Context, delay time.Duration, payload P) R {
	t.update(func(s *State[R]) {
		s.Ready = false
		s.Loading = true
		s.StartedAt = time.Now()
		s.FinishedAt = time.Time{}
		s.Err = nil
	})

	if delay > 0 {
		timer := time.NewTimer(delay)
		<-timer.C
	}

	value, err := t.call(ctx, payload)
	if err != nil {
		t.mu.Lock()
		t.state.Err = err
		t.mu.Unlock()
		t.errHook.Trigger(err)
	} else {
		t.mu.Lock()
		t.state.Result = value
		t.state.Ready = true
		t.state.Counter++
		t.mu.Unlock()
	}

	t.update(func(s *State[R]) {
		s.Loading = false
		s.FinishedAt = time.Now()
	})

	return t.Result()
}

// ExecuteAsync starts Execute on a new goroutine. The channel receives the
// result once and is then closed.
func (t *Tracker[R, P]) ExecuteAsync(ctx context.Context, delay time.Duration, payload P) <-chan R {
	out := make(chan R, 1)
	go func() {
		defer close(out)
		out <- t.Execute(ctx, delay, payload)
	}()
	return out
}

// OnError registers an additional failure callback. Callbacks run
// synchronously inside Execute, in registration order, while Loading is
// still true.
func (t *Tracker[R, P]) OnError(fn func(error)) *Subscription {
	return t.errHook.On(fn)
}

// OnChange registers fn to receive a snapshot after an invocation starts and
// after it settles.
func (t *Tracker[R, P]) OnChange(fn func(State[R])) *Subscription {
	return t.changeHook.On(fn)
}

// State returns a snapshot of the tracker.
func (t *Tracker[R, P]) State() State[R] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Tracker[R, P]) Ready() bool { return t.State().Ready }

func (t *Tracker[R, P]) Loading() bool { return t.State().Loading }

// Counter is the number of successful invocations so far.
func (t *Tracker[R, P]) Counter() int { return t.State().Counter }

func (t *Tracker[R, P]) StartedAt() time.Time { return t.State().StartedAt }

func (t *Tracker[R, P]) FinishedAt() time.Time { return t.State().FinishedAt }

func (t *Tracker[R, P]) Result() R { return t.State().Result }

// Err is the error of the latest invocation, nil if it has not failed.
func (t *Tracker[R, P]) Err() error { return t.State().Err }

func (t *Tracker[R, P]) update(fn func(*State[R])) {
	t.mu.Lock()
	fn(&t.state)
	snapshot := t.state
	t.mu.Unlock()
	t.changeHook.Trigger(snapshot)
}

func (t *Tracker[R, P]) call(ctx context.Context, payload P) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero R
			value = zero
			err = fmt.Errorf("%w: %v", ErrOperationPanicked, r)
		}
	}()
	return t.op(ctx, payload)
}
