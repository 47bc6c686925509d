package pool

import (
	"context"
	"sync"
	"time"
)

// FutureState is the lifecycle of one submission's Future, independent of
// the owning Pool's own lifecycle state.
type FutureState int32

const (
	FuturePending FutureState = iota
	FutureRunning
	FutureDone
	FutureFailed
	FutureCancelled
)

func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "Pending"
	case FutureRunning:
		return "Running"
	case FutureDone:
		return "Done"
	case FutureFailed:
		return "Failed"
	case FutureCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Future is the handle returned by Submit. It mediates delivery of one
// submission's result(s) through its ResultHandler and supports
// cooperative cancellation.
type Future struct {
	id        uint64
	pool      *Pool
	handler   ResultHandler
	streaming bool

	mu         sync.Mutex
	state      FutureState
	dispatched bool
	value      any
	err        error
	done       chan struct{}
	doneOnce   sync.Once
}

func newFuture(id uint64, p *Pool, handler ResultHandler, streaming bool) *Future {
	return &Future{
		id:        id,
		pool:      p,
		handler:   handler,
		streaming: streaming,
		state:     FuturePending,
		done:      make(chan struct{}),
	}
}

// State returns the Future's current lifecycle state.
func (f *Future) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ID returns the submission id this Future tracks.
func (f *Future) ID() uint64 { return f.id }

func (f *Future) markRunning() {
	f.mu.Lock()
	if f.state == FuturePending {
		f.state = FutureRunning
	}
	f.mu.Unlock()
}

func (f *Future) deliver(value any) {
	f.mu.Lock()
	f.markRunningLocked()
	f.mu.Unlock()
	f.handler.HandleResult(value)
}

func (f *Future) markRunningLocked() {
	if f.state == FuturePending {
		f.state = FutureRunning
	}
}

// tryDispatch is called by a feeder goroutine immediately before handing
// the submission frame to a worker's stdin. It returns false if the
// Future was already cancelled while still queued, in which case the
// feeder must drop the frame instead of sending it.
func (f *Future) tryDispatch() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FutureCancelled || f.state == FutureFailed || f.state == FutureDone {
		return false
	}
	f.dispatched = true
	f.state = FutureRunning
	return true
}

func (f *Future) complete(finalState FutureState, err error) {
	f.mu.Lock()
	if f.state == FutureDone || f.state == FutureFailed || f.state == FutureCancelled {
		f.mu.Unlock()
		return
	}
	f.state = finalState
	f.err = err
	if finalState == FutureDone {
		f.value = f.handler.FinalizeResult()
	}
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
}

// Result blocks until the submission completes (or ctx is done) and
// returns the finalized value, or an error: a *WorkError for
// UserFailure/Transport/WorkerCrash, or a *CancelledError if the
// submission was cancelled.
func (f *Future) Result(ctx context.Context) (any, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Wait blocks up to timeout for completion, returning false on timeout.
func (f *Future) Wait(timeout time.Duration) bool {
	select {
	case <-f.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done returns a channel closed when the Future reaches a terminal state.
func (f *Future) Done() <-chan struct{} { return f.done }

// Cancel requests cooperative cancellation of the submission. If the
// submission has not yet been picked up by a worker, it completes
// immediately as Cancelled without ever being dispatched.
func (f *Future) Cancel() {
	f.mu.Lock()
	already := f.state == FutureDone || f.state == FutureFailed || f.state == FutureCancelled
	f.mu.Unlock()
	if already {
		return
	}
	f.handler.Cancel()

	f.mu.Lock()
	notDispatched := !f.dispatched
	if notDispatched {
		f.state = FutureCancelled
		f.err = &CancelledError{Message: "cancelled before dispatch"}
	}
	f.mu.Unlock()

	if notDispatched {
		f.doneOnce.Do(func() { close(f.done) })
		f.pool.futures.Delete(f.id)
		return
	}
	f.pool.requestCancel(f.id)
}
