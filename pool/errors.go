package pool

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a submission failed.
type ErrorKind string

const (
	// KindUserFailure means the callable itself returned an error or panicked.
	KindUserFailure ErrorKind = "user-failure"
	// KindTransport means the result (or, at submit time, the arguments)
	// could not be serialized or carried over the IPC transport.
	KindTransport ErrorKind = "transport"
	// KindWorkerCrash means the worker process exited while owning the
	// submission.
	KindWorkerCrash ErrorKind = "worker-crash"
)

// WorkError is the error surfaced to callers for UserFailure, Transport,
// and WorkerCrash error kinds.
type WorkError struct {
	Kind      ErrorKind
	Message   string
	Traceback string
}

func (e *WorkError) Error() string {
	if e.Traceback != "" {
		return fmt.Sprintf("offloadpool: %s: %s\n%s", e.Kind, e.Message, e.Traceback)
	}
	return fmt.Sprintf("offloadpool: %s: %s", e.Kind, e.Message)
}

// CancelledError is returned by Future.Result when the submission was
// cancelled, either before a worker picked it up or cooperatively during
// execution.
type CancelledError struct {
	Message string
}

func (e *CancelledError) Error() string {
	if e.Message == "" {
		return "offloadpool: submission was cancelled"
	}
	return "offloadpool: submission was cancelled: " + e.Message
}

// ErrOffloadDisabled is returned by Submit when offload is unavailable and
// fail-open has been disabled.
var ErrOffloadDisabled = errors.New("offloadpool: offload disabled and fail-open is off")

// InvalidStateError is returned for a lifecycle operation attempted in a
// pool state that does not permit it.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("offloadpool: %s is not valid while pool is %s", e.Op, e.State)
}

// ErrUnknownCallable is returned by Submit when fn names no callable
// registered via Register/RegisterStreaming in this process.
var ErrUnknownCallable = errors.New("offloadpool: unknown callable")

// IsCancelledError reports whether err represents a cancelled submission,
// as returned from Future.Result. For checking cancellation from inside a
// running callable, use IsCancelled(ctx) instead (reexec.go).
func IsCancelledError(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// AsWorkError extracts a *WorkError from err, if any.
func AsWorkError(err error) (*WorkError, bool) {
	var we *WorkError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}
