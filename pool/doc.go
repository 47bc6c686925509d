// Package pool is a process-based work offload manager: it dispatches
// CPU-bound work to auxiliary worker processes so a host program (typically
// interactive, such as a GUI) never blocks its own event loop, while
// retaining the ability to cancel in-flight work promptly, stream partial
// results from producer-style work items, and survive worker crashes
// without data corruption.
//
// # Basic usage
//
// The host binary's main() must call RunWorkerMain first, before any other
// pool call, so that a re-exec'd child can become a worker process instead
// of re-running the host's own startup logic:
//
//	func main() {
//	    pool.RunWorkerMain() // returns immediately in the main process
//	    // ... normal program startup ...
//	}
//
// Work functions are registered by name, since a function pointer cannot
// cross the process boundary a worker is spawned across:
//
//	func init() {
//	    pool.Register("add", func(ctx context.Context, a, b int) (int, error) {
//	        return a + b, nil
//	    })
//	}
//
//	pool.StartWorkers(0) // 0 means the computed default
//	future, err := pool.Submit("add", pool.WithArgs(2, 3))
//	sum, err := future.Result(context.Background())
//
// # Streaming
//
// A registered streaming callable produces a finite, non-restartable
// sequence of values via a StreamFunc's yield callback:
//
//	pool.RegisterStreaming("count_up", func(ctx context.Context, n int, yield func(int) bool) error {
//	    for i := 0; i < n; i++ {
//	        if pool.IsCancelled(ctx) || !yield(i) {
//	            return nil
//	        }
//	    }
//	    return nil
//	})
//
//	future, err := pool.Submit("count_up", pool.WithArgs(10), pool.WithStreaming(), pool.WithHandler(myHandler))
//
// # Cancellation
//
// Cancellation is cooperative: future.Cancel() sets a shared flag that a
// streaming callable observes via pool.IsCancelled(ctx) at its next
// iteration. It is never asynchronous or preemptive.
//
// # Custom argument and result types
//
// Primitive argument and result types need no setup; gob pre-registers
// them internally. A callable that takes or returns a concrete struct
// type must register that type once at startup with RegisterType, the
// same requirement encoding/gob itself imposes on values passed through
// an interface{}:
//
//	func init() {
//	    pool.RegisterType(MyResult{})
//	}
//
// # Fail-open
//
// If the pool is not currently Running (including before StartWorkers has
// ever been called), or offload has been disabled, Submit runs the
// callable synchronously in the calling process instead of failing -
// unless DisableFailOpen has been called, in which case it returns an
// InvalidStateError before StartWorkers has ever been called and
// ErrOffloadDisabled after.
package pool
