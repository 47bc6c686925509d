package pool

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
)

var (
	// ErrQueueFull is returned by a bounded submission queue when it has no room left.
	ErrQueueFull = errors.New("offloadpool: submission queue is full")
	// ErrQueueClosed is returned once the submission queue has been drained after stop.
	ErrQueueClosed = errors.New("offloadpool: submission queue is closed")
)

const (
	// cacheLinePadding prevents false sharing between the ring's head and tail cursors.
	cacheLinePadding = 128
	// defaultQueueCapacity is the ring size used when no positive capacity is given.
	defaultQueueCapacity = 4096
	// maxSpinAttempts bounds busy-waiting before a dequeuer parks on notifyC.
	maxSpinAttempts = 10
)

// submissionQueueSlot is a single ring-buffer slot carrying a submission frame.
type submissionQueueSlot[T any] struct {
	sequence uint64
	value    T
	_        [cacheLinePadding - 16]byte
}

// submissionQueue is a lock-free MPMC ring buffer holding encoded submission
// frames awaiting pickup. It is the one data structure shared by every
// submitter goroutine (producers) and every per-worker feeder goroutine
// (consumers): because consumers race to dequeue, pull-based worker
// selection falls directly out of the ring buffer's CAS-based head
// advance, and FIFO-across-submitters falls out of the CAS-based tail
// advance.
type submissionQueue[T any] struct {
	ring []submissionQueueSlot[T]
	mask uint64

	_    [cacheLinePadding]byte
	head uint64
	_    [cacheLinePadding - 8]byte
	tail uint64
	_    [cacheLinePadding - 8]byte

	closed atomic.Bool

	notifyC chan struct{} // buffered(1), never closed: "new data" wake-up
	closeC  chan struct{} // unbuffered, closed on Close(): "shutdown" wake-up

	bounded  bool
	capacity int
}

// newSubmissionQueue creates a queue. capacity <= 0 selects
// defaultQueueCapacity; the capacity is rounded up to a power of two and
// the ring never grows or reallocates. Whether a full ring rejects Enqueue
// is decided by bounded, not by capacity.
func newSubmissionQueue[T any](capacity int, bounded bool) *submissionQueue[T] {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	capacity = nextPowerOfTwo(capacity)
	ring := make([]submissionQueueSlot[T], capacity)
	for i := range ring {
		ring[i].sequence = uint64(i) // #nosec G115 -- i is a loop index within ring bounds
	}

	return &submissionQueue[T]{
		ring:     ring,
		mask:     uint64(capacity - 1), // #nosec G115 -- capacity validated positive
		bounded:  bounded,
		capacity: capacity,
		notifyC:  make(chan struct{}, 1),
		closeC:   make(chan struct{}),
	}
}

// Enqueue adds value to the tail of the queue. It blocks only when the
// queue is bounded and full; quit additionally aborts the wait.
func (q *submissionQueue[T]) Enqueue(quit <-chan struct{}, value T) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	spinCount := 0

	for {
		select {
		case <-quit:
			return nil
		default:
		}

		_, tail, slot, diff := q.load(false)
		if diff == 0 {
			if atomic.CompareAndSwapUint64(&q.tail, tail, tail+1) {
				slot.value = value
				atomic.StoreUint64(&slot.sequence, tail+1)
				select {
				case q.notifyC <- struct{}{}:
				default:
				}
				return nil
			}
			continue
		}

		if diff < 0 && q.bounded {
			return ErrQueueFull
		}

		spinCount++
		if spinCount > maxSpinAttempts {
			runtime.Gosched()
			spinCount = 0
		}
	}
}

// Dequeue removes and returns the item at the head of the queue. It blocks
// until an item is available, the queue is closed and drained, or ctx is
// cancelled - this is the "pull" half of work-stealing-by-pull worker
// selection: many feeder goroutines call Dequeue concurrently and exactly
// one wins each slot.
func (q *submissionQueue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	spinCount := 0

	for {
		if q.isClosed() {
			return zero, ErrQueueClosed
		}

		head, _, slot, diff := q.load(true)
		if diff == 0 {
			if val, ok := q.deque(head, slot); ok {
				return val, nil
			}
			continue
		}

		spinCount++
		if spinCount < maxSpinAttempts {
			runtime.Gosched()
			continue
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.closeC:
			return zero, ErrQueueClosed
		case <-q.notifyC:
			spinCount = 0
		}
	}
}

// TryDequeue attempts a non-blocking dequeue, used to drain remaining
// submissions when the pool is stopping.
func (q *submissionQueue[T]) TryDequeue() (T, bool) {
	var zero T
	if q.isClosed() {
		return zero, false
	}
	head, _, slot, diff := q.load(true)
	if diff == 0 {
		return q.deque(head, slot)
	}
	return zero, false
}

func (q *submissionQueue[T]) deque(head uint64, slot *submissionQueueSlot[T]) (T, bool) {
	var zero T
	if atomic.CompareAndSwapUint64(&q.head, head, head+1) {
		value := slot.value
		slot.value = zero
		atomic.StoreUint64(&slot.sequence, head+q.mask+1)
		return value, true
	}
	return zero, false
}

func (q *submissionQueue[T]) isClosed() bool {
	if q.closed.Load() {
		head := atomic.LoadUint64(&q.head)
		tail := atomic.LoadUint64(&q.tail)
		if head >= tail {
			return true
		}
	}
	return false
}

func (q *submissionQueue[T]) load(ishead bool) (head uint64, tail uint64, slot *submissionQueueSlot[T], diff int64) {
	head = atomic.LoadUint64(&q.head)
	tail = atomic.LoadUint64(&q.tail)

	pos := tail
	if ishead {
		pos = head
	}

	index := pos & q.mask
	slot = &q.ring[index]
	seq := atomic.LoadUint64(&slot.sequence)

	if ishead {
		diff = int64(seq) - int64(head+1) // #nosec G115 -- sequence comparison
	} else {
		diff = int64(seq) - int64(tail) // #nosec G115 -- sequence comparison
	}
	return
}

// Len returns the approximate number of items currently queued.
func (q *submissionQueue[T]) Len() int {
	head := atomic.LoadUint64(&q.head)
	tail := atomic.LoadUint64(&q.tail)
	if tail > head {
		return int(tail - head) // #nosec G115 -- tail > head guarantees fit
	}
	return 0
}

// Close marks the queue closed; no further Enqueue calls succeed, and
// parked Dequeue calls observe ErrQueueClosed once drained.
func (q *submissionQueue[T]) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.closeC)
	}
}

// IsClosed reports whether Close has been called.
func (q *submissionQueue[T]) IsClosed() bool {
	return q.closed.Load()
}

// nextPowerOfTwo returns the next power of 2 >= n.
func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}
	if n&(n-1) == 0 {
		return n
	}
	power := 1
	for power < n {
		power *= 2
	}
	return power
}
