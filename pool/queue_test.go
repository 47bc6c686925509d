package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/maxatome/go-testdeep/td"
)

func TestSubmissionQueueFIFO(t *testing.T) {
	q := newSubmissionQueue[int](8, true)
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(nil, i); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		got, err := q.Dequeue(ctx)
		td.CmpNoError(t, err)
		td.Cmp(t, got, i, "dequeue order must match enqueue order")
	}
}

func TestSubmissionQueueBoundedFull(t *testing.T) {
	q := newSubmissionQueue[int](2, true)
	if err := q.Enqueue(nil, 1); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if err := q.Enqueue(nil, 2); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	if err := q.Enqueue(nil, 3); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestSubmissionQueueConcurrentConsumers(t *testing.T) {
	const n = 2000
	q := newSubmissionQueue[int](256, false)

	go func() {
		for i := 0; i < n; i++ {
			q.Enqueue(nil, i)
		}
	}()

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
				v, err := q.Dequeue(ctx)
				cancel()
				if err != nil {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("expected %d distinct values delivered exactly once, got %d", n, len(seen))
	}
	for v, count := range seen {
		if count != 1 {
			t.Fatalf("value %d delivered %d times, want exactly once", v, count)
		}
	}
}

func TestSubmissionQueueCloseUnblocksDequeue(t *testing.T) {
	q := newSubmissionQueue[int](8, true)
	done := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-done:
		td.Cmp(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after Close")
	}
}
