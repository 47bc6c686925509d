package pool

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFutureCancelBeforeDispatch(t *testing.T) {
	p, err := New(WithWorkerCount(1))
	if err != nil {
		t.Fatal(err)
	}
	f := newFuture(1, p, NewDefaultResultHandler(), false)
	p.futures.Store(uint64(1), f)

	f.Cancel()

	if !f.Wait(time.Second) {
		t.Fatal("future did not complete after cancel")
	}
	if got, want := f.State(), FutureCancelled; got != want {
		t.Fatalf("state = %v, want %v", got, want)
	}
	if _, ok := p.futures.Load(uint64(1)); ok {
		t.Fatal("cancelled future was not removed from the pending table")
	}
}

func TestFutureDeliverThenComplete(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	h := NewListResultHandler()
	f := newFuture(2, p, h, true)

	f.deliver(1)
	f.deliver(2)
	f.deliver(3)
	f.complete(FutureDone, nil)

	got, resErr := f.Result(context.Background())
	if resErr != nil {
		t.Fatalf("unexpected error: %v", resErr)
	}
	want := []any{1, 2, 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("accumulated result mismatch (-want +got):\n%s", diff)
	}
}

func TestFutureResultRespectsContextCancellation(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	f := newFuture(3, p, NewDefaultResultHandler(), false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, resErr := f.Result(ctx)
	if resErr != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", resErr)
	}
}

func TestFutureStateStringsAreDistinct(t *testing.T) {
	states := []FutureState{FuturePending, FutureRunning, FutureDone, FutureFailed, FutureCancelled}
	seen := map[string]bool{}
	for _, s := range states {
		if seen[s.String()] {
			t.Fatalf("duplicate FutureState.String() for %v", s)
		}
		seen[s.String()] = true
	}
}
