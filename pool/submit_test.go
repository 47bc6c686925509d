package pool

import (
	"context"
	"errors"
	"testing"
)

func TestSubmitBeforeStartWorkersReturnsInvalidState(t *testing.T) {
	Register("pool_test_never_started", func(ctx context.Context) (int, error) {
		return 0, nil
	})

	p, err := New(WithFailOpenDisabled())
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Submit("pool_test_never_started")
	var ise *InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected *InvalidStateError, got %v", err)
	}
	if ise.State != Uninitialized {
		t.Fatalf("state in error = %v, want Uninitialized", ise.State)
	}
}

func TestSubmitFailOpenRunsInlineOnceStarted(t *testing.T) {
	Register("pool_test_inline_add", func(ctx context.Context, a, b int) (int, error) {
		return a + b, nil
	})

	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a pool that has already been started at least once but is
	// not currently Running (e.g. winding down) - fail-open (the default)
	// must run the callable synchronously rather than rejecting it.
	p.startedFlag.Store(true)

	f, err := p.Submit("pool_test_inline_add", WithArgs(2, 3))
	if err != nil {
		t.Fatal(err)
	}
	got, resErr := f.Result(context.Background())
	if resErr != nil {
		t.Fatal(resErr)
	}
	if got != 5 {
		t.Fatalf("result = %v, want 5", got)
	}
}

func TestSubmitOffloadDisabledRejectsWithoutFailOpen(t *testing.T) {
	Register("pool_test_inline_noop", func(ctx context.Context) (int, error) {
		return 0, nil
	})

	p, err := New(WithFailOpenDisabled())
	if err != nil {
		t.Fatal(err)
	}
	p.startedFlag.Store(true)

	_, err = p.Submit("pool_test_inline_noop")
	if !errors.Is(err, ErrOffloadDisabled) {
		t.Fatalf("expected ErrOffloadDisabled, got %v", err)
	}
}

func TestSubmitUnknownCallable(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Submit("pool_test_totally_unregistered")
	if !errors.Is(err, ErrUnknownCallable) {
		t.Fatalf("expected ErrUnknownCallable, got %v", err)
	}
}

func TestSubmitInlineUserFailurePropagates(t *testing.T) {
	Register("pool_test_inline_fail", func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})

	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	p.startedFlag.Store(true)

	f, err := p.Submit("pool_test_inline_fail")
	if err != nil {
		t.Fatal(err)
	}
	_, resErr := f.Result(context.Background())
	we, ok := AsWorkError(resErr)
	if !ok {
		t.Fatalf("expected a *WorkError, got %v (%T)", resErr, resErr)
	}
	if we.Kind != KindUserFailure {
		t.Fatalf("error kind = %v, want KindUserFailure", we.Kind)
	}
}
