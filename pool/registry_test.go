package pool

import (
	"context"
	"testing"
)

func TestRegisterAndLookup(t *testing.T) {
	Register("pool_test_add", func(ctx context.Context, a, b int) (int, error) {
		return a + b, nil
	})

	entry, ok := lookupCallable("pool_test_add")
	if !ok {
		t.Fatal("expected callable to be registered")
	}
	if entry.streaming {
		t.Fatal("expected a non-streaming entry")
	}
	if len(entry.argTypes) != 2 {
		t.Fatalf("argTypes = %d, want 2", len(entry.argTypes))
	}
}

func TestRegisterStreamingAndLookup(t *testing.T) {
	RegisterStreaming("pool_test_count", func(ctx context.Context, n int, yield func(int) bool) error {
		for i := 0; i < n; i++ {
			if !yield(i) {
				return nil
			}
		}
		return nil
	})

	entry, ok := lookupCallable("pool_test_count")
	if !ok {
		t.Fatal("expected streaming callable to be registered")
	}
	if !entry.streaming {
		t.Fatal("expected a streaming entry")
	}
	if len(entry.argTypes) != 1 {
		t.Fatalf("argTypes = %d, want 1", len(entry.argTypes))
	}
}

func TestLookupUnknownCallable(t *testing.T) {
	if _, ok := lookupCallable("pool_test_does_not_exist"); ok {
		t.Fatal("expected lookup of an unregistered name to fail")
	}
}

func TestRegisterPanicsWithoutContextArgument(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Register to panic when the first argument isn't context.Context")
		}
	}()
	Register("pool_test_bad", func(a, b int) int { return a + b })
}
