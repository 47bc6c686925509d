package pool

import "testing"

func TestDefaultResultHandlerKeepsLastValue(t *testing.T) {
	h := NewDefaultResultHandler()
	h.HandleResult(1)
	h.HandleResult(2)
	h.HandleResult(3)
	if got := h.FinalizeResult(); got != 3 {
		t.Fatalf("FinalizeResult() = %v, want 3", got)
	}
}

func TestListResultHandlerAccumulates(t *testing.T) {
	h := NewListResultHandler()
	h.HandleResult("a")
	h.HandleResult("b")
	got := h.FinalizeResult().([]any)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("FinalizeResult() = %v, want [a b]", got)
	}
}

func TestForwardingResultHandlerCallsSink(t *testing.T) {
	var forwarded []any
	h := NewForwardingResultHandler(func(v any) { forwarded = append(forwarded, v) })
	h.HandleResult(10)
	h.HandleResult(20)
	if len(forwarded) != 2 || forwarded[1] != 20 {
		t.Fatalf("sink received %v, want [10 20]", forwarded)
	}
	if got := h.FinalizeResult(); got != 20 {
		t.Fatalf("FinalizeResult() = %v, want 20", got)
	}
}
