package pool

import (
	"context"
	"testing"
	"time"

	"github.com/arelius/offloadpool/internal/ipc"
)

func TestDispatchDeliversSingleValue(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	fw := newFakeWorker(0)
	fw.proc.markOwned(1)

	f := newFuture(1, p, NewDefaultResultHandler(), false)
	p.futures.Store(uint64(1), f)

	go p.resultLoop(fw.proc)

	payload, err := ipc.EncodeValue(42)
	if err != nil {
		t.Fatal(err)
	}
	if err := fw.sendResults.Encode(ipc.ResultFrame{Kind: ipc.KindValue, ID: 1, Payload: payload}); err != nil {
		t.Fatal(err)
	}

	if !f.Wait(time.Second) {
		t.Fatal("future did not complete")
	}
	got, resErr := f.Result(context.Background())
	if resErr != nil {
		t.Fatal(resErr)
	}
	if got != 42 {
		t.Fatalf("result = %v, want 42", got)
	}
}

func TestDispatchStreamingValuesThenEnd(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	fw := newFakeWorker(0)
	fw.proc.markOwned(2)

	h := NewListResultHandler()
	f := newFuture(2, p, h, true)
	p.futures.Store(uint64(2), f)

	go p.resultLoop(fw.proc)

	for i := 0; i < 3; i++ {
		payload, err := ipc.EncodeValue(i)
		if err != nil {
			t.Fatal(err)
		}
		if err := fw.sendResults.Encode(ipc.ResultFrame{Kind: ipc.KindStreamValue, ID: 2, Payload: payload}); err != nil {
			t.Fatal(err)
		}
	}
	if err := fw.sendResults.Encode(ipc.ResultFrame{Kind: ipc.KindStreamEnd, ID: 2}); err != nil {
		t.Fatal(err)
	}

	if !f.Wait(time.Second) {
		t.Fatal("future did not complete")
	}
	got, resErr := f.Result(context.Background())
	if resErr != nil {
		t.Fatal(resErr)
	}
	values := got.([]any)
	if len(values) != 3 || values[0] != 0 || values[2] != 2 {
		t.Fatalf("accumulated values = %v, want [0 1 2]", values)
	}
}

func TestDispatchErrorFrameFailsFuture(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	fw := newFakeWorker(0)
	fw.proc.markOwned(3)

	f := newFuture(3, p, NewDefaultResultHandler(), false)
	p.futures.Store(uint64(3), f)

	go p.resultLoop(fw.proc)

	if err := fw.sendResults.Encode(ipc.ResultFrame{
		Kind: ipc.KindError, ID: 3,
		ErrorKind: string(KindUserFailure), Message: "boom",
	}); err != nil {
		t.Fatal(err)
	}

	if !f.Wait(time.Second) {
		t.Fatal("future did not complete")
	}
	_, resErr := f.Result(context.Background())
	we, ok := AsWorkError(resErr)
	if !ok {
		t.Fatalf("expected *WorkError, got %v", resErr)
	}
	if we.Kind != KindUserFailure || we.Message != "boom" {
		t.Fatalf("unexpected WorkError: %+v", we)
	}
}

func TestOnWorkerCrashFailsOwnedFutures(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	fw := newFakeWorker(0)
	fw.proc.markOwned(4)

	f := newFuture(4, p, NewDefaultResultHandler(), false)
	p.futures.Store(uint64(4), f)

	fw.simulateCrash(p, nil) // pool state is Uninitialized, so no respawn is attempted

	if !f.Wait(time.Second) {
		t.Fatal("future did not complete after simulated crash")
	}
	_, resErr := f.Result(context.Background())
	we, ok := AsWorkError(resErr)
	if !ok {
		t.Fatalf("expected *WorkError, got %v", resErr)
	}
	if we.Kind != KindWorkerCrash {
		t.Fatalf("error kind = %v, want KindWorkerCrash", we.Kind)
	}
}
