package pool

import (
	"testing"
	"time"
)

func TestStateBoxMonotonicTransitions(t *testing.T) {
	var s stateBox
	s.store(Uninitialized)

	if !s.compareAndSwap(Uninitialized, Starting) {
		t.Fatal("Uninitialized -> Starting should succeed")
	}
	if s.compareAndSwap(Uninitialized, Starting) {
		t.Fatal("a second Uninitialized -> Starting should fail once already Starting")
	}
	if !s.compareAndSwap(Starting, Running) {
		t.Fatal("Starting -> Running should succeed")
	}
	if !s.compareAndSwap(Running, Stopping) {
		t.Fatal("Running -> Stopping should succeed")
	}
	if !s.compareAndSwap(Stopping, Stopped) {
		t.Fatal("Stopping -> Stopped should succeed")
	}
	if s.compareAndSwap(Stopped, Starting) {
		t.Fatal("no transition out of Stopped should ever succeed")
	}
}

func TestStopBeforeStartReturnsInvalidState(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	err = p.Stop()
	var ise *InvalidStateError
	if !asInvalidState(err, &ise) {
		t.Fatalf("expected *InvalidStateError, got %v", err)
	}
	if ise.State != Uninitialized {
		t.Fatalf("state in error = %v, want Uninitialized", ise.State)
	}
}

func asInvalidState(err error, target **InvalidStateError) bool {
	ise, ok := err.(*InvalidStateError)
	if !ok {
		return false
	}
	*target = ise
	return true
}

func TestOffloadAndFailOpenToggles(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if !p.offloadEnabled.Load() {
		t.Fatal("offload should default to enabled")
	}
	p.DisableOffload()
	if p.offloadEnabled.Load() {
		t.Fatal("DisableOffload should clear offloadEnabled")
	}
	p.EnableOffload()
	if !p.offloadEnabled.Load() {
		t.Fatal("EnableOffload should set offloadEnabled")
	}

	if !p.failOpen.Load() {
		t.Fatal("fail-open should default to enabled")
	}
	p.DisableFailOpen()
	if p.failOpen.Load() {
		t.Fatal("DisableFailOpen should clear failOpen")
	}
}

func TestWaitForProcessStartTimesOutWithoutStart(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if p.WaitForProcessStart(20 * time.Millisecond) {
		t.Fatal("expected WaitForProcessStart to time out before StartWorkers is called")
	}
}

func TestCurrentProcessCountZeroBeforeStart(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if got := p.CurrentProcessCount(); got != 0 {
		t.Fatalf("CurrentProcessCount() = %d, want 0", got)
	}
}
