package pool

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/arelius/offloadpool/internal/ipc"
)

// RegisterType makes v's concrete type transmissible as a callable
// argument or result. It is a thin wrapper over gob.Register and carries
// the same requirement: any concrete struct type crossing the worker
// process boundary through an interface{} must be registered once,
// before the first submission that uses it.
func RegisterType(v any) {
	ipc.Register(v)
}

// StreamFunc is the shape of a streaming callable that takes no arguments
// besides ctx: it calls yield for each produced value until yield returns
// false, IsCancelled(ctx) reports true, or the function has no more values
// to produce. RegisterStreaming also accepts functions with extra
// arguments between ctx and yield.
type StreamFunc[T any] func(ctx context.Context, yield func(T) bool) error

// callableEntry is the type-erased, reflection-driven record stored in
// the registry for one name. Decoding of individual gob-encoded
// arguments happens against argTypes at dispatch time in reexec.go.
type callableEntry struct {
	name       string
	fn         reflect.Value
	argTypes   []reflect.Type
	streaming  bool
	resultType reflect.Type // zero Value for streaming entries
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*callableEntry{}
)

// Register records fn under name so that a Submit(name, ...) in any
// process sharing this binary's callable set can invoke it. fn must be a
// function accepting a context.Context first argument, followed by zero
// or more gob-encodable arguments, and returning (result, error) where
// result may be any gob-encodable type.
//
// Registration typically happens via init() - by string key, because a
// func value itself cannot cross a process boundary.
func Register(name string, fn any) {
	entry := buildEntry(name, fn, false)
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = entry
}

// RegisterStreaming records a streaming callable under name. fn must have
// the signature func(context.Context, <args...>, yield func(V) bool) error
// for some gob-encodable V.
func RegisterStreaming(name string, fn any) {
	entry := buildEntry(name, fn, true)
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = entry
}

func buildEntry(name string, fn any, streaming bool) *callableEntry {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		panic(fmt.Sprintf("offloadpool: Register(%q): not a function", name))
	}
	if t.NumIn() < 1 || t.In(0) != reflect.TypeOf((*context.Context)(nil)).Elem() {
		panic(fmt.Sprintf("offloadpool: Register(%q): first argument must be context.Context", name))
	}

	entry := &callableEntry{name: name, fn: v, streaming: streaming}

	if streaming {
		// Last argument is the yield func(V) bool; everything between
		// context and yield is a regular argument.
		if t.NumIn() < 2 {
			panic(fmt.Sprintf("offloadpool: RegisterStreaming(%q): missing yield argument", name))
		}
		for i := 1; i < t.NumIn()-1; i++ {
			entry.argTypes = append(entry.argTypes, t.In(i))
		}
	} else {
		for i := 1; i < t.NumIn(); i++ {
			entry.argTypes = append(entry.argTypes, t.In(i))
		}
		if t.NumOut() == 2 {
			entry.resultType = t.Out(0)
		}
	}
	return entry
}

func lookupCallable(name string) (*callableEntry, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[name]
	return e, ok
}
