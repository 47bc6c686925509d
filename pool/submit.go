package pool

import (
	"context"
	"reflect"
)

type submitOptions struct {
	args      []any
	streaming bool
	handler   ResultHandler
}

// SubmitOption configures one call to Submit.
type SubmitOption func(*submitOptions)

// WithArgs supplies the callable's arguments, in declaration order (after
// the leading context.Context).
func WithArgs(args ...any) SubmitOption {
	return func(o *submitOptions) { o.args = args }
}

// WithStreaming marks the submission as targeting a callable registered
// with RegisterStreaming, so results are delivered to the handler as a
// sequence ending in a StreamEnd frame rather than a single Value frame.
func WithStreaming() SubmitOption {
	return func(o *submitOptions) { o.streaming = true }
}

// WithHandler supplies a custom ResultHandler; without it, Submit uses a
// DefaultResultHandler that keeps only the last delivered value.
func WithHandler(h ResultHandler) SubmitOption {
	return func(o *submitOptions) { o.handler = h }
}

func resolveSubmitOptions(opts ...SubmitOption) *submitOptions {
	so := &submitOptions{}
	for _, opt := range opts {
		opt(so)
	}
	return so
}

// runInline executes entry synchronously in the calling process, for
// fail-open Submit calls made while offload is unavailable. The returned
// Future is already in a terminal state by the time Submit returns it.
func (p *Pool) runInline(entry *callableEntry, so *submitOptions) (*Future, error) {
	id := p.nextID.Add(1)
	handler := so.handler
	if handler == nil {
		handler = NewDefaultResultHandler()
	}
	f := newFuture(id, p, handler, so.streaming)
	f.dispatched = true
	f.state = FutureRunning

	ctx := context.Background()
	in := make([]reflect.Value, 0, len(so.args)+2)
	in = append(in, reflect.ValueOf(ctx))
	for i, a := range so.args {
		if i >= len(entry.argTypes) {
			f.complete(FutureFailed, &WorkError{Kind: KindTransport, Message: "too many arguments"})
			return f, nil
		}
		in = append(in, reflect.ValueOf(a))
	}

	if entry.streaming {
		yield := reflect.MakeFunc(
			reflect.FuncOf([]reflect.Type{entry.resultYieldType()}, []reflect.Type{reflect.TypeOf(true)}, false),
			func(args []reflect.Value) []reflect.Value {
				f.deliver(args[0].Interface())
				return []reflect.Value{reflect.ValueOf(true)}
			},
		)
		in = append(in, yield)
		out := entry.fn.Call(in)
		if err, _ := out[0].Interface().(error); err != nil {
			f.complete(FutureFailed, toWorkError(err))
			return f, nil
		}
		f.complete(FutureDone, nil)
		return f, nil
	}

	out := entry.fn.Call(in)
	var result any
	if len(out) > 0 {
		result = out[0].Interface()
	}
	if len(out) > 1 {
		if err, _ := out[1].Interface().(error); err != nil {
			f.complete(FutureFailed, toWorkError(err))
			return f, nil
		}
	}
	f.deliver(result)
	f.complete(FutureDone, nil)
	return f, nil
}

func toWorkError(err error) error {
	if we, ok := err.(*WorkError); ok {
		return we
	}
	return &WorkError{Kind: KindUserFailure, Message: err.Error()}
}

// resultYieldType is unused for non-streaming entries; for streaming
// entries it is the element type of the yield func(V) bool argument,
// inferred from the registered function's last parameter.
func (e *callableEntry) resultYieldType() reflect.Type {
	yieldType := e.fn.Type().In(e.fn.Type().NumIn() - 1)
	return yieldType.In(0)
}
