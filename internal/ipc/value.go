package ipc

import (
	"encoding/gob"
	"fmt"
	"reflect"
)

// Register makes a concrete type transportable as a gob-encoded
// interface{} value inside SubmissionFrame.Args / ResultFrame.Payload.
// Host code must call this once (typically from an init func alongside
// pool.Register) for every argument and result type it submits, the same
// way encoding/gob requires for any interface value. This is also what
// lets Submit reject an unregistered, non-transportable type
// synchronously as a Transport error instead of failing later inside a
// worker.
func Register(v any) {
	gob.Register(v)
}

// assign copies the dynamic value v (as produced by DecodeValue's gob
// round-trip) into out, which must be a non-nil pointer of a compatible
// type. This mirrors how encoding/json's Unmarshal targets a pointer,
// letting callers keep using concrete types instead of any.
func assign(v any, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("ipc: assign target must be a non-nil pointer, got %T", out)
	}

	elem := rv.Elem()
	val := reflect.ValueOf(v)

	if !val.IsValid() {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}

	if val.Type().AssignableTo(elem.Type()) {
		elem.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(elem.Type()) {
		elem.Set(val.Convert(elem.Type()))
		return nil
	}

	return fmt.Errorf("ipc: cannot assign decoded value of type %s into %s", val.Type(), elem.Type())
}
