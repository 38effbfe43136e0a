package foreign

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// Obj identifies one guest object bound into a Runtime. The Obj returned
// by Bind carries the caller's own reference; further references are
// taken with Acquire.
type Obj struct {
	rt  *Runtime
	idx uint32
}

// Runtime returns the hosting runtime.
func (o *Obj) Runtime() *Runtime {
	return o.rt
}

// Release drops the caller's own reference (the one Bind created). The
// object is freed once every handle referencing it is released too.
func (o *Obj) Release(ctx context.Context) {
	if o == nil || o.idx == 0 {
		return
	}
	_, release := o.rt.Enter(ctx)
	defer release()
	o.rt.decref(o.idx)
	o.idx = 0
}

// RefCount returns the current reference count, 0 if the object has been
// dropped. Intended for tests and diagnostics.
func (o *Obj) RefCount(ctx context.Context) uint32 {
	if o == nil || o.idx == 0 {
		return 0
	}
	_, release := o.rt.Enter(ctx)
	defer release()
	e := o.rt.entryAt(o.idx)
	if e == nil {
		return 0
	}
	return e.refs
}

// reflectCaller dispatches method names against an arbitrary Go value:
// get_path resolves to a GetPath method taking no arguments or a single
// context, returning T or (T, error).
type reflectCaller struct {
	target any
}

func (c reflectCaller) HasMethod(name string) bool {
	rv := reflect.ValueOf(c.target)
	return rv.IsValid() && rv.MethodByName(toCamelCase(name)).IsValid()
}

func (c reflectCaller) Call(ctx context.Context, name string) (result any, err error) {
	rv := reflect.ValueOf(c.target)
	if !rv.IsValid() {
		return nil, fmt.Errorf("no guest value bound")
	}
	method := rv.MethodByName(toCamelCase(name))
	if !method.IsValid() {
		return nil, fmt.Errorf("method %s not implemented", name)
	}

	mt := method.Type()
	var args []reflect.Value
	switch mt.NumIn() {
	case 0:
	case 1:
		if mt.In(0) != ctxType {
			return nil, fmt.Errorf("method %s takes unsupported arguments", name)
		}
		args = []reflect.Value{reflect.ValueOf(ctx)}
	default:
		return nil, fmt.Errorf("method %s takes unsupported arguments", name)
	}
	if mt.NumOut() > 2 {
		return nil, fmt.Errorf("method %s returns more than (value, error)", name)
	}

	// A panic inside guest code is a raise, not a crash of the host.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%v", r)
		}
	}()

	out := method.Call(args)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if mt.Out(0) == errType {
			return nil, toError(out[0])
		}
		return out[0].Interface(), nil
	default:
		if mt.Out(1) != errType {
			return nil, fmt.Errorf("method %s: second return value is not error", name)
		}
		return out[0].Interface(), toError(out[1])
	}
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

func toError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}

// toCamelCase converts snake_case method names to exported PascalCase:
// get_mimetype -> GetMimetype.
func toCamelCase(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
