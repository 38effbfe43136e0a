package bridge

import (
	"context"
	"reflect"

	"github.com/openzim/zimbridge"
	"github.com/openzim/zimbridge/blob"
	"github.com/openzim/zimbridge/errors"
	"github.com/openzim/zimbridge/foreign"
)

// The typed dispatch family. Each function performs the same sequence:
// null-handle check, execution-lock entry (re-entrant), method probe,
// invocation, conversion to the declared native type. Guest failures come
// back as exactly one error kind, foreign_raised, with the guest
// diagnostic preserved verbatim; they never unwind into the engine as
// anything guest-specific.

func invoke(ctx context.Context, h *foreign.Handle, name string) (any, context.Context, func(), error) {
	noop := func() {}
	if !h.IsSet() {
		return nil, ctx, noop, errors.HandleNotSet(name)
	}
	ctx, release := h.Runtime().Enter(ctx)

	ok, err := h.HasMethod(ctx, name)
	if err != nil {
		return nil, ctx, release, err
	}
	if !ok {
		return nil, ctx, release, errors.MethodMissing(name)
	}

	v, err := h.Call(ctx, name)
	if err != nil {
		if e, isStructured := err.(*errors.Error); isStructured {
			return nil, ctx, release, e
		}
		return nil, ctx, release, errors.ForeignRaised(name, err)
	}
	return v, ctx, release, nil
}

// Text dispatches a method declared to return text.
func Text(ctx context.Context, h *foreign.Handle, name string) (string, error) {
	v, _, release, err := invoke(ctx, h, name)
	defer release()
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case nil:
		return "", nil
	default:
		return "", errors.TypeMismatch(name, "result is not text")
	}
}

// Boolean dispatches a method declared to return a boolean.
func Boolean(ctx context.Context, h *foreign.Handle, name string) (bool, error) {
	v, _, release, err := invoke(ctx, h, name)
	defer release()
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.TypeMismatch(name, "result is not a boolean")
	}
	return b, nil
}

// Uint64 dispatches a method declared to return a 64-bit integer. Any
// integer result is accepted; truncation on overflow is
// implementation-defined, not an error.
func Uint64(ctx context.Context, h *foreign.Handle, name string) (uint64, error) {
	v, _, release, err := invoke(ctx, h, name)
	defer release()
	if err != nil {
		return 0, err
	}
	n, ok := asUint64(v)
	if !ok {
		return 0, errors.TypeMismatch(name, "result is not an integer")
	}
	return n, nil
}

// Uint32 dispatches a method declared to return a 32-bit integer.
func Uint32(ctx context.Context, h *foreign.Handle, name string) (uint32, error) {
	n, err := Uint64(ctx, h, name)
	return uint32(n), err
}

// Bytes dispatches a method declared to return a buffer. An unset (nil)
// result fails with empty_result; a zero-length buffer is valid and, on
// the feed path, is the end-of-stream marker.
func Bytes(ctx context.Context, h *foreign.Handle, name string) (*blob.Blob, error) {
	v, _, release, err := invoke(ctx, h, name)
	defer release()
	if err != nil {
		return nil, err
	}
	switch b := v.(type) {
	case *blob.Blob:
		if b == nil {
			return nil, errors.EmptyResult(name)
		}
		return b, nil
	case []byte:
		return blob.FromBytes(b), nil
	case string:
		return blob.FromBytes([]byte(b)), nil
	case nil:
		return nil, errors.EmptyResult(name)
	default:
		return nil, errors.TypeMismatch(name, "result is not a buffer")
	}
}

// Provider dispatches a method declared to return a content provider,
// binding the returned guest object behind a fresh adapter. A nil result
/// fails with empty_result: every item must have a provider.
func Provider(ctx context.Context, h *foreign.Handle, name string) (zimbridge.ContentProvider, error) {
	v, ctx, release, err := invoke(ctx, h, name)
	defer release()
	if err != nil {
		return nil, err
	}
	if isNil(v) {
		return nil, errors.EmptyResult(name)
	}
	ph, err := foreign.AdoptValue(ctx, h.Runtime(), v)
	if err != nil {
		return nil, err
	}
	return WrapContentProvider(ph), nil
}

// Index dispatches a method declared to return index data. A nil result
// means "no index data" and yields (nil, nil).
func Index(ctx context.Context, h *foreign.Handle, name string) (zimbridge.IndexData, error) {
	v, ctx, release, err := invoke(ctx, h, name)
	defer release()
	if err != nil {
		return nil, err
	}
	if isNil(v) {
		return nil, nil
	}
	ih, err := foreign.AdoptValue(ctx, h.Runtime(), v)
	if err != nil {
		return nil, err
	}
	return WrapIndexData(ih), nil
}

// Hints dispatches a method declared to return a hint map. Keys that are
// not recognized hints and values that are not numeric-castable are
// silently skipped.
func Hints(ctx context.Context, h *foreign.Handle, name string) (map[zimbridge.Hint]uint64, error) {
	v, _, release, err := invoke(ctx, h, name)
	defer release()
	if err != nil {
		return nil, err
	}
	if v == nil {
		return map[zimbridge.Hint]uint64{}, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, errors.TypeMismatch(name, "result is not a map")
	}

	hints := make(map[zimbridge.Hint]uint64, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, ok := asUint64(iter.Key().Interface())
		if !ok || !zimbridge.KnownHint(zimbridge.Hint(key)) {
			continue
		}
		val, ok := asUint64(iter.Value().Interface())
		if !ok {
			continue
		}
		hints[zimbridge.Hint(key)] = val
	}
	return hints, nil
}

// Geo dispatches a method declared to return an optional geographic
// position. A nil result is the absent position (Valid=false).
func Geo(ctx context.Context, h *foreign.Handle, name string) (zimbridge.GeoPosition, error) {
	v, _, release, err := invoke(ctx, h, name)
	defer release()
	if err != nil {
		return zimbridge.GeoPosition{}, err
	}
	switch g := v.(type) {
	case nil:
		return zimbridge.GeoPosition{}, nil
	case zimbridge.GeoPosition:
		return g, nil
	case *zimbridge.GeoPosition:
		if g == nil {
			return zimbridge.GeoPosition{}, nil
		}
		return *g, nil
	case [2]float64:
		return zimbridge.GeoPosition{Latitude: g[0], Longitude: g[1], Valid: true}, nil
	default:
		return zimbridge.GeoPosition{}, errors.TypeMismatch(name, "result is not a position")
	}
}

// isNil reports whether v is nil or a nil pointer/map/slice boxed in a
// non-nil interface, which is what reflection dispatch produces when a
// guest method with a concrete return type returns nil.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

// asUint64 converts any integer-kind value, or a bool, to uint64.
// Overflow truncates.
func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case int:
		return uint64(n), true
	case int64:
		return uint64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), true
	default:
		return 0, false
	}
}
