package foreign

import (
	"context"

	"github.com/openzim/zimbridge/errors"
)

// Handle owns exactly one reference to a guest object. While the handle
// is alive the reference count attributable to it is exactly 1; after
// Release (or a Move away) it is 0 and the handle is null.
//
// Handles are move-only. There is deliberately no copy: a second
// reference requires an explicit Acquire.
type Handle struct {
	obj *Obj
}

// Acquire takes a new reference on obj and returns the owning handle. It
// fails with runtime_unavailable when the runtime has been closed.
func Acquire(ctx context.Context, obj *Obj) (*Handle, error) {
	if obj == nil || obj.idx == 0 {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "acquire on a released object")
	}
	_, release := obj.rt.Enter(ctx)
	defer release()

	if err := obj.rt.incref(obj.idx); err != nil {
		return nil, err
	}
	return &Handle{obj: &Obj{rt: obj.rt, idx: obj.idx}}, nil
}

// IsSet reports whether the handle still owns a reference.
func (h *Handle) IsSet() bool {
	return h != nil && h.obj != nil
}

// Release drops the handle's reference. It may be called from any
// goroutine: the runtime's execution lock is taken just for the
// decrement. Releasing a null or already-released handle is a no-op.
func (h *Handle) Release(ctx context.Context) {
	if !h.IsSet() {
		return
	}
	obj := h.obj
	h.obj = nil

	_, release := obj.rt.Enter(ctx)
	defer release()
	obj.rt.decref(obj.idx)
}

// Move transfers ownership of the reference to the returned handle
// without touching the count. The receiver becomes null and skips its
// release.
func (h *Handle) Move() *Handle {
	if !h.IsSet() {
		return &Handle{}
	}
	moved := &Handle{obj: h.obj}
	h.obj = nil
	return moved
}

// Runtime returns the hosting runtime, or nil on a null handle.
func (h *Handle) Runtime() *Runtime {
	if !h.IsSet() {
		return nil
	}
	return h.obj.rt
}

// HasMethod probes the referenced object for a named method. Callers
// should hold the execution lock (Enter) around a probe-then-call pair.
func (h *Handle) HasMethod(ctx context.Context, name string) (bool, error) {
	if !h.IsSet() {
		return false, errors.HandleNotSet(name)
	}
	rt := h.obj.rt
	_, release := rt.Enter(ctx)
	defer release()

	e := rt.entryAt(h.obj.idx)
	if e == nil {
		return false, errors.HandleNotSet(name)
	}
	return e.caller.HasMethod(name), nil
}

// Call invokes the named no-argument method under the execution lock and
// returns its raw result. A returned error carries the guest diagnostic
// verbatim; type conversion and error classification is the dispatch
// layer's job.
func (h *Handle) Call(ctx context.Context, name string) (any, error) {
	if !h.IsSet() {
		return nil, errors.HandleNotSet(name)
	}
	rt := h.obj.rt
	ctx, release := rt.Enter(ctx)
	defer release()

	e := rt.entryAt(h.obj.idx)
	if e == nil {
		return nil, errors.HandleNotSet(name)
	}
	return e.caller.Call(ctx, name)
}

// AdoptValue binds a guest value produced by another guest method (an
// interface-returning result) and hands back the handle owning its
// single reference. Safe to call with or without the execution lock
// already held.
func AdoptValue(ctx context.Context, rt *Runtime, v any) (*Handle, error) {
	_, release := rt.Enter(ctx)
	defer release()

	idx, err := rt.insertLocked(v)
	if err != nil {
		return nil, err
	}
	return &Handle{obj: &Obj{rt: rt, idx: idx}}, nil
}
