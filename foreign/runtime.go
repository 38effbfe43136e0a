package foreign

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/openzim/zimbridge/errors"
)

// Caller is implemented by guest objects that dispatch their own methods.
// Values that do not implement Caller are dispatched by reflection.
//
// Call and HasMethod are only ever invoked under the runtime's execution
// lock.
type Caller interface {
	// HasMethod reports whether the object implements the named method.
	HasMethod(name string) bool

	// Call invokes the named no-argument method and returns its result.
	// A returned error is a failure raised inside guest code; its text is
	// preserved verbatim by the dispatch layer.
	Call(ctx context.Context, name string) (any, error)
}

// Dropper is an optional hook invoked when an object's reference count
// reaches zero.
type Dropper interface {
	Drop()
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime's logger. The default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(rt *Runtime) {
		rt.log = log
	}
}

// Runtime hosts guest objects. The zero value is not usable; construct
// with NewRuntime.
type Runtime struct {
	log *zap.Logger

	// mu is the execution lock. It also guards the object table, so
	// reference counts only ever change while guest execution is
	// excluded.
	mu       sync.Mutex
	entries  []objEntry
	freeList []uint32
	closed   bool
}

type objEntry struct {
	target any
	caller Caller
	refs   uint32
	valid  bool
}

// NewRuntime creates an empty runtime.
func NewRuntime(opts ...Option) *Runtime {
	rt := &Runtime{
		log:      zap.NewNop(),
		entries:  make([]objEntry, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

type lockToken struct{}

// Enter acquires the execution lock and returns a context carrying the
// lock token plus the matching release. A context that already carries
// this runtime's token makes Enter (and its release) a no-op, which is
// what lets guest callbacks re-enter the bridge without deadlocking.
func (rt *Runtime) Enter(ctx context.Context) (context.Context, func()) {
	if held, ok := ctx.Value(lockToken{}).(*Runtime); ok && held == rt {
		return ctx, func() {}
	}
	rt.mu.Lock()
	return context.WithValue(ctx, lockToken{}, rt), rt.mu.Unlock
}

// Held reports whether ctx carries this runtime's lock token.
func (rt *Runtime) Held(ctx context.Context) bool {
	held, ok := ctx.Value(lockToken{}).(*Runtime)
	return ok && held == rt
}

// Bind registers a guest object with an initial reference count of 1 (the
// caller's own reference, released with Obj.Release). It fails with
// runtime_unavailable once the runtime is closed.
func (rt *Runtime) Bind(ctx context.Context, v any) (*Obj, error) {
	_, release := rt.Enter(ctx)
	defer release()

	idx, err := rt.insertLocked(v)
	if err != nil {
		return nil, err
	}
	return &Obj{rt: rt, idx: idx}, nil
}

// insertLocked adds v to the object table with one reference. Callers
// must hold the execution lock.
func (rt *Runtime) insertLocked(v any) (uint32, error) {
	if rt.closed {
		return 0, errors.RuntimeUnavailable()
	}

	caller, ok := v.(Caller)
	if !ok {
		caller = reflectCaller{target: v}
	}
	e := objEntry{target: v, caller: caller, refs: 1, valid: true}

	var idx uint32
	if n := len(rt.freeList); n > 0 {
		idx = rt.freeList[n-1]
		rt.freeList = rt.freeList[:n-1]
		rt.entries[idx-1] = e
	} else {
		rt.entries = append(rt.entries, e)
		idx = uint32(len(rt.entries))
	}

	rt.log.Debug("bound guest object", zap.Uint32("obj", idx))
	return idx, nil
}

// Close marks the runtime unavailable. Subsequent Bind and Acquire calls
// fail with runtime_unavailable; outstanding references may still be
// released so objects can drain.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.closed = true
}

// Len returns the number of live guest objects.
func (rt *Runtime) Len() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n := 0
	for _, e := range rt.entries {
		if e.valid {
			n++
		}
	}
	return n
}

// entryAt returns the entry for idx. Callers must hold the lock.
func (rt *Runtime) entryAt(idx uint32) *objEntry {
	if idx == 0 || int(idx) > len(rt.entries) {
		return nil
	}
	e := &rt.entries[idx-1]
	if !e.valid {
		return nil
	}
	return e
}

// incref increments refs for idx. Callers must hold the lock.
func (rt *Runtime) incref(idx uint32) error {
	if rt.closed {
		return errors.RuntimeUnavailable()
	}
	e := rt.entryAt(idx)
	if e == nil {
		return errors.InvalidInput(errors.PhaseRuntime, "reference to a dropped guest object")
	}
	e.refs++
	return nil
}

// decref decrements refs for idx, dropping the entry at zero. Callers
// must hold the lock.
func (rt *Runtime) decref(idx uint32) {
	e := rt.entryAt(idx)
	if e == nil {
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	if e.refs > 0 {
		return
	}

	target := e.target
	e.valid = false
	e.target = nil
	e.caller = nil
	rt.freeList = append(rt.freeList, idx)
	rt.log.Debug("dropped guest object", zap.Uint32("obj", idx))

	if d, ok := target.(Dropper); ok {
		d.Drop()
	}
}
