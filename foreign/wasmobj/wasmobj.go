// Package wasmobj exposes a WebAssembly module as a foreign object.
//
// Core modules carry no result-type metadata, so callers declare method
// result kinds up front in a Manifest. Scalars are read straight from the
// single wasm result; text and byte results use a packed i64 convention,
// pointer in the high 32 bits and length in the low 32, resolved against
// the module's exported memory and copied out.
package wasmobj

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/openzim/zimbridge/errors"
)

// Kind declares how a method's wasm result is interpreted.
type Kind int

const (
	U64 Kind = iota
	U32
	Bool
	Text
	Bytes
)

// Manifest maps exported function names to their declared result kinds.
// Only listed functions are callable through the object.
type Manifest map[string]Kind

// Option configures Load.
type Option func(*Object)

// WithLogger installs a logger. The default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Object) {
		if log != nil {
			o.log = log
		}
	}
}

// Object is one instantiated wasm module acting as a guest object. It
// implements foreign.Caller for dispatch and foreign.Dropper so the
// module is closed when its refcount reaches zero.
type Object struct {
	log      *zap.Logger
	rt       wazero.Runtime
	mod      api.Module
	manifest Manifest
}

// Load compiles and instantiates wasmBytes on a private interpreter
// runtime. Every manifest method must be exported by the module.
func Load(ctx context.Context, wasmBytes []byte, manifest Manifest, opts ...Option) (*Object, error) {
	o := &Object{log: zap.NewNop(), manifest: manifest}
	for _, opt := range opts {
		opt(o)
	}

	o.rt = wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	mod, err := o.rt.Instantiate(ctx, wasmBytes)
	if err != nil {
		o.rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseGuest, errors.KindInvalidInput, err, "instantiate module")
	}
	o.mod = mod

	for name := range manifest {
		if mod.ExportedFunction(name) == nil {
			o.rt.Close(ctx)
			return nil, errors.InvalidInput(errors.PhaseGuest,
				fmt.Sprintf("manifest method %q is not exported by the module", name))
		}
	}
	return o, nil
}

// HasMethod reports whether name is declared in the manifest.
func (o *Object) HasMethod(name string) bool {
	_, ok := o.manifest[name]
	return ok
}

// Call invokes the exported function behind name and converts its result
// per the manifest.
func (o *Object) Call(ctx context.Context, name string) (any, error) {
	kind, ok := o.manifest[name]
	if !ok {
		return nil, fmt.Errorf("method %q not in manifest", name)
	}
	fn := o.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("method %q not exported", name)
	}

	results, err := fn.Call(ctx)
	if err != nil {
		// Traps and host aborts surface as the guest's own failure text.
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("method %q returned no result", name)
	}
	raw := results[0]

	switch kind {
	case U64:
		return raw, nil
	case U32:
		return uint32(raw), nil
	case Bool:
		return raw != 0, nil
	case Text:
		data, err := o.readPacked(name, raw)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case Bytes:
		return o.readPacked(name, raw)
	default:
		return nil, fmt.Errorf("method %q has unknown result kind %d", name, kind)
	}
}

// readPacked resolves a ptr<<32|len result against guest memory. The
// bytes are copied out: guest memory may move on growth and the module
// may be dropped while the result is still in use.
func (o *Object) readPacked(name string, packed uint64) ([]byte, error) {
	ptr := uint32(packed >> 32)
	length := uint32(packed)
	if length == 0 {
		return []byte{}, nil
	}

	mem := o.mod.Memory()
	if mem == nil {
		return nil, fmt.Errorf("method %q returned a memory result but the module exports no memory", name)
	}
	view, ok := mem.Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("method %q result %d+%d is outside guest memory", name, ptr, length)
	}
	return append([]byte(nil), view...), nil
}

// Drop closes the module and its runtime. Invoked by the foreign runtime
// when the object's refcount reaches zero.
func (o *Object) Drop() {
	ctx := context.Background()
	if err := o.rt.Close(ctx); err != nil {
		o.log.Warn("wasm runtime close failed", zap.Error(err))
	}
}
