package wasmobj

import (
	"context"
	"testing"

	"github.com/openzim/zimbridge/bridge"
	"github.com/openzim/zimbridge/errors"
	"github.com/openzim/zimbridge/foreign"
)

// sizeModule exports get_size: () -> i64 returning 10.
var sizeModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic + version
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7e, // type: () -> i64
	0x03, 0x02, 0x01, 0x00, // function: 1 func of type 0
	0x07, 0x0c, 0x01, 0x08, 'g', 'e', 't', '_', 's', 'i', 'z', 'e', 0x00, 0x00, // export
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x42, 0x0a, 0x0b, // code: i64.const 10
}

// pathModule exports get_path: () -> i64 returning ptr 0, len 2, and a
// memory holding "hi" at offset 0.
var pathModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7e, // type: () -> i64
	0x03, 0x02, 0x01, 0x00, // function: 1 func of type 0
	0x05, 0x03, 0x01, 0x00, 0x01, // memory: 1 page
	0x07, 0x15, 0x02, // export: 2 entries
	0x08, 'g', 'e', 't', '_', 'p', 'a', 't', 'h', 0x00, 0x00,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x42, 0x02, 0x0b, // code: i64.const 2 (ptr 0 | len 2)
	0x0b, 0x08, 0x01, 0x00, 0x41, 0x00, 0x0b, 0x02, 'h', 'i', // data: "hi" at 0
}

func TestScalarResult(t *testing.T) {
	ctx := context.Background()
	obj, err := Load(ctx, sizeModule, Manifest{"get_size": U64})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer obj.Drop()

	if !obj.HasMethod("get_size") {
		t.Fatalf("manifest method not reported")
	}
	if obj.HasMethod("feed") {
		t.Fatalf("undeclared method reported")
	}

	v, err := obj.Call(ctx, "get_size")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if v.(uint64) != 10 {
		t.Fatalf("get_size = %v", v)
	}
}

func TestTextResult(t *testing.T) {
	ctx := context.Background()
	obj, err := Load(ctx, pathModule, Manifest{"get_path": Text})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer obj.Drop()

	v, err := obj.Call(ctx, "get_path")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if v.(string) != "hi" {
		t.Fatalf("get_path = %q", v)
	}
}

func TestManifestMethodNotExported(t *testing.T) {
	_, err := Load(context.Background(), sizeModule, Manifest{"feed": Bytes})
	if !errors.IsKind(err, errors.KindInvalidInput) {
		t.Fatalf("missing export: got %v", err)
	}
}

func TestGarbageModule(t *testing.T) {
	_, err := Load(context.Background(), []byte{0xde, 0xad, 0xbe, 0xef}, Manifest{})
	if !errors.IsKind(err, errors.KindInvalidInput) {
		t.Fatalf("garbage module: got %v", err)
	}
}

func TestThroughForeignRuntime(t *testing.T) {
	// A wasm object dispatches through the same handle and typed
	// dispatcher as any other guest object.
	ctx := context.Background()
	obj, err := Load(ctx, sizeModule, Manifest{"get_size": U64})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	rt := foreign.NewRuntime()
	bound, err := rt.Bind(ctx, obj)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	h, err := foreign.Acquire(ctx, bound)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	bound.Release(ctx)

	size, err := bridge.Uint64(ctx, h, "get_size")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if size != 10 {
		t.Fatalf("size = %d", size)
	}

	_, err = bridge.Uint64(ctx, h, "feed")
	if !errors.IsKind(err, errors.KindMethodMissing) {
		t.Fatalf("undeclared method: got %v", err)
	}

	// Releasing the last handle drops the object and closes the module.
	h.Release(ctx)
	if _, err := obj.Call(ctx, "get_size"); err == nil {
		t.Fatalf("call succeeded on a dropped module")
	}
}
