// Package zimbridge bridges guest-hosted content logic with a native
// archive-building engine.
//
// Logic written against a dynamic, reference-counted guest runtime supplies
// content and metadata to a statically typed, concurrent archive engine;
// the engine in turn exposes its read-only, engine-constructed value types
// back to callers without unsafe copies.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	zimbridge/        Root package with the writer contracts (Item,
//	                  ContentProvider, IndexData) and engine interfaces
//	├── foreign/      Guest runtime: execution lock, refcounted object
//	│   │             table, owned handles
//	│   └── wasmobj/  WebAssembly guest objects executed under wazero
//	├── bridge/       Typed dispatcher and the adapters that implement
//	│                 the writer contracts by name-based dispatch
//	├── creator/      Archive-construction session state machine
//	├── reader/       Read-side facade over an opened archive
//	├── clusterfile/  Reference engine: clustered, compressed container
//	├── blob/         Zero-copy view-counted buffers
//	├── boxed/        Move-only value boxes for engine-constructed types
//	└── errors/       Structured error types
//
// # Write path
//
// Guest objects are bound into a foreign.Runtime, wrapped in bridge
// adapters and submitted through a creator.Creator session:
//
//	rt := foreign.NewRuntime()
//	defer rt.Close()
//
//	c := creator.New(clusterfile.New(), "out.zba")
//	c.ConfigCompression(zimbridge.CompressionZstd).ConfigNbWorkers(4)
//	if err := c.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.AddItem(ctx, myItem); err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.Finish(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The engine's workers pull content concurrently; every call back into
// guest code passes through the foreign runtime's execution lock, so guest
// throughput is single-threaded even while cluster assembly parallelizes.
//
// # Read path
//
//	a, err := reader.OpenFile("out.zba")
//	entry, err := a.EntryByPath(ctx, "home")
//	item, err := entry.Item(ctx)
//	data, err := item.Data(ctx) // zero-copy blob view
//
// # Thread safety
//
// Runtime, Creator and Archive are safe for concurrent use. Handles may be
// released from any goroutine. Blob views are read-only; their view counts
// are atomic.
package zimbridge
