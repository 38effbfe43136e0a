// Package foreign models the guest side of the bridge: a runtime hosting
// reference-counted guest objects behind a single execution lock.
//
// Guest objects expose no-argument methods looked up by name, not by
// compiled interface. A plain Go value is dispatched by reflection
// (get_path resolves to a GetPath method); anything implementing Caller
// dispatches itself, which is how WebAssembly-hosted objects plug in (see
// the wasmobj subpackage).
//
// # Execution lock
//
// Only one goroutine at a time may execute guest code. Every call into a
// guest object — method dispatch, reference acquire, reference release —
// runs under the runtime's execution lock, acquired for the minimal span
// around the call. The lock is re-entrant through the context: Enter
// returns a context carrying the lock token, and a nested Enter with that
// context is a no-op. Native-only work must never run under the lock.
//
// # Handles
//
// A Handle owns exactly one reference to a guest object. Acquire
// increments the object's reference count and Release decrements it, from
// any goroutine, taking the execution lock just for the count update.
// Handles move, they do not copy: a second reference always requires an
// explicit Acquire.
package foreign
