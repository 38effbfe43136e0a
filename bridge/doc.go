// Package bridge implements the foreign callback bridge: typed dispatch
// of named guest methods and the adapters that satisfy the native writer
// contracts purely by delegation.
//
// Virtual dispatch here is by name lookup, not by compiled interface: a
// guest object cannot be statically verified to implement anything, so
// each adapter method performs exactly one typed dispatch with a fixed
// method name (Path calls get_path, ContentProvider calls
// get_contentprovider, and so on) and the dispatcher converts the raw
// result into the declared native type.
//
// The dispatch family is the single choke point for error translation.
// Whatever goes wrong while running guest code — a missing method, a
// raise inside the guest, an unconvertible result — surfaces as a
// structured error checked immediately after the call, carrying the
// original diagnostic text, never a partial or garbage value.
package bridge
