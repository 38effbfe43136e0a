// Package blob provides zero-copy, view-counted byte buffers.
//
// A Blob borrows memory owned by someone else and tracks how many external
// views of that memory exist. The view count must be zero before Release
// succeeds; a still-viewed release is reported as a usage error rather than
// silently ignored, because the backing memory's owner may deallocate it
// concurrently.
//
// A zero-length blob is valid and, on the content feed path, signals end of
// stream. "Unset" (the condition the dispatcher reports as empty_result) is
// a nil *Blob, not a zero-length one.
package blob
