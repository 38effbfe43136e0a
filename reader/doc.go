// Package reader is the read-side facade over an archive backend.
//
// Entry, Item and SuggestionItem are archive-constructed value types: the
// zero value is unset, reads on it fail not_initialized, and ownership
// transfers with Move rather than copying. Item content is served as a
// view over backend-owned bytes; no copy is made and the backend refuses
// to close while views are live.
package reader
