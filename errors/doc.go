// Package errors provides structured error types for the zimbridge library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Every failure that originates inside guest code is converted at
// the dispatch boundary into exactly one kind, foreign_raised, carrying the
// guest diagnostic verbatim; it never unwinds through engine internals as a
// guest-specific failure.
//
// Use the convenience constructors for common patterns:
//
//	err := errors.MethodMissing("get_path")
//	err := errors.SessionNotStarted("add_item")
//
// All errors implement the standard error interface and support errors.Is/As.
// Two *Error values match on Phase and Kind; IsKind matches on Kind alone.
package errors
