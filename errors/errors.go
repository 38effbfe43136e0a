package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseDispatch Phase = "dispatch" // typed dispatch into a guest method
	PhaseRuntime  Phase = "runtime"  // foreign runtime / handle management
	PhaseSession  Phase = "session"  // archive-construction lifecycle
	PhaseBuffer   Phase = "buffer"   // zero-copy buffer views
	PhaseGuest    Phase = "guest"    // wasm guest loading / invocation
	PhaseEngine   Phase = "engine"   // archive engine write path
	PhaseRead     Phase = "read"     // archive engine read path
)

// Kind categorizes the error
type Kind string

const (
	KindHandleNotSet            Kind = "handle_not_set"
	KindMethodMissing           Kind = "method_missing"
	KindForeignRaised           Kind = "foreign_raised"
	KindEmptyResult             Kind = "empty_result"
	KindSessionNotStarted       Kind = "session_not_started"
	KindSessionAlreadyStarted   Kind = "session_already_started"
	KindSessionAlreadyFinalized Kind = "session_already_finalized"
	KindBufferStillViewed       Kind = "buffer_still_viewed"
	KindRuntimeUnavailable      Kind = "runtime_unavailable"
	KindNotInitialized          Kind = "not_initialized"
	KindInvalidInput            Kind = "invalid_input"
	KindDuplicateEntry          Kind = "duplicate_entry"
	KindNotFound                Kind = "not_found"
	KindCorruptData             Kind = "corrupt_data"
	KindTypeMismatch            Kind = "type_mismatch"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Method string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Method != "" {
		b.WriteString(" in ")
		b.WriteString(e.Method)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// Two *Error values match on Phase and Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// IsKind reports whether err (or anything it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == k {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Convenience constructors for common error patterns

// HandleNotSet reports a dispatch attempted through a null handle.
func HandleNotSet(method string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindHandleNotSet,
		Method: method,
		Detail: "foreign object not set",
	}
}

// MethodMissing reports a required guest method that is not implemented.
func MethodMissing(method string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindMethodMissing,
		Method: method,
		Detail: fmt.Sprintf("the method %s must be implemented", method),
	}
}

// ForeignRaised wraps a failure raised inside guest code.
// The guest diagnostic is preserved verbatim.
func ForeignRaised(method string, cause error) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindForeignRaised,
		Method: method,
		Detail: fmt.Sprintf("the method %s raised", method),
		Cause:  cause,
	}
}

// EmptyResult reports a guest method that must return a populated value
// but returned an unset one.
func EmptyResult(method string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindEmptyResult,
		Method: method,
		Detail: "unset value returned where a populated one is required",
	}
}

// RuntimeUnavailable reports an acquire against a closed runtime.
func RuntimeUnavailable() *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindRuntimeUnavailable,
		Detail: "foreign runtime is shut down",
	}
}

// SessionNotStarted reports a submission made before Start.
func SessionNotStarted(op string) *Error {
	return &Error{
		Phase:  PhaseSession,
		Kind:   KindSessionNotStarted,
		Detail: fmt.Sprintf("%s requires a started session", op),
	}
}

// SessionAlreadyStarted reports a configuration call made after Start.
func SessionAlreadyStarted(op string) *Error {
	return &Error{
		Phase:  PhaseSession,
		Kind:   KindSessionAlreadyStarted,
		Detail: fmt.Sprintf("%s is only legal before the session starts", op),
	}
}

// SessionAlreadyFinalized reports an operation on a finalized session.
func SessionAlreadyFinalized(op string) *Error {
	return &Error{
		Phase:  PhaseSession,
		Kind:   KindSessionAlreadyFinalized,
		Detail: fmt.Sprintf("%s: session already finalized", op),
	}
}

// BufferStillViewed reports a buffer released while views of its memory
// are still outstanding. This is a lifetime violation, never ignored.
func BufferStillViewed(views int64) *Error {
	return &Error{
		Phase:  PhaseBuffer,
		Kind:   KindBufferStillViewed,
		Detail: fmt.Sprintf("%d view(s) still active", views),
	}
}

// NotInitialized reports a read on an empty value box.
func NotInitialized(what string) *Error {
	return &Error{
		Phase:  PhaseRead,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", what),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// DuplicateEntry reports a path, metadata name or illustration size
// submitted twice in one session.
func DuplicateEntry(what, key string) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindDuplicateEntry,
		Detail: fmt.Sprintf("%s %q already present", what, key),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Corrupt reports an archive that fails a structural self-check.
func Corrupt(detail string) *Error {
	return &Error{
		Phase:  PhaseRead,
		Kind:   KindCorruptData,
		Detail: detail,
	}
}

// TypeMismatch reports a guest result that cannot be converted to the
// declared native type.
func TypeMismatch(method, detail string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindTypeMismatch,
		Method: method,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
