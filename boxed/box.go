package boxed

import (
	"fmt"

	"github.com/openzim/zimbridge/errors"
)

// Box holds zero or one heap-allocated T. The zero value is empty, which
// gives engine-constructed-only value types the default-constructible,
// assignable shape two-phase construction needs: declare an empty box,
// assign a populated one later.
//
// A box is move-only in spirit: Move transfers the instance and empties
// the source, and exactly one box owns a given instance at a time.
type Box[T any] struct {
	v *T
}

// New boxes v.
func New[T any](v T) Box[T] {
	return Box[T]{v: &v}
}

// IsSet reports whether the box holds an instance.
func (b *Box[T]) IsSet() bool {
	return b.v != nil
}

// Get returns the boxed instance, or not_initialized on an empty box.
func (b *Box[T]) Get() (*T, error) {
	if b.v == nil {
		var zero T
		return nil, errors.NotInitialized(fmt.Sprintf("%T", zero))
	}
	return b.v, nil
}

// MustGet returns the boxed instance. It panics on an empty box and is
// meant for call sites that have already checked IsSet.
func (b *Box[T]) MustGet() *T {
	v, err := b.Get()
	if err != nil {
		panic(err)
	}
	return v
}

// Move transfers the instance to the returned box; the receiver becomes
// empty and reads on it fail until it is assigned again.
func (b *Box[T]) Move() Box[T] {
	moved := Box[T]{v: b.v}
	b.v = nil
	return moved
}

// Clear empties the box, dropping its instance.
func (b *Box[T]) Clear() {
	b.v = nil
}
