// Package boxed provides Box[T], a move-only optional box for values that
// cannot exist in a meaningful "empty then assigned" two-step on their own.
//
// The engine's read-side value types (entries, items, suggestion results)
// are engine-constructed only: they are always valid once produced and have
// no useful zero state. Generated glue and facade structs still want a
// default-constructible member to assign into, and Box supplies that shape
// once, generically, instead of per-type wrapper duplication.
package boxed
