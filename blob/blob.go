package blob

import (
	"sync/atomic"

	"github.com/openzim/zimbridge/errors"
)

// Blob is a read-only view over caller-owned memory. It never copies:
// Data returns the exact backing slice. The true owner of the memory is
// either the guest object that produced it (write path) or the engine's
// cluster storage (read path), so the owner must not deallocate while
// views are outstanding; Release enforces that.
type Blob struct {
	data     []byte
	views    atomic.Int64
	released atomic.Bool
}

// FromBytes wraps b without copying. A nil or zero-length b yields a
// valid empty blob (the end-of-stream marker on the feed path).
func FromBytes(b []byte) *Blob {
	return &Blob{data: b}
}

// Empty returns a zero-length blob.
func Empty() *Blob {
	return &Blob{}
}

// Data returns the backing bytes. Callers must treat them as read-only
// and must hold a view (BeginView) for any access that outlives the
// current call.
func (b *Blob) Data() []byte {
	return b.data
}

// Size returns the length of the view in bytes.
func (b *Blob) Size() uint64 {
	return uint64(len(b.data))
}

// BeginView registers an external exposure of the backing memory.
// Views may be ended on a different goroutine than the one that began
// them.
func (b *Blob) BeginView() {
	b.views.Add(1)
}

// EndView releases an exposure registered with BeginView.
func (b *Blob) EndView() {
	if b.views.Add(-1) < 0 {
		b.views.Add(1)
	}
}

// Views returns the number of outstanding views.
func (b *Blob) Views() int64 {
	return b.views.Load()
}

// Release invalidates the blob. It fails with buffer_still_viewed while
// views are outstanding, leaving the blob intact: proceeding would let
// the memory's owner deallocate under a live view. Releasing an already
// released blob is a no-op.
func (b *Blob) Release() error {
	if n := b.views.Load(); n > 0 {
		return errors.BufferStillViewed(n)
	}
	if b.released.CompareAndSwap(false, true) {
		b.data = nil
	}
	return nil
}

// Released reports whether Release has completed.
func (b *Blob) Released() bool {
	return b.released.Load()
}
