package bridge

import (
	"context"
	"sync"

	"github.com/openzim/zimbridge"
	"github.com/openzim/zimbridge/blob"
	"github.com/openzim/zimbridge/foreign"
)

// ItemAdapter satisfies zimbridge.Item by delegating every method to a
// fixed-name dispatch on its foreign handle.
type ItemAdapter struct {
	h *foreign.Handle
}

// WrapItem takes ownership of h and returns the adapter.
func WrapItem(h *foreign.Handle) *ItemAdapter {
	return &ItemAdapter{h: h}
}

func (a *ItemAdapter) Path(ctx context.Context) (string, error) {
	return Text(ctx, a.h, "get_path")
}

func (a *ItemAdapter) Title(ctx context.Context) (string, error) {
	return Text(ctx, a.h, "get_title")
}

func (a *ItemAdapter) Mimetype(ctx context.Context) (string, error) {
	return Text(ctx, a.h, "get_mimetype")
}

func (a *ItemAdapter) ContentProvider(ctx context.Context) (zimbridge.ContentProvider, error) {
	return Provider(ctx, a.h, "get_contentprovider")
}

// Hints returns the guest hint map, or an empty map when the guest does
// not implement get_hints: hints are optional.
func (a *ItemAdapter) Hints(ctx context.Context) (map[zimbridge.Hint]uint64, error) {
	ok, err := a.h.HasMethod(ctx, "get_hints")
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[zimbridge.Hint]uint64{}, nil
	}
	return Hints(ctx, a.h, "get_hints")
}

// IndexData is optional twice over: a guest without get_indexdata and a
// guest whose get_indexdata returns nothing both mean "no index data".
func (a *ItemAdapter) IndexData(ctx context.Context) (zimbridge.IndexData, error) {
	ok, err := a.h.HasMethod(ctx, "get_indexdata")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return Index(ctx, a.h, "get_indexdata")
}

// Close releases the adapter's reference. Safe from any goroutine.
func (a *ItemAdapter) Close(ctx context.Context) {
	a.h.Release(ctx)
}

// ContentProviderAdapter satisfies zimbridge.ContentProvider through a
// foreign handle. It tracks the feed state: once the guest returns an
// empty chunk the provider is exhausted, a terminal state.
type ContentProviderAdapter struct {
	h *foreign.Handle

	mu        sync.Mutex
	exhausted bool
}

// WrapContentProvider takes ownership of h and returns the adapter.
func WrapContentProvider(h *foreign.Handle) *ContentProviderAdapter {
	return &ContentProviderAdapter{h: h}
}

func (a *ContentProviderAdapter) Size(ctx context.Context) (uint64, error) {
	return Uint64(ctx, a.h, "get_size")
}

// Feed returns the next chunk. The engine requests one item's content
// serially, so Feed is not called concurrently on one adapter; the state
// guard is still locked because exhaustion may be observed from the
// engine's draining goroutine after a submit-side error.
func (a *ContentProviderAdapter) Feed(ctx context.Context) (*blob.Blob, error) {
	a.mu.Lock()
	if a.exhausted {
		a.mu.Unlock()
		return blob.Empty(), nil
	}
	a.mu.Unlock()

	b, err := Bytes(ctx, a.h, "feed")
	if err != nil {
		return nil, err
	}
	if b.Size() == 0 {
		a.mu.Lock()
		a.exhausted = true
		a.mu.Unlock()
	}
	return b, nil
}

// Exhausted reports whether the terminating empty chunk has been seen.
func (a *ContentProviderAdapter) Exhausted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exhausted
}

// Close releases the adapter's reference. Safe from any goroutine.
func (a *ContentProviderAdapter) Close(ctx context.Context) {
	a.h.Release(ctx)
}

// IndexDataAdapter satisfies zimbridge.IndexData through a foreign
// handle.
type IndexDataAdapter struct {
	h *foreign.Handle
}

// WrapIndexData takes ownership of h and returns the adapter.
func WrapIndexData(h *foreign.Handle) *IndexDataAdapter {
	return &IndexDataAdapter{h: h}
}

func (a *IndexDataAdapter) HasIndexData(ctx context.Context) (bool, error) {
	return Boolean(ctx, a.h, "has_indexdata")
}

func (a *IndexDataAdapter) Title(ctx context.Context) (string, error) {
	return Text(ctx, a.h, "get_title")
}

func (a *IndexDataAdapter) Content(ctx context.Context) (string, error) {
	return Text(ctx, a.h, "get_content")
}

func (a *IndexDataAdapter) Keywords(ctx context.Context) (string, error) {
	return Text(ctx, a.h, "get_keywords")
}

func (a *IndexDataAdapter) WordCount(ctx context.Context) (uint32, error) {
	return Uint32(ctx, a.h, "get_wordcount")
}

func (a *IndexDataAdapter) GeoPosition(ctx context.Context) (zimbridge.GeoPosition, error) {
	return Geo(ctx, a.h, "get_geoposition")
}

// Close releases the adapter's reference. Safe from any goroutine.
func (a *IndexDataAdapter) Close(ctx context.Context) {
	a.h.Release(ctx)
}
