package bridge

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/openzim/zimbridge"
	"github.com/openzim/zimbridge/errors"
	"github.com/openzim/zimbridge/foreign"
)

// chunkProvider is a guest content provider yielding fixed chunks.
type chunkProvider struct {
	size   uint64
	chunks [][]byte
	next   int
}

func (p *chunkProvider) GetSize() uint64 {
	return p.size
}

func (p *chunkProvider) Feed() []byte {
	if p.next >= len(p.chunks) {
		return []byte{}
	}
	c := p.chunks[p.next]
	p.next++
	return c
}

// guestItem is a reflection-dispatched guest item.
type guestItem struct {
	path     string
	title    string
	mimetype string
	provider *chunkProvider
	index    *guestIndex
}

func (g *guestItem) GetPath() string     { return g.path }
func (g *guestItem) GetTitle() string    { return g.title }
func (g *guestItem) GetMimetype() string { return g.mimetype }

func (g *guestItem) GetContentprovider() *chunkProvider { return g.provider }

func (g *guestItem) GetHints() map[int]uint64 {
	return map[int]uint64{
		int(zimbridge.HintCompress):     1,
		int(zimbridge.HintFrontArticle): 1,
		99:                              7, // unrecognized, must be skipped
	}
}

func (g *guestItem) GetIndexdata() *guestIndex { return g.index }

type guestIndex struct {
	content string
	geo     *zimbridge.GeoPosition
}

func (g *guestIndex) HasIndexdata() bool { return true }
func (g *guestIndex) GetTitle() string   { return "t" }
func (g *guestIndex) GetContent() string { return g.content }
func (g *guestIndex) GetKeywords() string {
	return "alpha beta"
}
func (g *guestIndex) GetWordcount() uint32 { return 2 }
func (g *guestIndex) GetGeoposition() *zimbridge.GeoPosition {
	return g.geo
}

func wrapGuest(t *testing.T, rt *foreign.Runtime, v any) *foreign.Handle {
	t.Helper()
	ctx := context.Background()
	obj, err := rt.Bind(ctx, v)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	h, err := foreign.Acquire(ctx, obj)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	obj.Release(ctx)
	return h
}

func TestItemAdapter_Dispatch(t *testing.T) {
	ctx := context.Background()
	rt := foreign.NewRuntime()
	item := WrapItem(wrapGuest(t, rt, &guestItem{
		path:     "home",
		title:    "Home",
		mimetype: "text/html",
		provider: &chunkProvider{size: 3, chunks: [][]byte{[]byte("abc")}},
	}))
	defer item.Close(ctx)

	if p, err := item.Path(ctx); err != nil || p != "home" {
		t.Fatalf("Path = %q, %v", p, err)
	}
	if ti, err := item.Title(ctx); err != nil || ti != "Home" {
		t.Fatalf("Title = %q, %v", ti, err)
	}
	if m, err := item.Mimetype(ctx); err != nil || m != "text/html" {
		t.Fatalf("Mimetype = %q, %v", m, err)
	}

	hints, err := item.Hints(ctx)
	if err != nil {
		t.Fatalf("Hints: %v", err)
	}
	if len(hints) != 2 {
		t.Fatalf("hints = %v: unrecognized keys must be skipped", hints)
	}
	if hints[zimbridge.HintCompress] != 1 {
		t.Fatalf("hints missing COMPRESS: %v", hints)
	}
}

func TestContentProviderAdapter_DrainExact(t *testing.T) {
	// get_size 10, feed yields 4, 4, 2, 0: exactly 10 bytes across the
	// three non-empty calls, then the terminating empty chunk once.
	ctx := context.Background()
	rt := foreign.NewRuntime()
	prov := WrapContentProvider(wrapGuest(t, rt, &chunkProvider{
		size: 10,
		chunks: [][]byte{
			[]byte("aaaa"), []byte("bbbb"), []byte("cc"),
		},
	}))
	defer prov.Close(ctx)

	size, err := prov.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 10 {
		t.Fatalf("Size = %d, want 10", size)
	}

	var total uint64
	var nonEmpty int
	for {
		b, err := prov.Feed(ctx)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if b.Size() == 0 {
			break
		}
		nonEmpty++
		total += b.Size()
	}

	if total != size {
		t.Fatalf("drained %d bytes, Size reported %d", total, size)
	}
	if nonEmpty != 3 {
		t.Fatalf("%d non-empty chunks, want 3", nonEmpty)
	}
	if !prov.Exhausted() {
		t.Fatalf("provider not exhausted after the empty chunk")
	}

	// Exhausted is terminal.
	b, err := prov.Feed(ctx)
	if err != nil || b.Size() != 0 {
		t.Fatalf("Feed after exhaustion = %d bytes, %v", b.Size(), err)
	}
}

func TestItemAdapter_ContentProviderChain(t *testing.T) {
	ctx := context.Background()
	rt := foreign.NewRuntime()
	item := WrapItem(wrapGuest(t, rt, &guestItem{
		provider: &chunkProvider{size: 2, chunks: [][]byte{[]byte("hi")}},
	}))
	defer item.Close(ctx)

	cp, err := item.ContentProvider(ctx)
	if err != nil {
		t.Fatalf("ContentProvider: %v", err)
	}
	b, err := cp.Feed(ctx)
	if err != nil {
		t.Fatalf("Feed through chained adapter: %v", err)
	}
	if string(b.Data()) != "hi" {
		t.Fatalf("Feed = %q", b.Data())
	}
}

type itemWithoutProvider struct{}

func (itemWithoutProvider) GetPath() string { return "x" }

func TestDispatch_MethodMissing(t *testing.T) {
	ctx := context.Background()
	rt := foreign.NewRuntime()
	item := WrapItem(wrapGuest(t, rt, itemWithoutProvider{}))
	defer item.Close(ctx)

	_, err := item.ContentProvider(ctx)
	if !errors.IsKind(err, errors.KindMethodMissing) {
		t.Fatalf("missing get_contentprovider: got %v, want method_missing", err)
	}
	if !strings.Contains(err.Error(), "get_contentprovider") {
		t.Fatalf("error does not name the missing method: %v", err)
	}
}

type nilProviderItem struct{}

func (nilProviderItem) GetContentprovider() *chunkProvider { return nil }

func TestDispatch_EmptyResult(t *testing.T) {
	ctx := context.Background()
	rt := foreign.NewRuntime()
	item := WrapItem(wrapGuest(t, rt, nilProviderItem{}))
	defer item.Close(ctx)

	_, err := item.ContentProvider(ctx)
	if !errors.IsKind(err, errors.KindEmptyResult) {
		t.Fatalf("nil provider: got %v, want empty_result", err)
	}
}

type raisingItem struct{}

func (raisingItem) GetPath() (string, error) {
	return "", fmt.Errorf("database on fire")
}
func (raisingItem) GetTitle() string { return "ok" }

func TestDispatch_ForeignRaised(t *testing.T) {
	ctx := context.Background()
	rt := foreign.NewRuntime()
	item := WrapItem(wrapGuest(t, rt, raisingItem{}))
	defer item.Close(ctx)

	_, err := item.Path(ctx)
	if !errors.IsKind(err, errors.KindForeignRaised) {
		t.Fatalf("guest raise: got %v, want foreign_raised", err)
	}
	if !strings.Contains(err.Error(), "database on fire") {
		t.Fatalf("guest diagnostic lost: %v", err)
	}

	// The handle stays usable for subsequent, unrelated calls.
	if ti, err := item.Title(ctx); err != nil || ti != "ok" {
		t.Fatalf("adapter broken after guest raise: %q, %v", ti, err)
	}
}

func TestDispatch_NullHandle(t *testing.T) {
	ctx := context.Background()
	var h *foreign.Handle
	_, err := Text(ctx, h, "get_path")
	if !errors.IsKind(err, errors.KindHandleNotSet) {
		t.Fatalf("null handle: got %v, want handle_not_set", err)
	}
}

func TestIndexData_AbsentMethod(t *testing.T) {
	ctx := context.Background()
	rt := foreign.NewRuntime()
	item := WrapItem(wrapGuest(t, rt, itemWithoutProvider{}))
	defer item.Close(ctx)

	idx, err := item.IndexData(ctx)
	if err != nil {
		t.Fatalf("IndexData on guest without the method: %v", err)
	}
	if idx != nil {
		t.Fatalf("want no index data, got %v", idx)
	}
}

func TestIndexData_NilReturn(t *testing.T) {
	// A present get_indexdata returning nothing also means "no index
	// data"; it is not distinguished from an absent method.
	ctx := context.Background()
	rt := foreign.NewRuntime()
	item := WrapItem(wrapGuest(t, rt, &guestItem{index: nil}))
	defer item.Close(ctx)

	idx, err := item.IndexData(ctx)
	if err != nil {
		t.Fatalf("IndexData: %v", err)
	}
	if idx != nil {
		t.Fatalf("nil-returning get_indexdata must yield no index data")
	}
}

func TestIndexDataAdapter_Dispatch(t *testing.T) {
	ctx := context.Background()
	rt := foreign.NewRuntime()
	item := WrapItem(wrapGuest(t, rt, &guestItem{
		index: &guestIndex{
			content: "lorem ipsum",
			geo:     &zimbridge.GeoPosition{Latitude: 48.85, Longitude: 2.35, Valid: true},
		},
	}))
	defer item.Close(ctx)

	idx, err := item.IndexData(ctx)
	if err != nil {
		t.Fatalf("IndexData: %v", err)
	}
	if idx == nil {
		t.Fatalf("index data expected")
	}

	if has, err := idx.HasIndexData(ctx); err != nil || !has {
		t.Fatalf("HasIndexData = %v, %v", has, err)
	}
	if c, err := idx.Content(ctx); err != nil || c != "lorem ipsum" {
		t.Fatalf("Content = %q, %v", c, err)
	}
	if wc, err := idx.WordCount(ctx); err != nil || wc != 2 {
		t.Fatalf("WordCount = %d, %v", wc, err)
	}
	geo, err := idx.GeoPosition(ctx)
	if err != nil {
		t.Fatalf("GeoPosition: %v", err)
	}
	if !geo.Valid || geo.Latitude != 48.85 {
		t.Fatalf("GeoPosition = %+v", geo)
	}
}

func TestGeo_Absent(t *testing.T) {
	ctx := context.Background()
	rt := foreign.NewRuntime()
	item := WrapItem(wrapGuest(t, rt, &guestItem{
		index: &guestIndex{geo: nil},
	}))
	defer item.Close(ctx)

	idx, err := item.IndexData(ctx)
	if err != nil {
		t.Fatalf("IndexData: %v", err)
	}
	geo, err := idx.GeoPosition(ctx)
	if err != nil {
		t.Fatalf("GeoPosition: %v", err)
	}
	if geo.Valid {
		t.Fatalf("absent position reported as valid: %+v", geo)
	}
}

func TestHints_TextResultRejected(t *testing.T) {
	ctx := context.Background()
	rt := foreign.NewRuntime()
	h := wrapGuest(t, rt, &callerMap{methods: map[string]any{"get_hints": "nope"}})
	defer h.Release(ctx)

	_, err := Hints(ctx, h, "get_hints")
	if !errors.IsKind(err, errors.KindTypeMismatch) {
		t.Fatalf("non-map hints: got %v, want type_mismatch", err)
	}
}

// callerMap dispatches from a literal method map, exercising the Caller
// path next to the reflection path.
type callerMap struct {
	methods map[string]any
}

func (c *callerMap) HasMethod(name string) bool {
	_, ok := c.methods[name]
	return ok
}

func (c *callerMap) Call(_ context.Context, name string) (any, error) {
	v, ok := c.methods[name]
	if !ok {
		return nil, fmt.Errorf("method %s not implemented", name)
	}
	if f, isFunc := v.(func() (any, error)); isFunc {
		return f()
	}
	return v, nil
}

func TestDispatch_CallerObject(t *testing.T) {
	ctx := context.Background()
	rt := foreign.NewRuntime()
	h := wrapGuest(t, rt, &callerMap{methods: map[string]any{
		"get_path": "from-caller",
		"get_size": uint64(7),
	}})
	defer h.Release(ctx)

	if p, err := Text(ctx, h, "get_path"); err != nil || p != "from-caller" {
		t.Fatalf("Text = %q, %v", p, err)
	}
	if n, err := Uint64(ctx, h, "get_size"); err != nil || n != 7 {
		t.Fatalf("Uint64 = %d, %v", n, err)
	}
}
