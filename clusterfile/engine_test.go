package clusterfile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/openzim/zimbridge"
	"github.com/openzim/zimbridge/blob"
	"github.com/openzim/zimbridge/errors"
)

// testItem implements zimbridge.Item natively for engine tests.
type testItem struct {
	path     string
	title    string
	mimetype string
	content  []byte
	chunk    int
	hints    map[zimbridge.Hint]uint64
	index    *testIndex

	// declaredSize overrides the real size when nonzero, to provoke a
	// size mismatch.
	declaredSize uint64

	indexCalls atomic.Int32
}

func (t *testItem) Path(context.Context) (string, error)     { return t.path, nil }
func (t *testItem) Title(context.Context) (string, error)    { return t.title, nil }
func (t *testItem) Mimetype(context.Context) (string, error) { return t.mimetype, nil }

func (t *testItem) ContentProvider(context.Context) (zimbridge.ContentProvider, error) {
	size := uint64(len(t.content))
	if t.declaredSize != 0 {
		size = t.declaredSize
	}
	chunk := t.chunk
	if chunk <= 0 {
		chunk = 1 << 12
	}
	return &testProvider{size: size, rest: t.content, chunk: chunk}, nil
}

func (t *testItem) Hints(context.Context) (map[zimbridge.Hint]uint64, error) {
	if t.hints == nil {
		return map[zimbridge.Hint]uint64{}, nil
	}
	return t.hints, nil
}

func (t *testItem) IndexData(context.Context) (zimbridge.IndexData, error) {
	t.indexCalls.Add(1)
	if t.index == nil {
		return nil, nil
	}
	return t.index, nil
}

type testProvider struct {
	size  uint64
	rest  []byte
	chunk int
}

func (p *testProvider) Size(context.Context) (uint64, error) { return p.size, nil }

func (p *testProvider) Feed(context.Context) (*blob.Blob, error) {
	if len(p.rest) == 0 {
		return blob.Empty(), nil
	}
	n := p.chunk
	if n > len(p.rest) {
		n = len(p.rest)
	}
	out := p.rest[:n]
	p.rest = p.rest[n:]
	return blob.FromBytes(out), nil
}

type testIndex struct {
	title   string
	content string
	geo     zimbridge.GeoPosition
}

func (i *testIndex) HasIndexData(context.Context) (bool, error) { return true, nil }
func (i *testIndex) Title(context.Context) (string, error)      { return i.title, nil }
func (i *testIndex) Content(context.Context) (string, error)    { return i.content, nil }
func (i *testIndex) Keywords(context.Context) (string, error)   { return "", nil }
func (i *testIndex) WordCount(context.Context) (uint32, error)  { return 2, nil }
func (i *testIndex) GeoPosition(context.Context) (zimbridge.GeoPosition, error) {
	return i.geo, nil
}

func buildPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.zcf")
}

func start(t *testing.T, path string, cfg zimbridge.CreatorConfig) zimbridge.Creation {
	t.Helper()
	c, err := NewEngine().StartCreation(context.Background(), path, cfg)
	if err != nil {
		t.Fatalf("start creation: %v", err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := buildPath(t)
	c := start(t, path, zimbridge.CreatorConfig{Compression: zimbridge.CompressionZstd})

	home := bytes.Repeat([]byte("<p>welcome home</p>"), 50)
	if err := c.AddItem(ctx, &testItem{
		path: "home", title: "Home", mimetype: "text/html", content: home,
		hints: map[zimbridge.Hint]uint64{zimbridge.HintFrontArticle: 1},
	}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := c.AddItem(ctx, &testItem{
		path: "style.css", mimetype: "text/css", content: []byte("body{margin:0}"),
	}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := c.AddMetadata(ctx, "Title", []byte("Test Archive"), "text/plain"); err != nil {
		t.Fatalf("add metadata: %v", err)
	}
	if err := c.AddIllustration(ctx, 48, []byte{0x89, 'P', 'N', 'G'}); err != nil {
		t.Fatalf("add illustration: %v", err)
	}
	if err := c.AddRedirection(ctx, "index", "Index", "home", nil); err != nil {
		t.Fatalf("add redirection: %v", err)
	}
	if err := c.AddAlias(ctx, "main.css", "Styles", "style.css", nil); err != nil {
		t.Fatalf("add alias: %v", err)
	}
	c.SetMainPath("home")
	if err := c.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if n := r.EntryCount(); n != 4 {
		t.Fatalf("EntryCount = %d, want 4", n)
	}
	if r.UUID() == "" {
		t.Fatalf("missing uuid")
	}
	if len(r.Checksum()) != checksumSize {
		t.Fatalf("checksum length %d", len(r.Checksum()))
	}
	if err := r.Verify(ctx); err != nil {
		t.Fatalf("verify: %v", err)
	}

	e, ok := r.EntryByPath("home")
	if !ok {
		t.Fatalf("home entry missing")
	}
	if e.Mimetype != "text/html" || !e.FrontArticle || e.Size != uint64(len(home)) {
		t.Fatalf("home entry = %+v", e)
	}
	if e2, ok := r.EntryByTitle("Home"); !ok || e2.Path != "home" {
		t.Fatalf("EntryByTitle = %+v, %v", e2, ok)
	}

	b, err := r.Data(ctx, "home")
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	if !bytes.Equal(b.Data(), home) {
		t.Fatalf("home content mismatch: %d bytes", b.Size())
	}

	// The alias serves the target's bytes under its own path.
	ab, err := r.Data(ctx, "main.css")
	if err != nil {
		t.Fatalf("alias data: %v", err)
	}
	if string(ab.Data()) != "body{margin:0}" {
		t.Fatalf("alias content = %q", ab.Data())
	}

	red, ok := r.EntryByPath("index")
	if !ok || !red.Redirect || red.Target != "home" {
		t.Fatalf("redirect entry = %+v", red)
	}
	if _, err := r.Data(ctx, "index"); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Fatalf("data of a redirect: got %v", err)
	}

	if md, ok := r.Metadata("Title"); !ok || string(md) != "Test Archive" {
		t.Fatalf("Title metadata = %q, %v", md, ok)
	}
	if ill, ok := r.Illustration(48); !ok || len(ill) != 4 {
		t.Fatalf("illustration = %v, %v", ill, ok)
	}
	if mp, ok := r.MainPath(); !ok || mp != "home" {
		t.Fatalf("main path = %q, %v", mp, ok)
	}
	if r.HasFulltextIndex() {
		t.Fatalf("index present without indexing enabled")
	}
}

func TestCompressionVariants(t *testing.T) {
	for _, comp := range []zimbridge.Compression{
		zimbridge.CompressionNone, zimbridge.CompressionZstd, zimbridge.CompressionLZ4,
	} {
		t.Run(comp.String(), func(t *testing.T) {
			ctx := context.Background()
			path := buildPath(t)
			c := start(t, path, zimbridge.CreatorConfig{Compression: comp})

			content := bytes.Repeat([]byte("abcdefgh"), 4096)
			if err := c.AddItem(ctx, &testItem{path: "a", mimetype: "text/plain", content: content}); err != nil {
				t.Fatalf("add: %v", err)
			}
			if err := c.Finish(ctx); err != nil {
				t.Fatalf("finish: %v", err)
			}

			r, err := Open(path)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer r.Close()
			b, err := r.Data(ctx, "a")
			if err != nil {
				t.Fatalf("data: %v", err)
			}
			if !bytes.Equal(b.Data(), content) {
				t.Fatalf("content mismatch after %s round trip", comp)
			}
		})
	}
}

func TestClusterSplit(t *testing.T) {
	ctx := context.Background()
	path := buildPath(t)
	// Tiny clusters force the build across several of them.
	c := start(t, path, zimbridge.CreatorConfig{ClusterSize: 64, Workers: 1})

	contents := map[string][]byte{}
	for i := 0; i < 20; i++ {
		p := fmt.Sprintf("entry-%02d", i)
		contents[p] = bytes.Repeat([]byte{byte('a' + i)}, 50)
		if err := c.AddItem(ctx, &testItem{path: p, mimetype: "text/plain", content: contents[p]}); err != nil {
			t.Fatalf("add %s: %v", p, err)
		}
	}
	if err := c.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	if len(r.dir.Clusters) < 2 {
		t.Fatalf("expected multiple clusters, got %d", len(r.dir.Clusters))
	}
	for p, want := range contents {
		b, err := r.Data(ctx, p)
		if err != nil {
			t.Fatalf("data %s: %v", p, err)
		}
		if !bytes.Equal(b.Data(), want) {
			t.Fatalf("%s content mismatch", p)
		}
	}
}

func TestConcurrentBuild(t *testing.T) {
	ctx := context.Background()
	path := buildPath(t)
	c := start(t, path, zimbridge.CreatorConfig{Workers: 8, ClusterSize: 1 << 12})

	const n = 200
	for i := 0; i < n; i++ {
		p := fmt.Sprintf("doc/%03d", i)
		if err := c.AddItem(ctx, &testItem{
			path: p, mimetype: "text/plain",
			content: bytes.Repeat([]byte{byte(i)}, 100+i),
			chunk:   7,
		}); err != nil {
			t.Fatalf("add %s: %v", p, err)
		}
	}
	if err := c.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	if got := r.EntryCount(); got != n {
		t.Fatalf("EntryCount = %d, want %d", got, n)
	}
	for i := 0; i < n; i++ {
		p := fmt.Sprintf("doc/%03d", i)
		b, err := r.Data(ctx, p)
		if err != nil {
			t.Fatalf("data %s: %v", p, err)
		}
		if b.Size() != uint64(100+i) {
			t.Fatalf("%s size = %d", p, b.Size())
		}
	}
}

func TestDuplicatePath(t *testing.T) {
	ctx := context.Background()
	path := buildPath(t)
	c := start(t, path, zimbridge.CreatorConfig{Workers: 1})

	if err := c.AddItem(ctx, &testItem{path: "a", mimetype: "text/plain", content: []byte("1")}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.AddItem(ctx, &testItem{path: "a", mimetype: "text/plain", content: []byte("2")}); err != nil {
		t.Fatalf("add: %v", err)
	}
	err := c.Finish(ctx)
	if !errors.IsKind(err, errors.KindDuplicateEntry) {
		t.Fatalf("duplicate path: got %v", err)
	}
	c.Abort()
}

func TestDuplicateMetadata(t *testing.T) {
	ctx := context.Background()
	c := start(t, buildPath(t), zimbridge.CreatorConfig{})
	defer c.Abort()

	if err := c.AddMetadata(ctx, "Title", []byte("x"), ""); err != nil {
		t.Fatalf("add metadata: %v", err)
	}
	err := c.AddMetadata(ctx, "Title", []byte("y"), "")
	if !errors.IsKind(err, errors.KindDuplicateEntry) {
		t.Fatalf("duplicate metadata: got %v", err)
	}
}

func TestDanglingRedirect(t *testing.T) {
	ctx := context.Background()
	c := start(t, buildPath(t), zimbridge.CreatorConfig{})

	if err := c.AddRedirection(ctx, "r", "", "missing", nil); err != nil {
		t.Fatalf("add redirection: %v", err)
	}
	err := c.Finish(ctx)
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("dangling redirect: got %v", err)
	}
	c.Abort()
}

func TestSizeMismatch(t *testing.T) {
	ctx := context.Background()
	c := start(t, buildPath(t), zimbridge.CreatorConfig{Workers: 1})

	if err := c.AddItem(ctx, &testItem{
		path: "a", mimetype: "text/plain",
		content: []byte("short"), declaredSize: 100,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	err := c.Finish(ctx)
	if !errors.IsKind(err, errors.KindInvalidInput) {
		t.Fatalf("size mismatch: got %v", err)
	}
	c.Abort()
}

func TestIndexing(t *testing.T) {
	ctx := context.Background()
	path := buildPath(t)
	c := start(t, path, zimbridge.CreatorConfig{Indexing: true, IndexLang: "eng"})

	item := &testItem{
		path: "a", mimetype: "text/html", content: []byte("x"),
		index: &testIndex{
			title: "A", content: "lorem ipsum",
			geo: zimbridge.GeoPosition{Latitude: 1, Longitude: 2, Valid: true},
		},
	}
	if err := c.AddItem(ctx, item); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if item.indexCalls.Load() == 0 {
		t.Fatalf("IndexData never pulled with indexing enabled")
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	if !r.HasFulltextIndex() {
		t.Fatalf("no index records")
	}
	rec := r.dir.Index[0]
	if rec.Path != "a" || rec.Content != "lorem ipsum" || !rec.HasGeo || rec.Latitude != 1 {
		t.Fatalf("index record = %+v", rec)
	}
}

func TestIndexingDisabled(t *testing.T) {
	ctx := context.Background()
	c := start(t, buildPath(t), zimbridge.CreatorConfig{})

	item := &testItem{path: "a", mimetype: "text/plain", content: []byte("x")}
	if err := c.AddItem(ctx, item); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if item.indexCalls.Load() != 0 {
		t.Fatalf("IndexData pulled %d times with indexing disabled", item.indexCalls.Load())
	}
}

func TestCloseWhileViewed(t *testing.T) {
	ctx := context.Background()
	path := buildPath(t)
	c := start(t, path, zimbridge.CreatorConfig{})
	if err := c.AddItem(ctx, &testItem{path: "a", mimetype: "text/plain", content: []byte("data")}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, err := r.Data(ctx, "a")
	if err != nil {
		t.Fatalf("data: %v", err)
	}

	b.BeginView()
	if err := r.Close(); !errors.IsKind(err, errors.KindBufferStillViewed) {
		t.Fatalf("close while viewed: got %v", err)
	}
	// The archive stayed open: reads still work.
	if _, err := r.Data(ctx, "a"); err != nil {
		t.Fatalf("data after refused close: %v", err)
	}

	b.EndView()
	if err := r.Close(); err != nil {
		t.Fatalf("close after view ended: %v", err)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	path := buildPath(t)
	c := start(t, path, zimbridge.CreatorConfig{})
	if err := c.AddItem(ctx, &testItem{path: "a", mimetype: "text/plain", content: []byte("pristine content")}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// Flip one content byte without touching the footer.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	raw[0] ^= 0xff
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	if err := r.Verify(ctx); !errors.IsKind(err, errors.KindCorruptData) {
		t.Fatalf("verify on altered file: got %v", err)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := buildPath(t)
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, 200), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Open(path)
	if !errors.IsKind(err, errors.KindCorruptData) {
		t.Fatalf("open garbage: got %v", err)
	}
}

func TestAbortRemovesFile(t *testing.T) {
	ctx := context.Background()
	path := buildPath(t)
	c := start(t, path, zimbridge.CreatorConfig{})
	if err := c.AddItem(ctx, &testItem{path: "a", mimetype: "text/plain", content: []byte("x")}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("partial file still present: %v", err)
	}
	// Abort twice is a no-op.
	if err := c.Abort(); err != nil {
		t.Fatalf("second abort: %v", err)
	}
}
