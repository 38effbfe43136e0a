package clusterfile

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/openzim/zimbridge"
	"github.com/openzim/zimbridge/errors"
)

// Engine builds clusterfile archives. It implements zimbridge.Engine; one
// Engine may run any number of creations, each against its own file.
type Engine struct {
	log *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger installs a logger. The default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine returns a clusterfile engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{log: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartCreation opens the destination file and the worker pool. On
// failure nothing is left on disk.
func (e *Engine) StartCreation(ctx context.Context, path string, cfg zimbridge.CreatorConfig) (zimbridge.Creation, error) {
	if cfg.ClusterSize == 0 {
		cfg.ClusterSize = defaultClusterSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "create archive file")
	}

	hasher := blake3.New()
	c := &creation{
		log:    e.log.With(zap.String("archive", path)),
		ctx:    ctx,
		cfg:    cfg,
		path:   path,
		f:      f,
		hasher: hasher,
		w:      io.MultiWriter(f, hasher),
		jobs:   make(chan zimbridge.Item, cfg.Workers*2),
		dir: directory{
			UUID:          uuid.NewString(),
			Metadata:      map[string]metaValue{},
			Illustrations: map[uint][]byte{},
			IndexLang:     cfg.IndexLang,
		},
		paths: map[string]struct{}{},
	}
	for i := 0; i < cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	c.log.Debug("creation started",
		zap.String("uuid", c.dir.UUID),
		zap.Int("workers", cfg.Workers))
	return c, nil
}

// creation is one in-progress archive build.
//
// Items are drained by the worker pool: each worker pulls a whole item
// (path, title, mimetype, hints, content, index data) so calls on a single
// adapter stay serial while different items overlap. Drained payloads are
// appended to the current cluster under mu; full clusters are compressed
// and written immediately.
type creation struct {
	log *zap.Logger
	ctx context.Context
	cfg zimbridge.CreatorConfig

	path   string
	f      *os.File
	hasher *blake3.Hasher
	w      io.Writer

	jobs chan zimbridge.Item
	wg   sync.WaitGroup

	mu         sync.Mutex
	offset     uint64
	cluster    bytes.Buffer
	dir        directory
	paths      map[string]struct{}
	redirects  []pendingLink
	aliases    []pendingLink
	intakeDone bool
	finished   bool
	aborted    bool
	failure    error
}

type pendingLink struct {
	path   string
	title  string
	target string
	front  bool
}

func (c *creation) worker() {
	defer c.wg.Done()
	for item := range c.jobs {
		if c.failed() != nil {
			continue
		}
		if err := c.drain(item); err != nil {
			c.fail(err)
		}
	}
}

func (c *creation) failed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

func (c *creation) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure == nil {
		c.failure = err
		c.log.Warn("build failed", zap.Error(err))
	}
}

// drain pulls everything the engine needs out of one item.
func (c *creation) drain(item zimbridge.Item) error {
	ctx := c.ctx

	path, err := item.Path(ctx)
	if err != nil {
		return err
	}
	title, err := item.Title(ctx)
	if err != nil {
		return err
	}
	mimetype, err := item.Mimetype(ctx)
	if err != nil {
		return err
	}
	hints, err := item.Hints(ctx)
	if err != nil {
		return err
	}

	provider, err := item.ContentProvider(ctx)
	if err != nil {
		return err
	}
	content, err := c.drainProvider(ctx, path, provider)
	if err != nil {
		return err
	}

	var idx *indexRecord
	if c.cfg.Indexing {
		idx, err = c.drainIndex(ctx, path, item)
		if err != nil {
			return err
		}
	}

	return c.commit(entryRecord{
		Path:         path,
		Title:        title,
		Mimetype:     mimetype,
		FrontArticle: hints[zimbridge.HintFrontArticle] != 0,
	}, content, idx)
}

// drainProvider reads the provider to exhaustion and verifies the byte
// count against the declared size.
func (c *creation) drainProvider(ctx context.Context, path string, provider zimbridge.ContentProvider) ([]byte, error) {
	defer closeIfCloser(ctx, provider)

	size, err := provider.Size(ctx)
	if err != nil {
		return nil, err
	}
	content := make([]byte, 0, size)
	for {
		chunk, err := provider.Feed(ctx)
		if err != nil {
			return nil, err
		}
		if chunk.Size() == 0 {
			break
		}
		chunk.BeginView()
		content = append(content, chunk.Data()...)
		chunk.EndView()
	}
	if uint64(len(content)) != size {
		return nil, errors.InvalidInput(errors.PhaseEngine, fmt.Sprintf(
			"entry %q: provider declared %d bytes, fed %d", path, size, len(content)))
	}
	return content, nil
}

func (c *creation) drainIndex(ctx context.Context, path string, item zimbridge.Item) (*indexRecord, error) {
	idx, err := item.IndexData(ctx)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, nil
	}
	defer closeIfCloser(ctx, idx)

	has, err := idx.HasIndexData(ctx)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}

	rec := &indexRecord{Path: path}
	if rec.Title, err = idx.Title(ctx); err != nil {
		return nil, err
	}
	if rec.Content, err = idx.Content(ctx); err != nil {
		return nil, err
	}
	if rec.Keywords, err = idx.Keywords(ctx); err != nil {
		return nil, err
	}
	if rec.WordCount, err = idx.WordCount(ctx); err != nil {
		return nil, err
	}
	geo, err := idx.GeoPosition(ctx)
	if err != nil {
		return nil, err
	}
	if geo.Valid {
		rec.HasGeo = true
		rec.Latitude = geo.Latitude
		rec.Longitude = geo.Longitude
	}
	return rec, nil
}

// closeIfCloser releases adapter-backed values that own a foreign handle.
func closeIfCloser(ctx context.Context, v any) {
	if closer, ok := v.(interface{ Close(context.Context) }); ok {
		closer.Close(ctx)
	}
}

// commit appends one drained item to the current cluster and records its
// directory entry.
func (c *creation) commit(entry entryRecord, content []byte, idx *indexRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.paths[entry.Path]; dup {
		return errors.DuplicateEntry("entry path", entry.Path)
	}
	c.paths[entry.Path] = struct{}{}

	if c.cluster.Len() > 0 && uint64(c.cluster.Len())+uint64(len(content)) > c.cfg.ClusterSize {
		if err := c.flushClusterLocked(); err != nil {
			return err
		}
	}

	entry.Cluster = uint32(len(c.dir.Clusters))
	entry.Offset = uint64(c.cluster.Len())
	entry.Size = uint64(len(content))
	c.cluster.Write(content)

	c.dir.Entries = append(c.dir.Entries, entry)
	if idx != nil {
		c.dir.Index = append(c.dir.Index, *idx)
	}

	if uint64(c.cluster.Len()) >= c.cfg.ClusterSize {
		return c.flushClusterLocked()
	}
	return nil
}

// flushClusterLocked compresses and writes the current cluster.
func (c *creation) flushClusterLocked() error {
	raw := c.cluster.Bytes()
	compressed, tag, err := compressCluster(raw, tagFor(c.cfg.Compression))
	if err != nil {
		return errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "compress cluster")
	}
	if _, err := c.w.Write(compressed); err != nil {
		return errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "write cluster")
	}

	c.dir.Clusters = append(c.dir.Clusters, clusterRecord{
		FileOffset:     c.offset,
		CompressedSize: uint64(len(compressed)),
		RawSize:        uint64(len(raw)),
		Tag:            tag,
	})
	c.offset += uint64(len(compressed))
	c.cluster.Reset()
	return nil
}

func (c *creation) AddItem(ctx context.Context, item zimbridge.Item) error {
	c.mu.Lock()
	if c.intakeDone {
		c.mu.Unlock()
		return errors.InvalidInput(errors.PhaseEngine, "item submitted after intake closed")
	}
	if c.failure != nil {
		err := c.failure
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	select {
	case c.jobs <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *creation) AddMetadata(_ context.Context, name string, content []byte, mimetype string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.dir.Metadata[name]; dup {
		return errors.DuplicateEntry("metadata", name)
	}
	c.dir.Metadata[name] = metaValue{Content: append([]byte(nil), content...), Mimetype: mimetype}
	return nil
}

func (c *creation) AddRedirection(_ context.Context, path, title, target string, hints map[zimbridge.Hint]uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redirects = append(c.redirects, pendingLink{
		path:   path,
		title:  title,
		target: target,
		front:  hints[zimbridge.HintFrontArticle] != 0,
	})
	return nil
}

func (c *creation) AddAlias(_ context.Context, path, title, target string, hints map[zimbridge.Hint]uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases = append(c.aliases, pendingLink{
		path:   path,
		title:  title,
		target: target,
		front:  hints[zimbridge.HintFrontArticle] != 0,
	})
	return nil
}

func (c *creation) AddIllustration(_ context.Context, size uint, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.dir.Illustrations[size]; dup {
		return errors.DuplicateEntry("illustration", fmt.Sprintf("%d", size))
	}
	c.dir.Illustrations[size] = append([]byte(nil), data...)
	return nil
}

func (c *creation) SetMainPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dir.MainPath = path
}

// Finish drains the pool, resolves links, writes the directory and the
// footer, and closes the file.
func (c *creation) Finish(ctx context.Context) error {
	c.mu.Lock()
	if c.finished || c.aborted {
		c.mu.Unlock()
		return errors.InvalidInput(errors.PhaseEngine, "creation already closed")
	}
	if !c.intakeDone {
		c.intakeDone = true
		close(c.jobs)
	}
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return c.failure
	}

	if c.cluster.Len() > 0 {
		if err := c.flushClusterLocked(); err != nil {
			return err
		}
	}
	if err := c.resolveLinksLocked(); err != nil {
		return err
	}
	if err := c.writeTailLocked(); err != nil {
		return err
	}
	c.finished = true
	if err := c.f.Close(); err != nil {
		return errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "close archive file")
	}
	c.log.Debug("creation finished",
		zap.Int("entries", len(c.dir.Entries)),
		zap.Int("clusters", len(c.dir.Clusters)),
		zap.Uint64("bytes", c.offset))
	return nil
}

// resolveLinksLocked materializes redirects and aliases against the final
// entry set. Targets must name a content entry already written.
func (c *creation) resolveLinksLocked() error {
	byPath := make(map[string]*entryRecord, len(c.dir.Entries))
	for i := range c.dir.Entries {
		byPath[c.dir.Entries[i].Path] = &c.dir.Entries[i]
	}

	for _, r := range c.redirects {
		if _, dup := c.paths[r.path]; dup {
			return errors.DuplicateEntry("entry path", r.path)
		}
		if _, ok := byPath[r.target]; !ok {
			return errors.NotFound(errors.PhaseEngine, "redirect target", r.target)
		}
		c.paths[r.path] = struct{}{}
		c.dir.Entries = append(c.dir.Entries, entryRecord{
			Path:         r.path,
			Title:        r.title,
			Redirect:     true,
			Target:       r.target,
			FrontArticle: r.front,
		})
	}

	for _, a := range c.aliases {
		if _, dup := c.paths[a.path]; dup {
			return errors.DuplicateEntry("entry path", a.path)
		}
		target, ok := byPath[a.target]
		if !ok || target.Redirect {
			return errors.NotFound(errors.PhaseEngine, "alias target", a.target)
		}
		c.paths[a.path] = struct{}{}
		// An alias shares the target's content location under its own
		// path and title.
		c.dir.Entries = append(c.dir.Entries, entryRecord{
			Path:         a.path,
			Title:        a.title,
			Mimetype:     target.Mimetype,
			Cluster:      target.Cluster,
			Offset:       target.Offset,
			Size:         target.Size,
			FrontArticle: a.front,
		})
	}
	return nil
}

func (c *creation) writeTailLocked() error {
	if c.dir.MainPath != "" {
		if _, ok := c.paths[c.dir.MainPath]; !ok {
			return errors.NotFound(errors.PhaseEngine, "main entry", c.dir.MainPath)
		}
	}

	dirBytes, err := encodeDirectory(&c.dir)
	if err != nil {
		return errors.Wrap(errors.PhaseEngine, errors.KindCorruptData, err, "encode directory")
	}
	dirOffset := c.offset
	if _, err := c.w.Write(dirBytes); err != nil {
		return errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "write directory")
	}
	c.offset += uint64(len(dirBytes))

	// Footer prefix participates in the checksum; the checksum itself is
	// written last, outside the hashed region.
	prefix := make([]byte, footerSize-checksumSize)
	copy(prefix[0:4], magic[:])
	binary.LittleEndian.PutUint32(prefix[4:8], formatVersion)
	binary.LittleEndian.PutUint64(prefix[8:16], dirOffset)
	binary.LittleEndian.PutUint64(prefix[16:24], uint64(len(dirBytes)))
	if _, err := c.w.Write(prefix); err != nil {
		return errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "write footer")
	}

	sum := c.hasher.Sum(nil)
	if _, err := c.f.Write(sum[:checksumSize]); err != nil {
		return errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "write checksum")
	}
	return nil
}

// Abort stops the build and removes the partial file. Safe after a failed
// Finish and a no-op after a successful one.
func (c *creation) Abort() error {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return nil
	}
	if c.aborted {
		c.mu.Unlock()
		return nil
	}
	c.aborted = true
	if !c.intakeDone {
		c.intakeDone = true
		close(c.jobs)
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.f.Close()
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "remove partial archive")
	}
	return nil
}
