package creator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openzim/zimbridge"
	"github.com/openzim/zimbridge/bridge"
	"github.com/openzim/zimbridge/errors"
	"github.com/openzim/zimbridge/foreign"
)

type state int

const (
	stateUnconfigured state = iota
	stateStarted
	stateFinalized
)

func (s state) String() string {
	switch s {
	case stateUnconfigured:
		return "unconfigured"
	case stateStarted:
		return "started"
	default:
		return "finalized"
	}
}

// Option configures a Creator at construction time.
type Option func(*Creator)

// WithLogger installs a logger. The default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Creator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRuntime makes the Creator bind guest items into an existing foreign
// runtime instead of owning a private one. The caller keeps ownership of
// the runtime's lifecycle.
func WithRuntime(rt *foreign.Runtime) Option {
	return func(c *Creator) {
		if rt != nil {
			c.rt = rt
			c.ownsRuntime = false
		}
	}
}

// Creator drives one archive construction session against an engine.
//
// A Creator starts unconfigured. The Config* methods fix the session
// parameters and chain; Start transitions to the started state and opens
// engine resources; Finish drains everything submitted and closes the
// archive exactly once. Submitting or configuring in the wrong state is
// reported, never silently reordered.
type Creator struct {
	engine zimbridge.Engine
	path   string
	log    *zap.Logger

	rt          *foreign.Runtime
	ownsRuntime bool

	mu       sync.Mutex
	st       state
	cfg      zimbridge.CreatorConfig
	stickyMu sync.Mutex
	sticky   error

	creation zimbridge.Creation

	counts  map[string]uint64
	closers []func(ctx context.Context)
	failure error
}

// New returns an unconfigured Creator that will build an archive at path
// using the given engine once started.
func New(engine zimbridge.Engine, path string, opts ...Option) *Creator {
	c := &Creator{
		engine:      engine,
		path:        path,
		log:         zap.NewNop(),
		rt:          foreign.NewRuntime(),
		ownsRuntime: true,
		cfg: zimbridge.CreatorConfig{
			Compression: zimbridge.CompressionZstd,
			ClusterSize: 2 << 20,
			Workers:     4,
		},
		counts: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// config runs fn while the session is still unconfigured. A violation is
// recorded as the sticky error so the chained style stays usable; the
// violation surfaces from Err and from the next session operation.
func (c *Creator) config(name string, fn func(*zimbridge.CreatorConfig)) *Creator {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != stateUnconfigured {
		c.setSticky(errors.SessionAlreadyStarted(name))
		return c
	}
	fn(&c.cfg)
	return c
}

func (c *Creator) setSticky(err error) {
	c.stickyMu.Lock()
	defer c.stickyMu.Unlock()
	if c.sticky == nil {
		c.sticky = err
	}
}

// Err returns the first configuration violation, if any.
func (c *Creator) Err() error {
	c.stickyMu.Lock()
	defer c.stickyMu.Unlock()
	return c.sticky
}

// ConfigVerbose toggles engine progress reporting.
func (c *Creator) ConfigVerbose(v bool) *Creator {
	return c.config("config_verbose", func(cfg *zimbridge.CreatorConfig) {
		cfg.Verbose = v
	})
}

// ConfigCompression selects the cluster compression algorithm.
func (c *Creator) ConfigCompression(comp zimbridge.Compression) *Creator {
	return c.config("config_compression", func(cfg *zimbridge.CreatorConfig) {
		cfg.Compression = comp
	})
}

// ConfigClusterSize sets the target uncompressed cluster size in bytes.
func (c *Creator) ConfigClusterSize(size uint64) *Creator {
	return c.config("config_clustersize", func(cfg *zimbridge.CreatorConfig) {
		cfg.ClusterSize = size
	})
}

// ConfigIndexing toggles full-text indexing and fixes the index language.
func (c *Creator) ConfigIndexing(enabled bool, lang string) *Creator {
	return c.config("config_indexing", func(cfg *zimbridge.CreatorConfig) {
		cfg.Indexing = enabled
		cfg.IndexLang = lang
	})
}

// ConfigNbWorkers sets the number of engine worker goroutines.
func (c *Creator) ConfigNbWorkers(n int) *Creator {
	return c.config("config_nbworkers", func(cfg *zimbridge.CreatorConfig) {
		if n > 0 {
			cfg.Workers = n
		}
	})
}

// Start opens engine resources and transitions the session to started.
// On engine failure the session stays unconfigured and may be retried.
func (c *Creator) Start(ctx context.Context) error {
	if err := c.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.st {
	case stateStarted:
		return errors.SessionAlreadyStarted("start")
	case stateFinalized:
		return errors.SessionAlreadyFinalized("start")
	}

	creation, err := c.engine.StartCreation(ctx, c.path, c.cfg)
	if err != nil {
		return err
	}
	c.creation = creation
	c.st = stateStarted
	c.log.Debug("session started",
		zap.String("path", c.path),
		zap.String("compression", c.cfg.Compression.String()),
		zap.Uint64("cluster_size", c.cfg.ClusterSize),
		zap.Int("workers", c.cfg.Workers))
	return nil
}

// started returns the open creation or the state violation for op.
func (c *Creator) started(op string) (zimbridge.Creation, error) {
	switch c.st {
	case stateUnconfigured:
		return nil, errors.SessionNotStarted(op)
	case stateFinalized:
		return nil, errors.SessionAlreadyFinalized(op)
	}
	if c.failure != nil {
		return nil, c.failure
	}
	return c.creation, nil
}

// AddItem submits an item for writing. obj may implement zimbridge.Item
// directly; any other value is bound into the foreign runtime and
// dispatched by method name through an adapter. A foreign failure while
// reading the item aborts the session.
func (c *Creator) AddItem(ctx context.Context, obj any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	creation, err := c.started("add_item")
	if err != nil {
		return err
	}

	item, ok := obj.(zimbridge.Item)
	if !ok {
		item, err = c.bindLocked(ctx, obj)
		if err != nil {
			return err
		}
	}

	// The mimetype tally behind the Counter metadata counts items only;
	// redirects and aliases never contribute.
	mimetype, err := item.Mimetype(ctx)
	if err != nil {
		return c.failLocked(err)
	}
	c.counts[mimetype]++

	if err := creation.AddItem(ctx, item); err != nil {
		return c.failLocked(err)
	}
	return nil
}

func (c *Creator) bindLocked(ctx context.Context, obj any) (zimbridge.Item, error) {
	o, err := c.rt.Bind(ctx, obj)
	if err != nil {
		return nil, err
	}
	h, err := foreign.Acquire(ctx, o)
	o.Release(ctx)
	if err != nil {
		return nil, err
	}
	adapter := bridge.WrapItem(h)
	c.closers = append(c.closers, func(ctx context.Context) {
		adapter.Close(ctx)
	})
	return adapter, nil
}

// failLocked records the first failure and aborts the engine build.
func (c *Creator) failLocked(err error) error {
	if c.failure == nil {
		c.failure = err
		c.log.Warn("session aborted", zap.Error(err))
		if c.creation != nil {
			if aerr := c.creation.Abort(); aerr != nil {
				c.log.Warn("engine abort failed", zap.Error(aerr))
			}
		}
	}
	return err
}

// AddMetadata records a named metadata value.
func (c *Creator) AddMetadata(ctx context.Context, name string, content []byte, mimetype string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addMetadataLocked(ctx, name, content, mimetype)
}

func (c *Creator) addMetadataLocked(ctx context.Context, name string, content []byte, mimetype string) error {
	creation, err := c.started("add_metadata")
	if err != nil {
		return err
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseSession, "metadata name is empty")
	}
	if mimetype == "" {
		mimetype = "text/plain;charset=UTF-8"
	}
	if err := creation.AddMetadata(ctx, name, content, mimetype); err != nil {
		return c.failLocked(err)
	}
	return nil
}

// AddMetadataTime records a date-valued metadata entry formatted as
// YYYY-MM-DD, the convention for the Date metadata.
func (c *Creator) AddMetadataTime(ctx context.Context, name string, t time.Time) error {
	return c.AddMetadata(ctx, name, []byte(t.Format("2006-01-02")), "")
}

// AddRedirection records a redirect entry at path pointing to target.
func (c *Creator) AddRedirection(ctx context.Context, path, title, target string, hints map[zimbridge.Hint]uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	creation, err := c.started("add_redirection")
	if err != nil {
		return err
	}
	if err := creation.AddRedirection(ctx, path, title, target, hints); err != nil {
		return c.failLocked(err)
	}
	return nil
}

// AddAlias records path as an alias of target's content.
func (c *Creator) AddAlias(ctx context.Context, path, title, target string, hints map[zimbridge.Hint]uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	creation, err := c.started("add_alias")
	if err != nil {
		return err
	}
	if err := creation.AddAlias(ctx, path, title, target, hints); err != nil {
		return c.failLocked(err)
	}
	return nil
}

// AddIllustration records an illustration of the given square pixel size.
func (c *Creator) AddIllustration(ctx context.Context, size uint, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	creation, err := c.started("add_illustration")
	if err != nil {
		return err
	}
	if err := creation.AddIllustration(ctx, size, data); err != nil {
		return c.failLocked(err)
	}
	return nil
}

// SetMainPath declares the archive's main entry.
func (c *Creator) SetMainPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	creation, err := c.started("set_main_path")
	if err != nil {
		return err
	}
	creation.SetMainPath(path)
	return nil
}

// Finish drains all submitted content, writes the Counter metadata and
// closes the archive. It transitions to finalized exactly once; a second
// call is a session violation, and no engine resource is released twice.
func (c *Creator) Finish(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.st {
	case stateUnconfigured:
		return errors.SessionNotStarted("finish")
	case stateFinalized:
		return errors.SessionAlreadyFinalized("finish")
	}

	err := c.finishLocked(ctx)
	c.st = stateFinalized
	c.releaseLocked(ctx)
	return err
}

func (c *Creator) finishLocked(ctx context.Context) error {
	if c.failure != nil {
		return c.failure
	}
	if len(c.counts) > 0 {
		if err := c.addMetadataLocked(ctx, "Counter", []byte(c.counterValue()), ""); err != nil {
			return err
		}
	}
	if err := c.creation.Finish(ctx); err != nil {
		return c.failLocked(err)
	}
	c.log.Debug("session finalized", zap.String("path", c.path))
	return nil
}

// counterValue renders the mimetype tally as "mimetype=count;…" with
// deterministic ordering.
func (c *Creator) counterValue() string {
	types := make([]string, 0, len(c.counts))
	for mt := range c.counts {
		types = append(types, mt)
	}
	sort.Strings(types)

	parts := make([]string, 0, len(types))
	for _, mt := range types {
		parts = append(parts, fmt.Sprintf("%s=%d", mt, c.counts[mt]))
	}
	return strings.Join(parts, ";")
}

// Abort stops the session, removing partial engine output. It is safe in
// any state and after a failed Finish.
func (c *Creator) Abort(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.st == stateStarted && c.creation != nil {
		err = c.creation.Abort()
	}
	if c.st != stateFinalized {
		c.st = stateFinalized
		c.releaseLocked(ctx)
	}
	return err
}

// releaseLocked closes every adapter handle acquired by this session and,
// when the runtime is session-owned, the runtime itself.
func (c *Creator) releaseLocked(ctx context.Context) {
	for _, close := range c.closers {
		close(ctx)
	}
	c.closers = nil
	if c.ownsRuntime {
		c.rt.Close()
	}
}
