package zimbridge

import (
	"context"

	"github.com/openzim/zimbridge/blob"
)

// Item describes one archive entry on the write path. The engine's worker
// pool pulls every field through this interface while assembling clusters;
// implementations must tolerate calls from any goroutine.
type Item interface {
	// Path returns the full entry path. Required.
	Path(ctx context.Context) (string, error)

	// Title returns the entry title, possibly empty.
	Title(ctx context.Context) (string, error)

	// Mimetype returns the MIME type of the content.
	Mimetype(ctx context.Context) (string, error)

	// ContentProvider returns the provider the engine drains for this
	// item's content. Required: a missing provider is an error.
	ContentProvider(ctx context.Context) (ContentProvider, error)

	// Hints returns per-item processing hints. Optional: implementations
	// without hints return an empty map.
	Hints(ctx context.Context) (map[Hint]uint64, error)

	// IndexData returns the full-text index input for this item, or nil
	// when the item carries none.
	IndexData(ctx context.Context) (IndexData, error)
}

// ContentProvider streams one item's content. The engine requests the
// content of a single item serially: Feed is never called concurrently on
// the same provider, though different providers are drained in parallel.
type ContentProvider interface {
	// Size returns the total number of content bytes Feed will deliver.
	Size(ctx context.Context) (uint64, error)

	// Feed returns the next chunk. A zero-length blob signals end of
	// stream; the engine stops calling Feed after receiving it.
	Feed(ctx context.Context) (*blob.Blob, error)
}

// IndexData supplies the text the engine feeds to its full-text indexer.
type IndexData interface {
	// HasIndexData reports whether there is anything to index.
	HasIndexData(ctx context.Context) (bool, error)

	Title(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	Keywords(ctx context.Context) (string, error)
	WordCount(ctx context.Context) (uint32, error)

	// GeoPosition returns the item's position, Valid=false when absent.
	GeoPosition(ctx context.Context) (GeoPosition, error)
}

// GeoPosition is an optional latitude/longitude pair.
type GeoPosition struct {
	Latitude  float64
	Longitude float64
	Valid     bool
}

// Hint keys the per-item hint map. Unknown keys in guest-supplied hint
// maps are skipped, never an error.
type Hint uint8

const (
	// HintCompress marks content that benefits from cluster compression.
	HintCompress Hint = iota
	// HintFrontArticle marks entries that belong to the front catalog.
	HintFrontArticle

	hintCount
)

// KnownHint reports whether h is a recognized hint key.
func KnownHint(h Hint) bool {
	return h < hintCount
}

func (h Hint) String() string {
	switch h {
	case HintCompress:
		return "COMPRESS"
	case HintFrontArticle:
		return "FRONT_ARTICLE"
	default:
		return "UNKNOWN"
	}
}

// Compression selects the cluster compression algorithm.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4

	compressionCount
)

// CompressionFromOrdinal maps an ordinal to a Compression. Unrecognized
// ordinals map to CompressionNone rather than erroring.
func CompressionFromOrdinal(v int) Compression {
	if v < 0 || v >= int(compressionCount) {
		return CompressionNone
	}
	return Compression(v)
}

func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// CreatorConfig carries the session configuration fixed before Start.
type CreatorConfig struct {
	Verbose     bool
	Compression Compression
	ClusterSize uint64
	Indexing    bool
	IndexLang   string
	Workers     int
}

// Engine is the archive-building engine the session layer drives. The
// archive format, compression internals and index algorithms behind it
// are the engine's own business.
type Engine interface {
	// StartCreation opens engine resources for a new archive at path.
	// On failure nothing is left open.
	StartCreation(ctx context.Context, path string, cfg CreatorConfig) (Creation, error)
}

// Creation is one in-progress archive build.
type Creation interface {
	// AddItem submits an item. The engine pulls its content through the
	// item's provider, possibly on another goroutine and after AddItem
	// returns.
	AddItem(ctx context.Context, item Item) error

	// AddMetadata records a named metadata value.
	AddMetadata(ctx context.Context, name string, content []byte, mimetype string) error

	// AddRedirection records a redirect entry at path pointing to target.
	AddRedirection(ctx context.Context, path, title, target string, hints map[Hint]uint64) error

	// AddAlias records an alias of target's content under path.
	AddAlias(ctx context.Context, path, title, target string, hints map[Hint]uint64) error

	// AddIllustration records an illustration of the given square size.
	AddIllustration(ctx context.Context, size uint, data []byte) error

	// SetMainPath declares the archive's main entry.
	SetMainPath(path string)

	// Finish drains all submitted content and writes the archive.
	Finish(ctx context.Context) error

	// Abort stops the build and removes partial output. Safe after a
	// failed Finish; a no-op after a successful one.
	Abort() error
}
