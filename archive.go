package zimbridge

import (
	"context"

	"github.com/openzim/zimbridge/blob"
)

// EntryInfo describes one directory entry of a finished archive.
type EntryInfo struct {
	Path     string
	Title    string
	Mimetype string

	// Redirect entries carry no content of their own; Target names the
	// entry they point to.
	Redirect bool
	Target   string

	// Size is the uncompressed content size. Zero for redirects.
	Size uint64

	// FrontArticle mirrors the FRONT_ARTICLE hint recorded at write time.
	FrontArticle bool
}

// ArchiveBackend is the read-side engine contract. The reader facade
// wraps a backend into the boxed entry/item surface; the backend owns the
// container format, lookup tables and cluster decompression.
type ArchiveBackend interface {
	EntryCount() uint32
	EntryAt(i uint32) (EntryInfo, bool)
	EntryByPath(path string) (EntryInfo, bool)
	EntryByTitle(title string) (EntryInfo, bool)

	// MainPath reports the declared main entry, if any.
	MainPath() (string, bool)

	Metadata(name string) ([]byte, bool)
	MetadataKeys() []string

	Illustration(size uint) ([]byte, bool)
	IllustrationSizes() []uint

	// UUID is the archive's unique identifier, fixed at creation.
	UUID() string

	// Checksum returns the archive's stored content checksum.
	Checksum() []byte

	HasFulltextIndex() bool

	// Data returns the content of the entry at path as a view over
	// backend-owned bytes. Callers bracket access with BeginView/EndView.
	Data(ctx context.Context, path string) (*blob.Blob, error)

	// Verify recomputes the content checksum against the stored one.
	Verify(ctx context.Context) error

	// Close releases backend resources. It fails while content views are
	// outstanding.
	Close() error
}
