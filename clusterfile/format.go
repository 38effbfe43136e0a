package clusterfile

// Container layout:
//
//	clusters … | CBOR directory | footer
//
// The footer is fixed-size at the tail: magic, format version, directory
// offset and length, then the BLAKE3 checksum of every byte before the
// checksum field itself. All integers little-endian.

const (
	formatVersion uint32 = 1

	// footerSize = magic(4) + version(4) + dirOffset(8) + dirLen(8) +
	// checksum(32).
	footerSize = 56

	checksumSize = 32

	defaultClusterSize uint64 = 2 << 20
	defaultWorkers            = 4
)

var magic = [4]byte{'Z', 'C', 'F', '1'}

// compressionTag identifies the per-cluster compression algorithm. The
// values are format constants; changing them breaks compatibility.
type compressionTag uint8

const (
	tagNone compressionTag = 0
	tagZstd compressionTag = 1
	tagLZ4  compressionTag = 2
)

// directory is the CBOR-encoded tail structure describing the archive.
// Field names are short on the wire; the encoder is deterministic, so the
// same logical archive always produces identical directory bytes.
type directory struct {
	UUID          string               `cbor:"uuid"`
	MainPath      string               `cbor:"main,omitempty"`
	Entries       []entryRecord        `cbor:"entries"`
	Clusters      []clusterRecord      `cbor:"clusters"`
	Metadata      map[string]metaValue `cbor:"metadata,omitempty"`
	Illustrations map[uint][]byte      `cbor:"illustrations,omitempty"`
	Index         []indexRecord        `cbor:"index,omitempty"`
	IndexLang     string               `cbor:"index_lang,omitempty"`
}

type entryRecord struct {
	Path     string `cbor:"p"`
	Title    string `cbor:"t,omitempty"`
	Mimetype string `cbor:"m,omitempty"`

	Redirect bool   `cbor:"r,omitempty"`
	Target   string `cbor:"rt,omitempty"`

	// Content location for non-redirect entries: byte range inside the
	// uncompressed cluster.
	Cluster uint32 `cbor:"c,omitempty"`
	Offset  uint64 `cbor:"o,omitempty"`
	Size    uint64 `cbor:"s,omitempty"`

	FrontArticle bool `cbor:"f,omitempty"`
}

type clusterRecord struct {
	// FileOffset is the cluster's position in the container file.
	FileOffset     uint64         `cbor:"fo"`
	CompressedSize uint64         `cbor:"cs"`
	RawSize        uint64         `cbor:"rs"`
	Tag            compressionTag `cbor:"tag"`
}

type metaValue struct {
	Content  []byte `cbor:"c"`
	Mimetype string `cbor:"m,omitempty"`
}

// indexRecord is one item's full-text index input, captured at write time
// when indexing is enabled.
type indexRecord struct {
	Path      string  `cbor:"p"`
	Title     string  `cbor:"t,omitempty"`
	Content   string  `cbor:"c,omitempty"`
	Keywords  string  `cbor:"k,omitempty"`
	WordCount uint32  `cbor:"w,omitempty"`
	HasGeo    bool    `cbor:"g,omitempty"`
	Latitude  float64 `cbor:"lat,omitempty"`
	Longitude float64 `cbor:"lon,omitempty"`
}
