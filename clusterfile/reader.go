package clusterfile

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/openzim/zimbridge"
	"github.com/openzim/zimbridge/blob"
	"github.com/openzim/zimbridge/errors"
)

// Reader serves a finished clusterfile archive. It implements
// zimbridge.ArchiveBackend.
//
// Clusters are decompressed lazily with a single-cluster cache; entry
// content is handed out as a zero-copy sub-slice of the cached cluster
// wrapped in a view-counted blob. Close refuses while any view is
// outstanding.
type Reader struct {
	f        *os.File
	fileSize int64
	dir      directory
	checksum []byte

	byPath  map[string]int
	byTitle map[string]int

	mu       sync.Mutex
	cachedID int
	cached   []byte
	issued   []*blob.Blob
	closed   bool
}

// Open maps the archive at path. The footer magic and version are
// verified; the content checksum is not (see Verify).
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRead, errors.KindNotFound, err, "open archive")
	}
	r, err := load(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func load(f *os.File) (*Reader, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRead, errors.KindCorruptData, err, "stat archive")
	}
	if st.Size() < footerSize {
		return nil, errors.Corrupt(fmt.Sprintf("file too small for a footer: %d bytes", st.Size()))
	}

	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, st.Size()-footerSize); err != nil {
		return nil, errors.Wrap(errors.PhaseRead, errors.KindCorruptData, err, "read footer")
	}
	if [4]byte(footer[0:4]) != magic {
		return nil, errors.Corrupt("bad magic, not a clusterfile archive")
	}
	if v := binary.LittleEndian.Uint32(footer[4:8]); v != formatVersion {
		return nil, errors.Corrupt(fmt.Sprintf("unsupported format version %d", v))
	}
	dirOffset := binary.LittleEndian.Uint64(footer[8:16])
	dirLen := binary.LittleEndian.Uint64(footer[16:24])
	if dirOffset+dirLen > uint64(st.Size())-footerSize {
		return nil, errors.Corrupt("directory extends past the footer")
	}

	dirBytes := make([]byte, dirLen)
	if _, err := f.ReadAt(dirBytes, int64(dirOffset)); err != nil {
		return nil, errors.Wrap(errors.PhaseRead, errors.KindCorruptData, err, "read directory")
	}

	r := &Reader{
		f:        f,
		fileSize: st.Size(),
		checksum: append([]byte(nil), footer[24:24+checksumSize]...),
		byPath:   map[string]int{},
		byTitle:  map[string]int{},
		cachedID: -1,
	}
	if err := decodeDirectory(dirBytes, &r.dir); err != nil {
		return nil, errors.Wrap(errors.PhaseRead, errors.KindCorruptData, err, "decode directory")
	}
	for i, e := range r.dir.Entries {
		r.byPath[e.Path] = i
		if e.Title != "" {
			if _, taken := r.byTitle[e.Title]; !taken {
				r.byTitle[e.Title] = i
			}
		}
	}
	return r, nil
}

func (r *Reader) EntryCount() uint32 {
	return uint32(len(r.dir.Entries))
}

func (r *Reader) EntryAt(i uint32) (zimbridge.EntryInfo, bool) {
	if i >= uint32(len(r.dir.Entries)) {
		return zimbridge.EntryInfo{}, false
	}
	return info(r.dir.Entries[i]), true
}

func (r *Reader) EntryByPath(path string) (zimbridge.EntryInfo, bool) {
	i, ok := r.byPath[path]
	if !ok {
		return zimbridge.EntryInfo{}, false
	}
	return info(r.dir.Entries[i]), true
}

func (r *Reader) EntryByTitle(title string) (zimbridge.EntryInfo, bool) {
	i, ok := r.byTitle[title]
	if !ok {
		return zimbridge.EntryInfo{}, false
	}
	return info(r.dir.Entries[i]), true
}

func info(e entryRecord) zimbridge.EntryInfo {
	return zimbridge.EntryInfo{
		Path:         e.Path,
		Title:        e.Title,
		Mimetype:     e.Mimetype,
		Redirect:     e.Redirect,
		Target:       e.Target,
		Size:         e.Size,
		FrontArticle: e.FrontArticle,
	}
}

func (r *Reader) MainPath() (string, bool) {
	return r.dir.MainPath, r.dir.MainPath != ""
}

func (r *Reader) Metadata(name string) ([]byte, bool) {
	v, ok := r.dir.Metadata[name]
	if !ok {
		return nil, false
	}
	return v.Content, true
}

func (r *Reader) MetadataKeys() []string {
	keys := make([]string, 0, len(r.dir.Metadata))
	for k := range r.dir.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Reader) Illustration(size uint) ([]byte, bool) {
	data, ok := r.dir.Illustrations[size]
	return data, ok
}

func (r *Reader) IllustrationSizes() []uint {
	sizes := make([]uint, 0, len(r.dir.Illustrations))
	for s := range r.dir.Illustrations {
		sizes = append(sizes, s)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
	return sizes
}

func (r *Reader) UUID() string {
	return r.dir.UUID
}

func (r *Reader) Checksum() []byte {
	return r.checksum
}

func (r *Reader) HasFulltextIndex() bool {
	return len(r.dir.Index) > 0
}

// Data returns the content of the entry at path as a view over the cached
// cluster. Redirect entries have no content of their own.
func (r *Reader) Data(_ context.Context, path string) (*blob.Blob, error) {
	i, ok := r.byPath[path]
	if !ok {
		return nil, errors.NotFound(errors.PhaseRead, "entry", path)
	}
	e := r.dir.Entries[i]
	if e.Redirect {
		return nil, errors.InvalidInput(errors.PhaseRead, fmt.Sprintf("entry %q is a redirect", path))
	}
	if e.Size == 0 {
		return blob.Empty(), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.InvalidInput(errors.PhaseRead, "archive is closed")
	}
	cluster, err := r.clusterLocked(int(e.Cluster))
	if err != nil {
		return nil, err
	}
	if e.Offset+e.Size > uint64(len(cluster)) {
		return nil, errors.Corrupt(fmt.Sprintf(
			"entry %q: range %d+%d exceeds cluster of %d bytes", path, e.Offset, e.Size, len(cluster)))
	}

	b := blob.FromBytes(cluster[e.Offset : e.Offset+e.Size : e.Offset+e.Size])
	r.issued = append(r.issued, b)
	return b, nil
}

// clusterLocked returns the decompressed cluster, serving repeats from
// the single-cluster cache. An evicted cluster's bytes stay alive for as
// long as issued blobs reference them.
func (r *Reader) clusterLocked(id int) ([]byte, error) {
	if id == r.cachedID {
		return r.cached, nil
	}
	if id < 0 || id >= len(r.dir.Clusters) {
		return nil, errors.Corrupt(fmt.Sprintf("entry references cluster %d of %d", id, len(r.dir.Clusters)))
	}
	rec := r.dir.Clusters[id]

	compressed := make([]byte, rec.CompressedSize)
	if _, err := r.f.ReadAt(compressed, int64(rec.FileOffset)); err != nil {
		return nil, errors.Wrap(errors.PhaseRead, errors.KindCorruptData, err, "read cluster")
	}
	raw, err := decompressCluster(compressed, rec.Tag, rec.RawSize)
	if err != nil {
		return nil, err
	}
	r.cachedID = id
	r.cached = raw
	return raw, nil
}

// Verify recomputes the BLAKE3 checksum over everything before the stored
// checksum and compares.
func (r *Reader) Verify(_ context.Context) error {
	hasher := blake3.New()
	hashed := io.NewSectionReader(r.f, 0, r.fileSize-checksumSize)
	if _, err := io.Copy(hasher, hashed); err != nil {
		return errors.Wrap(errors.PhaseRead, errors.KindCorruptData, err, "hash archive")
	}
	sum := hasher.Sum(nil)
	for i := 0; i < checksumSize; i++ {
		if sum[i] != r.checksum[i] {
			return errors.Corrupt("checksum mismatch, archive content was altered")
		}
	}
	return nil
}

// Close releases the file. It fails with buffer_still_viewed while any
// blob handed out by Data has live views; the archive stays open in that
// case.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	// Release is idempotent, so a failed Close may simply be retried once
	// the outstanding views end.
	for _, b := range r.issued {
		if err := b.Release(); err != nil {
			return err
		}
	}
	r.issued = nil

	r.closed = true
	r.cached = nil
	r.cachedID = -1
	return r.f.Close()
}
