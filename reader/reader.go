package reader

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/openzim/zimbridge"
	"github.com/openzim/zimbridge/blob"
	"github.com/openzim/zimbridge/boxed"
	"github.com/openzim/zimbridge/clusterfile"
	"github.com/openzim/zimbridge/errors"
)

// Archive is the read-side facade over a backend.
type Archive struct {
	backend zimbridge.ArchiveBackend
	log     *zap.Logger
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger installs a logger. The default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Archive) {
		if log != nil {
			a.log = log
		}
	}
}

// Open wraps an already-opened backend.
func Open(backend zimbridge.ArchiveBackend, opts ...Option) *Archive {
	a := &Archive{backend: backend, log: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OpenFile opens a clusterfile archive at path.
func OpenFile(path string, opts ...Option) (*Archive, error) {
	backend, err := clusterfile.Open(path)
	if err != nil {
		return nil, err
	}
	return Open(backend, opts...), nil
}

// EntryCount returns the number of directory entries, redirects included.
func (a *Archive) EntryCount() uint32 {
	return a.backend.EntryCount()
}

// EntryByPath looks an entry up by its full path.
func (a *Archive) EntryByPath(path string) (Entry, error) {
	info, ok := a.backend.EntryByPath(path)
	if !ok {
		return Entry{}, errors.NotFound(errors.PhaseRead, "entry", path)
	}
	return newEntry(a, info), nil
}

// EntryByTitle looks an entry up by its title.
func (a *Archive) EntryByTitle(title string) (Entry, error) {
	info, ok := a.backend.EntryByTitle(title)
	if !ok {
		return Entry{}, errors.NotFound(errors.PhaseRead, "entry title", title)
	}
	return newEntry(a, info), nil
}

// EntryAt returns the entry at directory position i.
func (a *Archive) EntryAt(i uint32) (Entry, error) {
	info, ok := a.backend.EntryAt(i)
	if !ok {
		return Entry{}, errors.NotFound(errors.PhaseRead, "entry index", "")
	}
	return newEntry(a, info), nil
}

// MainEntry returns the archive's declared main entry.
func (a *Archive) MainEntry() (Entry, error) {
	path, ok := a.backend.MainPath()
	if !ok {
		return Entry{}, errors.NotFound(errors.PhaseRead, "main entry", "")
	}
	return a.EntryByPath(path)
}

// HasEntryByPath reports whether path exists without constructing an
// entry.
func (a *Archive) HasEntryByPath(path string) bool {
	_, ok := a.backend.EntryByPath(path)
	return ok
}

// Metadata returns the named metadata value.
func (a *Archive) Metadata(name string) ([]byte, error) {
	v, ok := a.backend.Metadata(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRead, "metadata", name)
	}
	return v, nil
}

// MetadataKeys lists the recorded metadata names, sorted.
func (a *Archive) MetadataKeys() []string {
	return a.backend.MetadataKeys()
}

// Illustration returns the illustration of the given square size.
func (a *Archive) Illustration(size uint) ([]byte, error) {
	data, ok := a.backend.Illustration(size)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRead, "illustration", "")
	}
	return data, nil
}

// IllustrationSizes lists the recorded illustration sizes, ascending.
func (a *Archive) IllustrationSizes() []uint {
	return a.backend.IllustrationSizes()
}

// UUID returns the archive identifier fixed at creation.
func (a *Archive) UUID() string {
	return a.backend.UUID()
}

// Checksum returns the stored content checksum.
func (a *Archive) Checksum() []byte {
	return a.backend.Checksum()
}

// HasFulltextIndex reports whether index records were written.
func (a *Archive) HasFulltextIndex() bool {
	return a.backend.HasFulltextIndex()
}

// Verify recomputes the content checksum against the stored one.
func (a *Archive) Verify(ctx context.Context) error {
	return a.backend.Verify(ctx)
}

// Close releases the backend. It fails with buffer_still_viewed while
// item data views are outstanding; the archive stays open in that case.
func (a *Archive) Close() error {
	return a.backend.Close()
}

// Entry is one directory entry. Entries are archive-constructed: the zero
// value is unset and every read on it fails not_initialized, which gives
// callers a declarable, assignable shape for two-phase lookup.
type Entry struct {
	box boxed.Box[entryState]
}

type entryState struct {
	a    *Archive
	info zimbridge.EntryInfo
}

func newEntry(a *Archive, info zimbridge.EntryInfo) Entry {
	return Entry{box: boxed.New(entryState{a: a, info: info})}
}

// IsSet reports whether the entry has been assigned from a lookup.
func (e *Entry) IsSet() bool {
	return e.box.IsSet()
}

// Move transfers the entry; the source becomes unset.
func (e *Entry) Move() Entry {
	return Entry{box: e.box.Move()}
}

func (e *Entry) Path() (string, error) {
	s, err := e.box.Get()
	if err != nil {
		return "", err
	}
	return s.info.Path, nil
}

func (e *Entry) Title() (string, error) {
	s, err := e.box.Get()
	if err != nil {
		return "", err
	}
	return s.info.Title, nil
}

func (e *Entry) IsRedirect() (bool, error) {
	s, err := e.box.Get()
	if err != nil {
		return false, err
	}
	return s.info.Redirect, nil
}

// Item resolves the entry to its content item. With follow set, redirect
// entries resolve through their target; without it, a redirect entry has
// no item.
func (e *Entry) Item(follow bool) (Item, error) {
	s, err := e.box.Get()
	if err != nil {
		return Item{}, err
	}
	info := s.info
	for info.Redirect {
		if !follow {
			return Item{}, errors.InvalidInput(errors.PhaseRead,
				"entry is a redirect and follow is not set")
		}
		next, ok := s.a.backend.EntryByPath(info.Target)
		if !ok {
			return Item{}, errors.NotFound(errors.PhaseRead, "redirect target", info.Target)
		}
		info = next
	}
	return Item{box: boxed.New(itemState{a: s.a, info: info})}, nil
}

// Item is one content-bearing entry. Like Entry, the zero value is unset.
type Item struct {
	box boxed.Box[itemState]
}

type itemState struct {
	a    *Archive
	info zimbridge.EntryInfo
}

// IsSet reports whether the item has been assigned.
func (i *Item) IsSet() bool {
	return i.box.IsSet()
}

// Move transfers the item; the source becomes unset.
func (i *Item) Move() Item {
	return Item{box: i.box.Move()}
}

func (i *Item) Path() (string, error) {
	s, err := i.box.Get()
	if err != nil {
		return "", err
	}
	return s.info.Path, nil
}

func (i *Item) Title() (string, error) {
	s, err := i.box.Get()
	if err != nil {
		return "", err
	}
	return s.info.Title, nil
}

func (i *Item) Mimetype() (string, error) {
	s, err := i.box.Get()
	if err != nil {
		return "", err
	}
	return s.info.Mimetype, nil
}

func (i *Item) Size() (uint64, error) {
	s, err := i.box.Get()
	if err != nil {
		return 0, err
	}
	return s.info.Size, nil
}

// Data returns the item content as a view over engine-owned bytes, no
// copy. The caller brackets access with BeginView/EndView; closing the
// archive while a view is live fails buffer_still_viewed.
func (i *Item) Data(ctx context.Context) (*blob.Blob, error) {
	s, err := i.box.Get()
	if err != nil {
		return nil, err
	}
	return s.a.backend.Data(ctx, s.info.Path)
}

// SuggestionItem is one title-prefix suggestion result.
type SuggestionItem struct {
	box boxed.Box[zimbridge.EntryInfo]
}

// IsSet reports whether the suggestion has been assigned.
func (s *SuggestionItem) IsSet() bool {
	return s.box.IsSet()
}

func (s *SuggestionItem) Path() (string, error) {
	info, err := s.box.Get()
	if err != nil {
		return "", err
	}
	return info.Path, nil
}

func (s *SuggestionItem) Title() (string, error) {
	info, err := s.box.Get()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

// SuggestionSearcher scans entry titles for a prefix. Plain scan, no
// ranking.
type SuggestionSearcher struct {
	a *Archive
}

// NewSuggestionSearcher returns a searcher over a.
func NewSuggestionSearcher(a *Archive) *SuggestionSearcher {
	return &SuggestionSearcher{a: a}
}

// Suggest returns up to limit entries whose title starts with query,
// case-insensitively, in directory order. Redirect entries are skipped.
func (s *SuggestionSearcher) Suggest(query string, limit int) []SuggestionItem {
	if limit <= 0 {
		return nil
	}
	query = strings.ToLower(query)

	var out []SuggestionItem
	count := s.a.backend.EntryCount()
	for i := uint32(0); i < count && len(out) < limit; i++ {
		info, ok := s.a.backend.EntryAt(i)
		if !ok || info.Redirect || info.Title == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(info.Title), query) {
			out = append(out, SuggestionItem{box: boxed.New(info)})
		}
	}
	return out
}
