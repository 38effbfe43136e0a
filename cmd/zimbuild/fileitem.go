package main

import (
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

const feedChunkSize = 64 << 10

// fileItem exposes one file as a guest object: it carries no compiled
// interface and is dispatched by method name through the foreign bridge,
// the same way a dynamic-runtime item would be.
type fileItem struct {
	abs string
	rel string
}

func collectFiles(root string) ([]*fileItem, error) {
	var items []*fileItem
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		items = append(items, &fileItem{abs: path, rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (it *fileItem) GetPath() string {
	return it.rel
}

func (it *fileItem) GetTitle() string {
	base := filepath.Base(it.rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (it *fileItem) GetMimetype() string {
	if mt := mime.TypeByExtension(filepath.Ext(it.rel)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func (it *fileItem) GetContentprovider() (*fileProvider, error) {
	f, err := os.Open(it.abs)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileProvider{f: f, size: uint64(st.Size())}, nil
}

// fileProvider streams a file in fixed chunks; the empty chunk after EOF
// ends the stream and closes the file.
type fileProvider struct {
	f    *os.File
	size uint64
	done bool
}

func (p *fileProvider) GetSize() uint64 {
	return p.size
}

func (p *fileProvider) Feed() ([]byte, error) {
	if p.done {
		return []byte{}, nil
	}
	buf := make([]byte, feedChunkSize)
	n, err := p.f.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	p.done = true
	p.f.Close()
	if err != nil && err != io.EOF {
		return nil, err
	}
	return []byte{}, nil
}

func (p *fileProvider) Drop() {
	if !p.done {
		p.done = true
		p.f.Close()
	}
}
