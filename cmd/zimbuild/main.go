package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/openzim/zimbridge"
	"github.com/openzim/zimbridge/clusterfile"
	"github.com/openzim/zimbridge/creator"
	"github.com/openzim/zimbridge/reader"
)

func main() {
	var (
		buildDir    = flag.String("build", "", "Build an archive from this directory tree")
		out         = flag.String("out", "", "Output archive path (with -build)")
		title       = flag.String("title", "", "Archive title metadata (with -build)")
		mainPath    = flag.String("main", "", "Main entry path (with -build)")
		compression = flag.String("compression", "zstd", "Cluster compression: zstd, lz4 or none")
		clusterSize = flag.Uint64("cluster-size", 2<<20, "Target uncompressed cluster size in bytes")
		workers     = flag.Int("workers", 4, "Engine worker goroutines")
		indexing    = flag.Bool("index", false, "Record full-text index data")
		indexLang   = flag.String("lang", "eng", "Index language (with -index)")

		archive     = flag.String("archive", "", "Inspect this archive")
		list        = flag.Bool("list", false, "List entries and exit")
		show        = flag.String("show", "", "Print the content of one entry")
		verify      = flag.Bool("verify", false, "Verify the archive checksum")
		interactive = flag.Bool("i", false, "Interactive browser")

		verbose = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	log := zap.NewNop()
	if *verbose {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	switch {
	case *buildDir != "":
		if *out == "" {
			fmt.Fprintln(os.Stderr, "Usage: zimbuild -build <dir> -out <file.zcf> [-title t] [-main path]")
			os.Exit(1)
		}
		cfg := buildConfig{
			dir:         *buildDir,
			out:         *out,
			title:       *title,
			mainPath:    *mainPath,
			compression: parseCompression(*compression),
			clusterSize: *clusterSize,
			workers:     *workers,
			indexing:    *indexing,
			indexLang:   *indexLang,
		}
		if err := build(cfg, log); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case *archive != "":
		if *interactive {
			if err := runInteractive(*archive); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
		if err := inspect(*archive, *list, *show, *verify, log); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "Usage: zimbuild -build <dir> -out <file.zcf>")
		fmt.Fprintln(os.Stderr, "       zimbuild -archive <file.zcf> [-list] [-show path] [-verify]")
		fmt.Fprintln(os.Stderr, "       zimbuild -archive <file.zcf> -i  (interactive browser)")
		os.Exit(1)
	}
}

func parseCompression(name string) zimbridge.Compression {
	switch strings.ToLower(name) {
	case "lz4":
		return zimbridge.CompressionLZ4
	case "none":
		return zimbridge.CompressionNone
	default:
		return zimbridge.CompressionZstd
	}
}

type buildConfig struct {
	dir         string
	out         string
	title       string
	mainPath    string
	compression zimbridge.Compression
	clusterSize uint64
	workers     int
	indexing    bool
	indexLang   string
}

func build(cfg buildConfig, log *zap.Logger) error {
	ctx := context.Background()

	items, err := collectFiles(cfg.dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", cfg.dir, err)
	}
	if len(items) == 0 {
		return fmt.Errorf("no files under %s", cfg.dir)
	}

	c := creator.New(clusterfile.NewEngine(clusterfile.WithLogger(log)), cfg.out,
		creator.WithLogger(log)).
		ConfigCompression(cfg.compression).
		ConfigClusterSize(cfg.clusterSize).
		ConfigNbWorkers(cfg.workers).
		ConfigIndexing(cfg.indexing, cfg.indexLang)
	if err := c.Start(ctx); err != nil {
		return err
	}

	for _, item := range items {
		if err := c.AddItem(ctx, item); err != nil {
			c.Abort(ctx)
			return fmt.Errorf("add %s: %w", item.rel, err)
		}
	}
	if cfg.title != "" {
		if err := c.AddMetadata(ctx, "Title", []byte(cfg.title), ""); err != nil {
			c.Abort(ctx)
			return err
		}
	}
	if cfg.mainPath != "" {
		if err := c.SetMainPath(cfg.mainPath); err != nil {
			c.Abort(ctx)
			return err
		}
	}
	if err := c.Finish(ctx); err != nil {
		return err
	}

	fmt.Printf("Wrote %s: %d entries\n", cfg.out, len(items))
	return nil
}

func inspect(path string, list bool, show string, verify bool, log *zap.Logger) error {
	ctx := context.Background()

	a, err := reader.OpenFile(path, reader.WithLogger(log))
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Archive: %s\n", path)
	fmt.Printf("UUID: %s\n", a.UUID())
	fmt.Printf("Entries: %d\n", a.EntryCount())
	fmt.Printf("Checksum: %s\n", hex.EncodeToString(a.Checksum()))
	fmt.Printf("Full-text index: %v\n", a.HasFulltextIndex())
	for _, key := range a.MetadataKeys() {
		value, err := a.Metadata(key)
		if err != nil {
			continue
		}
		fmt.Printf("Metadata %s: %s\n", key, value)
	}

	if verify {
		if err := a.Verify(ctx); err != nil {
			return err
		}
		fmt.Println("Checksum OK")
	}

	if list {
		fmt.Println("\nEntries:")
		for i := uint32(0); i < a.EntryCount(); i++ {
			entry, err := a.EntryAt(i)
			if err != nil {
				return err
			}
			p, _ := entry.Path()
			t, _ := entry.Title()
			if red, _ := entry.IsRedirect(); red {
				fmt.Printf("  %s -> (redirect) %s\n", p, t)
				continue
			}
			item, err := entry.Item(false)
			if err != nil {
				return err
			}
			mt, _ := item.Mimetype()
			size, _ := item.Size()
			fmt.Printf("  %s  %s  %d bytes  %s\n", p, mt, size, t)
		}
	}

	if show != "" {
		entry, err := a.EntryByPath(show)
		if err != nil {
			return err
		}
		item, err := entry.Item(true)
		if err != nil {
			return err
		}
		b, err := item.Data(ctx)
		if err != nil {
			return err
		}
		b.BeginView()
		os.Stdout.Write(b.Data())
		b.EndView()
	}

	return nil
}
