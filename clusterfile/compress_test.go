package clusterfile

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestIncompressibleFallsBackToNone(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	raw := make([]byte, 1<<14)
	rng.Read(raw)

	for _, requested := range []compressionTag{tagZstd, tagLZ4} {
		out, tag, err := compressCluster(raw, requested)
		if err != nil {
			t.Fatalf("compress random data with tag %d: %v", requested, err)
		}
		if tag != tagNone {
			t.Fatalf("random data stored with tag %d, want none", tag)
		}
		if !bytes.Equal(out, raw) {
			t.Fatalf("none fallback altered the data")
		}
	}
}

func TestDecompressRejectsSizeLie(t *testing.T) {
	raw := bytes.Repeat([]byte("compressible text "), 200)
	compressed, tag, err := compressCluster(raw, tagZstd)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if tag != tagZstd {
		t.Fatalf("expected zstd to win on text, got tag %d", tag)
	}
	if _, err := decompressCluster(compressed, tag, uint64(len(raw))+1); err == nil {
		t.Fatalf("size mismatch not detected")
	}
}
