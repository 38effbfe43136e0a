package clusterfile

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/openzim/zimbridge"
	"github.com/openzim/zimbridge/errors"
)

// zstdEncoder and zstdDecoder are shared across clusters; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("clusterfile: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("clusterfile: zstd decoder initialization failed: " + err.Error())
	}
}

func tagFor(c zimbridge.Compression) compressionTag {
	switch c {
	case zimbridge.CompressionZstd:
		return tagZstd
	case zimbridge.CompressionLZ4:
		return tagLZ4
	default:
		return tagNone
	}
}

// compressCluster compresses raw with the requested tag. Incompressible
// clusters fall back to tagNone: the returned tag is authoritative.
func compressCluster(raw []byte, tag compressionTag) ([]byte, compressionTag, error) {
	switch tag {
	case tagNone:
		return raw, tagNone, nil

	case tagZstd:
		compressed := zstdEncoder.EncodeAll(raw, nil)
		if len(compressed) >= len(raw) {
			return raw, tagNone, nil
		}
		return compressed, tagZstd, nil

	case tagLZ4:
		bound := lz4.CompressBlockBound(len(raw))
		dst := make([]byte, bound)
		written, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input.
		if written == 0 || written >= len(raw) {
			return raw, tagNone, nil
		}
		return dst[:written], tagLZ4, nil

	default:
		return nil, 0, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// decompressCluster reverses compressCluster. The raw size comes from the
// cluster record and must match exactly.
func decompressCluster(compressed []byte, tag compressionTag, rawSize uint64) ([]byte, error) {
	switch tag {
	case tagNone:
		if uint64(len(compressed)) != rawSize {
			return nil, errors.Corrupt(fmt.Sprintf(
				"stored cluster: size %d does not match recorded %d", len(compressed), rawSize))
		}
		return compressed, nil

	case tagZstd:
		out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, rawSize))
		if err != nil {
			return nil, errors.Corrupt("zstd cluster: " + err.Error())
		}
		if uint64(len(out)) != rawSize {
			return nil, errors.Corrupt(fmt.Sprintf(
				"zstd cluster: got %d bytes, recorded %d", len(out), rawSize))
		}
		return out, nil

	case tagLZ4:
		out := make([]byte, rawSize)
		read, err := lz4.UncompressBlock(compressed, out)
		if err != nil {
			return nil, errors.Corrupt("lz4 cluster: " + err.Error())
		}
		if uint64(read) != rawSize {
			return nil, errors.Corrupt(fmt.Sprintf(
				"lz4 cluster: got %d bytes, recorded %d", read, rawSize))
		}
		return out, nil

	default:
		return nil, errors.Corrupt(fmt.Sprintf("unknown compression tag %d", tag))
	}
}
