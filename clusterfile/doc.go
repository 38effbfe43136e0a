// Package clusterfile is the reference archive engine: a clustered
// container file with a CBOR directory and a BLAKE3 content checksum.
//
// Write path: the engine drains submitted items on a worker pool, packs
// their content into fixed-size clusters, compresses each cluster (zstd,
// lz4 or none, with an incompressible fallback to none) and appends it to
// the file. Finish resolves redirects and aliases, writes the directory
// and a fixed footer, and seals the checksum.
//
// Read path: Reader verifies the footer, decodes the directory and serves
// entry content as zero-copy views over lazily decompressed clusters.
package clusterfile
