package sstable

import (
	"github.com/DataDog/zstd"
	"github.com/golang/snappy"

	"github.com/edb-project/embeddeddb/internal/base"
)

// Compression selects the per-block compression codec. It is recorded in
// the table footer so a reader never needs Options to decode a table.
type Compression uint8

const (
	// CompressionNone stores blocks verbatim.
	CompressionNone Compression = iota
	// CompressionSnappy favors decode speed over ratio.
	CompressionSnappy
	// CompressionZstd favors ratio over decode speed.
	CompressionZstd
)

func compressBlock(kind Compression, raw []byte) ([]byte, error) {
	switch kind {
	case CompressionNone:
		return raw, nil
	case CompressionSnappy:
		return snappy.Encode(nil, raw), nil
	case CompressionZstd:
		return zstd.Compress(nil, raw)
	default:
		return nil, base.CorruptionErrorf("sstable: unknown compression kind %d", kind)
	}
}

func decompressBlock(kind Compression, compressed []byte) ([]byte, error) {
	switch kind {
	case CompressionNone:
		return compressed, nil
	case CompressionSnappy:
		return snappy.Decode(nil, compressed)
	case CompressionZstd:
		return zstd.Decompress(nil, compressed)
	default:
		return nil, base.CorruptionErrorf("sstable: unknown compression kind %d", kind)
	}
}
