package record

import (
	"github.com/klauspost/compress/zstd"
)

// CompressSnapshot compresses the manifest's initial full-Version snapshot
// record. Snapshot records can be large (one entry per live SSTable) while
// the VersionEdit records that follow it are small deltas not worth the
// encoder setup cost, so only the snapshot record is compressed.
func CompressSnapshot(payload []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(payload, nil), nil
}

// DecompressSnapshot reverses CompressSnapshot.
func DecompressSnapshot(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(compressed, nil)
}
