package embeddeddb

import (
	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/internal/manifest"
	"github.com/edb-project/embeddeddb/vfs"
)

// Cache is an opaque handle to a shared SSTable block cache, passed by
// reference so that several EmbeddedDB instances in the same process can
// share memory. The engine itself never inspects its contents.
type Cache struct {
	capacity int64
}

// NewCache allocates a cache with the given byte capacity.
func NewCache(capacity int64) *Cache { return &Cache{capacity: capacity} }

// Options configures Open, exactly the surface spec.md §6 enumerates.
type Options struct {
	// FS is the filesystem Open operates against; defaults to vfs.Default.
	FS vfs.FS

	// CreateIfMissing creates the directory/database if it does not exist.
	CreateIfMissing bool
	// ErrorIfExists fails Open if a database is already present.
	ErrorIfExists bool
	// ReadOnly rejects writes and does not start the compaction worker.
	ReadOnly bool
	// DisableWAL skips the write-ahead log; write() is then durable only
	// once the batch's memtable has been flushed to an SSTable.
	DisableWAL bool

	// WriteBufferSize is the memtable-full threshold, in bytes.
	WriteBufferSize uint64
	// ManualCompactionsOnly disables automatically signaling the
	// compaction worker when the memtable crosses WriteBufferSize.
	ManualCompactionsOnly bool

	// BlockCache is accepted and kept on Options; SSTable block reads do
	// not go through it.
	BlockCache *Cache

	// Comparer is the user-key comparator; defaults to bytewise order.
	Comparer *base.Comparer

	// L0CompactionTrigger is the level-0 file count that scores 1.0.
	L0CompactionTrigger int
	// TargetFileSizeBase and TargetFileSizeMultiplier set the geometric
	// growth of target output-file size per level.
	TargetFileSizeBase       uint64
	TargetFileSizeMultiplier float64
	// LevelSizeBase and LevelSizeMultiplier set the geometric growth of
	// each level's byte budget.
	LevelSizeBase       uint64
	LevelSizeMultiplier float64
	// NumLevels is the number of on-disk levels, including level 0.
	NumLevels int

	// Logger receives diagnostic messages from the engine and the
	// compaction worker.
	Logger base.Logger
}

// EnsureDefaults returns a copy of o with every zero-valued field replaced
// by the engine's default.
func (o Options) EnsureDefaults() Options {
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.WriteBufferSize == 0 {
		o.WriteBufferSize = 4 << 20
	}
	if o.Comparer == nil {
		o.Comparer = base.DefaultComparer
	}
	if o.L0CompactionTrigger == 0 {
		o.L0CompactionTrigger = 4
	}
	if o.TargetFileSizeBase == 0 {
		o.TargetFileSizeBase = 2 << 20
	}
	if o.TargetFileSizeMultiplier == 0 {
		o.TargetFileSizeMultiplier = 2
	}
	if o.LevelSizeBase == 0 {
		o.LevelSizeBase = 10 << 20
	}
	if o.LevelSizeMultiplier == 0 {
		o.LevelSizeMultiplier = 10
	}
	if o.NumLevels == 0 {
		o.NumLevels = 7
	}
	if o.Logger == nil {
		o.Logger = defaultLogger{}
	}
	return o
}

// versionSetOptions projects the VersionSet-relevant subset of o.
func (o Options) versionSetOptions() manifest.Options {
	return manifest.Options{
		Compare:             o.Comparer.Compare,
		L0CompactionTrigger: o.L0CompactionTrigger,
		TargetFileSizeBase:  o.TargetFileSizeBase,
		TargetFileSizeMulti: o.TargetFileSizeMultiplier,
		LevelSizeBase:       o.LevelSizeBase,
		LevelSizeMultiplier: o.LevelSizeMultiplier,
		NumLevels:           o.NumLevels,
	}
}
