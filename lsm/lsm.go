// Package lsm implements the LSM tree coordinator: the engine's single
// entry point for Insert/Erase/Find/FindRange. It owns the Memtable, the
// tiered on-disk level layout, and the descriptor cache, and persists
// enough of itself on close to survive a restart.
//
// Writes land in the Memtable; when it fills, its contents flush to a new
// level-0 SSTable, and once level 0 holds ScalingFactor files the whole
// prefix of the hierarchy is merged into the shallowest level with room.
// Tombstones propagate through merges until they reach a freshly created
// deepest level, where they are physically dropped.
package lsm

import (
	"log"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/sziiza66/My-LSM-Tree/internal/hashing"
	"github.com/sziiza66/My-LSM-Tree/internal/kv"
	"github.com/sziiza66/My-LSM-Tree/internal/metadata"
	"github.com/sziiza66/My-LSM-Tree/internal/readermanager"
	"github.com/sziiza66/My-LSM-Tree/memtable"
	"github.com/sziiza66/My-LSM-Tree/sstable"
)

// ErrConfiguration is returned when Options fail validation.
var ErrConfiguration = errors.New("lsm: memtable_kv_limit must be >= 1")

// Range is a key interval descriptor for FindRange.
type Range = kv.Range

// KV is a resolved key/value pair returned by FindRange.
type KV = kv.KV

// Options are the engine parameters, either passed fresh at construction or
// restored from the metadata file on reopen.
type Options struct {
	ScalingFactor           int // F: per-level file/size multiplier
	MemtableKVLimit         int
	ArenaSliceSize          int
	FilterFalsePositiveRate float64
	FDCacheSize             int
}

// Tree is the LSM coordinator. A single mutex guards all operations; every
// public method is fully serialized.
type Tree struct {
	mu           sync.Mutex
	dir          string
	metadataPath string
	opts         Options
	mt           *memtable.Memtable
	readers      *readermanager.Manager
	levels       []int // levels[i] = file count at level i; level 0 is newest
	closed       bool
}

// Open creates a fresh engine rooted at dir, with metadata persisted at
// metadataPath.
func Open(opts Options, dir, metadataPath string) (*Tree, error) {
	if opts.MemtableKVLimit < 1 {
		return nil, ErrConfiguration
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "lsm: create data directory")
	}
	mt, err := memtable.New(opts.MemtableKVLimit, opts.ArenaSliceSize, opts.FilterFalsePositiveRate)
	if err != nil {
		return nil, err
	}
	return &Tree{
		dir:          dir,
		metadataPath: metadataPath,
		opts:         opts,
		mt:           mt,
		readers:      readermanager.New(opts.FDCacheSize),
	}, nil
}

// Reopen restores an engine from its metadata file: parameters, per-level
// file counts, and the live Memtable's contents. SSTable files themselves
// are discovered implicitly by path(i, j) as levels are consulted; no
// directory listing is needed.
func Reopen(dir, metadataPath string) (*Tree, error) {
	h, levels, records, err := metadata.Load(metadataPath)
	if err != nil {
		return nil, err
	}
	opts := Options{
		ScalingFactor:           int(h.ScalingFactor),
		MemtableKVLimit:         int(h.MemtableKVLimit),
		ArenaSliceSize:          int(h.ArenaSliceSize),
		FilterFalsePositiveRate: h.FilterFalsePositiveRate,
		FDCacheSize:             int(h.FDCacheSize),
	}
	mt, err := memtable.New(opts.MemtableKVLimit, opts.ArenaSliceSize, opts.FilterFalsePositiveRate)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := mt.Insert(rec.Key, rec.Value); err != nil {
			return nil, errors.Wrap(err, "lsm: restore memtable record")
		}
	}
	return &Tree{
		dir:          dir,
		metadataPath: metadataPath,
		opts:         opts,
		mt:           mt,
		readers:      readermanager.New(opts.FDCacheSize),
		levels:       levels,
	}, nil
}

func (t *Tree) sstPath(level, number int) string {
	return metadata.SSTPath(t.dir, level, number)
}

// Insert adds key/value. An empty value is reserved to mean "delete" —
// callers should use Erase for that instead of relying on this fallthrough.
func (t *Tree) Insert(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.mt.Insert(key, value); err != nil {
		return err
	}
	return t.maybeFlush()
}

// Erase tombstones key.
func (t *Tree) Erase(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.mt.Erase(key); err != nil {
		return err
	}
	return t.maybeFlush()
}

// Find looks key up: the Memtable first, then level by level (newest
// first), file by file within a level (newest first), probing each
// SSTable's Bloom filter before a binary search.
func (t *Tree) Find(key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if value, ok := t.mt.Find(key); ok {
		if len(value) == 0 {
			return nil, false, nil
		}
		return value, true, nil
	}

	h1, h2 := hashing.Sum128(key)
	for i := 0; i < len(t.levels); i++ {
		for j := t.levels[i] - 1; j >= 0; j-- {
			value, found, err := t.probeFile(i, j, key, h1, h2)
			if err != nil {
				return nil, false, err
			}
			if found {
				if len(value) == 0 {
					return nil, false, nil
				}
				return value, true, nil
			}
		}
	}
	return nil, false, nil
}

func (t *Tree) probeFile(level, number int, key []byte, h1, h2 uint64) (value []byte, found bool, err error) {
	rd, err := t.readers.CreateReader(t.sstPath(level, number))
	if err != nil {
		return nil, false, errors.Wrap(err, "lsm: open sstable for read")
	}
	defer rd.Close()

	reader, err := sstable.NewReader(rd, rd.Size())
	if err != nil {
		return nil, false, err
	}
	if !reader.Probe(h1, h2) {
		return nil, false, nil
	}
	return reader.Find(key)
}

// FindRange returns every (key, value) with a non-tombstone value, within
// the range, as of the most recent write to each key — newest source wins,
// fanning out across the Memtable and every level/file newest to oldest.
func (t *Tree) FindRange(r Range) ([]KV, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	acc := kv.NewRangeResult()
	t.mt.FindRange(r, acc)

	for i := 0; i < len(t.levels); i++ {
		for j := t.levels[i] - 1; j >= 0; j-- {
			rd, err := t.readers.CreateReader(t.sstPath(i, j))
			if err != nil {
				return nil, errors.Wrap(err, "lsm: open sstable for range read")
			}
			reader, err := sstable.NewReader(rd, rd.Size())
			if err != nil {
				rd.Close()
				return nil, err
			}
			err = reader.FindRange(r, acc)
			rd.Close()
			if err != nil {
				return nil, err
			}
		}
	}

	return acc.Sorted(), nil
}

// Close persists engine metadata: parameters, per-level file counts, and
// the live Memtable's contents, so a later Reopen restores this exact
// state.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	h := metadata.Header{
		ScalingFactor:           uint64(t.opts.ScalingFactor),
		MemtableKVLimit:         uint64(t.opts.MemtableKVLimit),
		CurrentMemtableKVCount:  uint64(t.mt.KVCount()),
		FilterFalsePositiveRate: t.opts.FilterFalsePositiveRate,
		FilterBits:              t.mt.FilterBits(),
		FilterHashFuncCount:     t.mt.FilterHashes(),
		ArenaSliceSize:          uint64(t.opts.ArenaSliceSize),
		FDCacheSize:             uint64(t.opts.FDCacheSize),
	}
	if err := metadata.Save(t.metadataPath, h, t.levels, t.mt); err != nil {
		return err
	}
	t.closed = true
	return nil
}

// allocateFileAtLevel returns the next file number to write at level, and
// whether tombstones may be discarded there (only true when the level is
// being created for the first time, since that makes it the deepest level
// and no older level could still shadow a tombstone written there).
func (t *Tree) allocateFileAtLevel(level int) (number int, deleteTombstones bool, created bool) {
	if level < len(t.levels) {
		return t.levels[level], false, false
	}
	for len(t.levels) <= level {
		t.levels = append(t.levels, 0)
	}
	return 0, true, true
}

// maybeFlush flushes the Memtable to a new level-0 SSTable once it has
// reached memtable_kv_limit entries, cascading into compaction if level 0
// is now full.
func (t *Tree) maybeFlush() error {
	if t.mt.KVCount() < t.opts.MemtableKVLimit {
		return nil
	}

	number, deleteTombstones, created := t.allocateFileAtLevel(0)
	path := t.sstPath(0, number)
	log.Printf("flush: memtable full, writing 0_%d.sst", number)

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "lsm: create level-0 sstable")
	}
	kvWritten, err := t.mt.FlushToSSTable(f, deleteTombstones)
	if err != nil {
		f.Close()
		return errors.Wrap(err, "lsm: flush memtable")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "lsm: fsync level-0 sstable")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "lsm: close level-0 sstable")
	}
	t.mt.Clear()

	if kvWritten == 0 {
		os.Remove(path)
		if created {
			t.levels = t.levels[:0]
		}
		return nil
	}

	t.levels[0]++
	if t.levels[0] == t.opts.ScalingFactor {
		return t.compactUpTo(t.cascadeTarget())
	}
	return nil
}

// cascadeTarget finds the smallest level i >= 1 whose file count stays
// below ScalingFactor after receiving one more file (levels[i]+1 < F), or
// the index one past the end if no existing level qualifies (or none exist
// yet beyond level 0).
func (t *Tree) cascadeTarget() int {
	for i := 1; i < len(t.levels); i++ {
		if t.levels[i]+1 < t.opts.ScalingFactor {
			return i
		}
	}
	return len(t.levels)
}
