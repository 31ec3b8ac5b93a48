// Package memtable composes a Bloom filter and a skiplist into the engine's
// in-memory write table: the Memtable accepts inserts and erasures directly
// and, once full, flushes its contents to a new level-0 SSTable.
//
// There is no write-ahead log; restart survival runs entirely through the
// coordinator's metadata file (internal/metadata), which dumps the live
// Memtable on close and replays it on reopen.
package memtable

import (
	"io"

	"github.com/sziiza66/My-LSM-Tree/internal/bloom"
	"github.com/sziiza66/My-LSM-Tree/internal/kv"
	"github.com/sziiza66/My-LSM-Tree/internal/skiplist"
	"github.com/sziiza66/My-LSM-Tree/sstable"
)

// Memtable is a BloomFilter plus a SkipList with a maximum entry count.
type Memtable struct {
	filter   *bloom.Filter
	list     *skiplist.SkipList
	kvLimit  int
	sliceLen int
	fpRate   float64
}

// New constructs a Memtable accepting up to kvLimit entries, with key/value
// bytes stored in arena slices of arenaSliceSize bytes, and a Bloom filter
// sized for kvLimit keys at the given false-positive rate.
func New(kvLimit int, arenaSliceSize int, filterFalsePositiveRate float64) (*Memtable, error) {
	list, err := skiplist.New(kvLimit, arenaSliceSize)
	if err != nil {
		return nil, err
	}
	return &Memtable{
		filter:   bloom.NewOptimal(kvLimit, filterFalsePositiveRate),
		list:     list,
		kvLimit:  kvLimit,
		sliceLen: arenaSliceSize,
		fpRate:   filterFalsePositiveRate,
	}, nil
}

// Insert adds key/value, recording key in the Bloom filter and the
// skiplist.
func (m *Memtable) Insert(key, value []byte) error {
	m.filter.Insert(key)
	return m.list.Insert(key, value)
}

// Erase tombstones key in both the filter and the skiplist.
func (m *Memtable) Erase(key []byte) error {
	m.filter.Insert(key)
	return m.list.Erase(key)
}

// Find looks the key up directly in the skiplist; the Bloom filter is not
// consulted here since the skiplist's answer is already authoritative for
// the live Memtable.
func (m *Memtable) Find(key []byte) ([]byte, bool) {
	return m.list.Find(key)
}

// FindRange folds this Memtable's view of r into acc.
func (m *Memtable) FindRange(r kv.Range, acc *kv.RangeResult) {
	m.list.FindRange(r, acc)
}

// Clear resets the filter and skiplist to empty.
func (m *Memtable) Clear() {
	m.filter = bloom.NewOptimal(m.kvLimit, m.fpRate)
	m.list.Clear()
}

// KVCount returns the number of distinct keys held (including tombstones).
func (m *Memtable) KVCount() int {
	return m.list.Size()
}

// FilterBits returns the live filter's bit count, persisted in engine
// metadata so a reopened tree restores a filter of the same shape.
func (m *Memtable) FilterBits() uint64 {
	return m.filter.M()
}

// FilterHashes returns the live filter's hash-function count.
func (m *Memtable) FilterHashes() uint64 {
	return m.filter.K()
}

// ArenaSliceSize returns the arena slice size entries are stored with.
func (m *Memtable) ArenaSliceSize() int {
	return m.sliceLen
}

// FlushToSSTable writes the Memtable's contents to w in the SSTable file
// format (data, filter, index, footer). If skipTombstones is true,
// tombstoned keys are omitted from the data block (and thus from the new
// filter and index) — only legal when flushing into the deepest level,
// since no older level could still be shadowed by them. It returns the
// number of records written; a return of 0 means the caller must not treat
// w as a valid SSTable file.
func (m *Memtable) FlushToSSTable(w io.Writer, skipTombstones bool) (int, error) {
	kvWritten, dataBytes, offsets, err := m.list.WriteDataBlock(w, skipTombstones)
	if err != nil {
		return 0, err
	}
	if kvWritten == 0 {
		return 0, nil
	}

	filterBytes := m.filter.Encode()
	if _, err := w.Write(filterBytes); err != nil {
		return 0, err
	}
	filterOffset := dataBytes
	indexOffset := filterOffset + int64(len(filterBytes))

	if err := skiplist.WriteIndexBlock(w, offsets); err != nil {
		return 0, err
	}

	footer := sstable.Footer{
		FilterOffset:        uint64(filterOffset),
		FilterBits:          m.filter.M(),
		FilterHashFuncCount: m.filter.K(),
		IndexOffset:         uint64(indexOffset),
		KVCount:             uint64(kvWritten),
	}
	if err := sstable.WriteFooter(w, footer); err != nil {
		return 0, err
	}
	return kvWritten, nil
}

// DumpKVs writes every current record, tombstones included, with no
// SSTable framing — used by engine metadata persistence to make the live
// Memtable survive a restart.
func (m *Memtable) DumpKVs(w io.Writer) error {
	return m.list.DumpKVs(w)
}
