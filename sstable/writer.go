package sstable

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/sziiza66/My-LSM-Tree/internal/bloom"
)

// Writer builds one SSTable file from a caller-driven sequence of
// already-sorted (key, value) pairs — the shape compaction's k-way merge
// needs, as distinct from the Memtable's own flush path (the Memtable
// streams directly out of its skiplist).
type Writer struct {
	w             io.Writer
	filter        *bloom.Filter
	offsets       []uint64
	currentOffset int64
	kvWritten     int
	hdr           [RecordHeaderSize]byte
}

// NewWriter creates a Writer over w, sizing its Bloom filter for up to
// expectedEntries keys at the given false-positive rate. expectedEntries is
// an upper bound (e.g. the sum of source kv_counts during compaction); an
// over-provisioned filter from duplicate keys is expected and harmless.
func NewWriter(w io.Writer, expectedEntries int, falsePositiveRate float64) *Writer {
	return &Writer{
		w:      w,
		filter: bloom.NewOptimal(expectedEntries, falsePositiveRate),
	}
}

// Add appends one record to the Data region, recording its offset for the
// Index region and inserting key into the new Bloom filter.
func (bw *Writer) Add(key, value []byte) error {
	bw.filter.Insert(key)
	bw.offsets = append(bw.offsets, uint64(bw.currentOffset))

	binary.LittleEndian.PutUint32(bw.hdr[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(bw.hdr[4:8], uint32(len(value)))
	if _, err := bw.w.Write(bw.hdr[:]); err != nil {
		return errors.Wrap(err, "sstable: write record header")
	}
	if len(key) > 0 {
		if _, err := bw.w.Write(key); err != nil {
			return errors.Wrap(err, "sstable: write record key")
		}
	}
	if len(value) > 0 {
		if _, err := bw.w.Write(value); err != nil {
			return errors.Wrap(err, "sstable: write record value")
		}
	}
	bw.currentOffset += int64(RecordHeaderSize) + int64(len(key)) + int64(len(value))
	bw.kvWritten++
	return nil
}

// Finish writes the filter, index, and footer blocks and returns the number
// of records written. A return of 0 means nothing was emitted and the
// caller must not treat the output as a valid SSTable file.
func (bw *Writer) Finish() (int, error) {
	if bw.kvWritten == 0 {
		return 0, nil
	}

	filterOffset := bw.currentOffset
	filterBytes := bw.filter.Encode()
	if _, err := bw.w.Write(filterBytes); err != nil {
		return 0, errors.Wrap(err, "sstable: write filter block")
	}
	indexOffset := filterOffset + int64(len(filterBytes))

	for _, off := range bw.offsets {
		var buf [IndexEntrySize]byte
		binary.LittleEndian.PutUint64(buf[:], off)
		if _, err := bw.w.Write(buf[:]); err != nil {
			return 0, errors.Wrap(err, "sstable: write index block")
		}
	}

	footer := Footer{
		FilterOffset:        uint64(filterOffset),
		FilterBits:          bw.filter.M(),
		FilterHashFuncCount: bw.filter.K(),
		IndexOffset:         uint64(indexOffset),
		KVCount:             uint64(bw.kvWritten),
	}
	if err := WriteFooter(bw.w, footer); err != nil {
		return 0, err
	}
	return bw.kvWritten, nil
}
