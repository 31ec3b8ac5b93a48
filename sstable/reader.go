package sstable

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/sziiza66/My-LSM-Tree/internal/bloom"
	"github.com/sziiza66/My-LSM-Tree/internal/kv"
)

// Reader is a read-only view of one on-disk SSTable file: binary search via
// the offset index, Bloom-filter probing, range scan, and a streaming
// forward iterator for compaction. It issues only positioned reads (never
// assuming a private cursor), since the underlying io.ReaderAt may be a
// descriptor shared by several Readers of the same path through the
// engine's readermanager.
type Reader struct {
	ra     io.ReaderAt
	size   int64
	footer Footer
	filter *bloom.Filter

	// keyBuf is scratch reused by readKeyAt across binary-search probes and
	// sequential scans, so key bytes are not allocated per probe (the small
	// record-header and index-entry buffers still are). Keys handed out of
	// readKeyAt are only valid until the next read.
	keyBuf []byte
}

// NewReader opens a Reader over ra (size bytes long), reading the footer
// from size-FooterSize and eagerly loading the (typically small) filter
// block into memory.
func NewReader(ra io.ReaderAt, size int64) (*Reader, error) {
	if size < int64(FooterSize) {
		return nil, errors.Errorf("sstable: file too short to hold a footer: %d bytes", size)
	}
	footerBuf := make([]byte, FooterSize)
	if _, err := ra.ReadAt(footerBuf, size-int64(FooterSize)); err != nil {
		return nil, errors.Wrap(err, "sstable: read footer")
	}
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}

	var filter *bloom.Filter
	filterSize := footer.IndexOffset - footer.FilterOffset
	if footer.FilterBits > 0 && filterSize > 0 {
		filterBuf := make([]byte, filterSize)
		if _, err := ra.ReadAt(filterBuf, int64(footer.FilterOffset)); err != nil {
			return nil, errors.Wrap(err, "sstable: read filter block")
		}
		filter, err = bloom.Decode(filterBuf, footer.FilterBits, footer.FilterHashFuncCount)
		if err != nil {
			return nil, err
		}
	} else {
		filter = bloom.NewOptimal(0, 0.01)
	}

	return &Reader{ra: ra, size: size, footer: footer, filter: filter}, nil
}

// Open is a convenience constructor for callers (such as tests) that want a standalone Reader without going through the engine's
// readermanager.
func Open(path string) (*Reader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "sstable: open")
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, "sstable: stat")
	}
	r, err := NewReader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return r, f, nil
}

// KVCount returns the number of records in the file.
func (r *Reader) KVCount() uint64 {
	return r.footer.KVCount
}

// Footer exposes the parsed footer, e.g. for diagnostics.
func (r *Reader) Footer() Footer {
	return r.footer
}

// Probe reports whether the Bloom filter may contain a key whose two base
// hashes are (h1, h2). False means the key is definitely absent from this
// file.
func (r *Reader) Probe(h1, h2 uint64) bool {
	return r.filter.ContainsHash(h1, h2)
}

func (r *Reader) dataOffsetAt(idx int) (uint64, error) {
	buf := make([]byte, IndexEntrySize)
	if _, err := r.ra.ReadAt(buf, int64(r.footer.IndexOffset)+int64(idx)*IndexEntrySize); err != nil {
		return 0, errors.Wrap(err, "sstable: read index entry")
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// readKeyAt reads a record's header and key (not its value) at the given
// data-region offset.
func (r *Reader) readKeyAt(dataOffset uint64) (key []byte, valueSize uint32, err error) {
	hdr := make([]byte, RecordHeaderSize)
	if _, err := r.ra.ReadAt(hdr, int64(dataOffset)); err != nil {
		return nil, 0, errors.Wrap(err, "sstable: read record header")
	}
	keySize, valueSize := DecodeRecordHeader(hdr)
	if cap(r.keyBuf) < int(keySize) {
		r.keyBuf = make([]byte, keySize)
	}
	key = r.keyBuf[:keySize]
	if keySize > 0 {
		if _, err := r.ra.ReadAt(key, int64(dataOffset)+RecordHeaderSize); err != nil {
			return nil, 0, errors.Wrap(err, "sstable: read record key")
		}
	}
	return key, valueSize, nil
}

func (r *Reader) readValueAt(dataOffset uint64, keySize, valueSize uint32) ([]byte, error) {
	if valueSize == 0 {
		return []byte{}, nil
	}
	value := make([]byte, valueSize)
	if _, err := r.ra.ReadAt(value, int64(dataOffset)+RecordHeaderSize+int64(keySize)); err != nil {
		return nil, errors.Wrap(err, "sstable: read record value")
	}
	return value, nil
}

// lowerBound returns the first index in [0, kvCount] whose key is >=
// target (kvCount if none is), using a half-open [lo, hi) binary search
// with lo=0, hi=kvCount. An exclusion at the matched index is handled by
// the caller rather than by the search itself.
func (r *Reader) lowerBound(target []byte) (int, error) {
	kvCount := int(r.footer.KVCount)
	lo, hi := 0, kvCount
	for lo < hi {
		mid := (lo + hi) / 2
		off, err := r.dataOffsetAt(mid)
		if err != nil {
			return 0, err
		}
		key, _, err := r.readKeyAt(off)
		if err != nil {
			return 0, err
		}
		if kv.Compare(key, target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// Find performs a binary search for key. A nil value with found=false means
// key is absent from this file; an empty, non-nil value with found=true
// means key is tombstoned here (the caller must treat it as deleted rather
// than continue searching older sources).
func (r *Reader) Find(key []byte) (value []byte, found bool, err error) {
	idx, err := r.lowerBound(key)
	if err != nil {
		return nil, false, err
	}
	if idx >= int(r.footer.KVCount) {
		return nil, false, nil
	}
	off, err := r.dataOffsetAt(idx)
	if err != nil {
		return nil, false, err
	}
	foundKey, valueSize, err := r.readKeyAt(off)
	if err != nil {
		return nil, false, err
	}
	if !bytes.Equal(foundKey, key) {
		return nil, false, nil
	}
	value, err = r.readValueAt(off, uint32(len(foundKey)), valueSize)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// FindRange positions to the first record at-or-after rng.Lower (respecting
// exclusivity), then scans forward, folding every key not already resolved
// by a newer source into acc, stopping once the upper bound is crossed.
func (r *Reader) FindRange(rng kv.Range, acc *kv.RangeResult) error {
	kvCount := int(r.footer.KVCount)
	start := 0
	if rng.Lower != nil {
		idx, err := r.lowerBound(rng.Lower)
		if err != nil {
			return err
		}
		start = idx
		if start < kvCount && !rng.IncludeLower {
			off, err := r.dataOffsetAt(start)
			if err != nil {
				return err
			}
			k, _, err := r.readKeyAt(off)
			if err != nil {
				return err
			}
			if bytes.Equal(k, rng.Lower) {
				start++
			}
		}
	}

	for i := start; i < kvCount; i++ {
		off, err := r.dataOffsetAt(i)
		if err != nil {
			return err
		}
		k, valueSize, err := r.readKeyAt(off)
		if err != nil {
			return err
		}
		if rng.AboveUpper(k) {
			break
		}
		value, err := r.readValueAt(off, uint32(len(k)), valueSize)
		if err != nil {
			return err
		}
		acc.Record(k, value)
	}
	return nil
}
