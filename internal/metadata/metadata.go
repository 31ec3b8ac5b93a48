// Package metadata persists the LSM coordinator's restart-survival state:
// engine parameters, per-level file counts, and the live Memtable's
// contents, so reopening at the same path restores exactly where the
// engine left off. SSTable files themselves carry no manifest entry; they
// are rediscovered from the level counts and the fixed path scheme.
package metadata

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/sziiza66/My-LSM-Tree/sstable"
)

// HeaderSize is the fixed byte length of the Header: eight little-endian
// u64 fields and one little-endian float64.
const HeaderSize = 9 * 8

// Header is the fixed struct of engine parameters and live-state counters
// written first in the metadata file.
type Header struct {
	ScalingFactor           uint64
	MemtableKVLimit         uint64
	CurrentMemtableKVCount  uint64
	FilterFalsePositiveRate float64
	FilterBits              uint64
	FilterHashFuncCount     uint64
	ArenaSliceSize          uint64
	FDCacheSize             uint64
	LevelCount              uint64
}

// Record is one persisted Memtable entry; an empty Value is a tombstone,
// exactly as in the live engine.
type Record struct {
	Key   []byte
	Value []byte
}

// MemtableDumper is the subset of memtable.Memtable persistence needs.
type MemtableDumper interface {
	DumpKVs(w io.Writer) error
}

// Save atomically replaces the metadata file at path with the current
// header, level file counts, and a dump of the live Memtable.
func Save(path string, h Header, levels []int, mt MemtableDumper) error {
	h.LevelCount = uint64(len(levels))

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "metadata: create %q", tmp)
	}

	if err := writeHeader(f, h); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	for _, count := range levels {
		if err := writeU64(f, uint64(count)); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := mt.DumpKVs(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "metadata: dump memtable")
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "metadata: fsync")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "metadata: close")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "metadata: rename %q -> %q", tmp, path)
	}
	return nil
}

// Load reads the header, the per-level file counts, and the dumped
// Memtable records back from path.
func Load(path string) (Header, []int, []Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, nil, errors.Wrapf(err, "metadata: open %q", path)
	}
	defer f.Close()

	h, err := readHeader(f)
	if err != nil {
		return Header{}, nil, nil, err
	}

	levels := make([]int, h.LevelCount)
	for i := range levels {
		v, err := readU64(f)
		if err != nil {
			return Header{}, nil, nil, err
		}
		levels[i] = int(v)
	}

	records := make([]Record, 0, h.CurrentMemtableKVCount)
	for i := uint64(0); i < h.CurrentMemtableKVCount; i++ {
		rec, err := readRecord(f)
		if err != nil {
			return Header{}, nil, nil, err
		}
		records = append(records, rec)
	}

	return h, levels, records, nil
}

// Exists reports whether a metadata file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SSTPath builds the canonical "<level>_<number>.sst" path within dir.
func SSTPath(dir string, level, number int) string {
	return filepath.Join(dir, strconv.Itoa(level)+"_"+strconv.Itoa(number)+".sst")
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return errors.Wrap(err, "metadata: write u64")
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.Wrap(err, "metadata: read u64")
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeHeader(w io.Writer, h Header) error {
	for _, v := range []uint64{h.ScalingFactor, h.MemtableKVLimit, h.CurrentMemtableKVCount} {
		if err := writeU64(w, v); err != nil {
			return err
		}
	}
	if err := writeU64(w, math.Float64bits(h.FilterFalsePositiveRate)); err != nil {
		return err
	}
	for _, v := range []uint64{h.FilterBits, h.FilterHashFuncCount, h.ArenaSliceSize, h.FDCacheSize, h.LevelCount} {
		if err := writeU64(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readHeader(r io.Reader) (Header, error) {
	var h Header
	var err error
	if h.ScalingFactor, err = readU64(r); err != nil {
		return h, err
	}
	if h.MemtableKVLimit, err = readU64(r); err != nil {
		return h, err
	}
	if h.CurrentMemtableKVCount, err = readU64(r); err != nil {
		return h, err
	}
	bits, err := readU64(r)
	if err != nil {
		return h, err
	}
	h.FilterFalsePositiveRate = math.Float64frombits(bits)
	if h.FilterBits, err = readU64(r); err != nil {
		return h, err
	}
	if h.FilterHashFuncCount, err = readU64(r); err != nil {
		return h, err
	}
	if h.ArenaSliceSize, err = readU64(r); err != nil {
		return h, err
	}
	if h.FDCacheSize, err = readU64(r); err != nil {
		return h, err
	}
	if h.LevelCount, err = readU64(r); err != nil {
		return h, err
	}
	return h, nil
}

func readRecord(r io.Reader) (Record, error) {
	hdr := make([]byte, sstable.RecordHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Record{}, errors.Wrap(err, "metadata: read record header")
	}
	keySize, valueSize := sstable.DecodeRecordHeader(hdr)
	payload := make([]byte, int(keySize)+int(valueSize))
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Record{}, errors.Wrap(err, "metadata: read record payload")
		}
	}
	return Record{Key: payload[:keySize], Value: payload[keySize:]}, nil
}
