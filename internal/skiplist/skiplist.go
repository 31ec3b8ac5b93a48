// Package skiplist implements the randomized ordered index over the
// Memtable's arena: a vector of nodes addressed by position rather than by
// pointer, so a node's forward links are plain indices into that vector and
// NIL is a reserved sentinel index. The head sentinel lives at index 0;
// search descends top-down collecting an update path, and node heights come
// from Bernoulli(1/2) coin flips capped by the tower limit.
package skiplist

import (
	"encoding/binary"
	"io"
	"math/bits"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/sziiza66/My-LSM-Tree/internal/arena"
	"github.com/sziiza66/My-LSM-Tree/internal/kv"
)

// nilIdx is the reserved "no successor" sentinel forward-pointer value.
const nilIdx = ^uint32(0)

// ErrConfiguration is returned when constructed with a non-positive
// key-count limit.
var ErrConfiguration = errors.New("skiplist: kv_count_limit must be >= 1")

// ErrEmptyKey is returned for any operation on a zero-length key; keys are
// required to be a non-empty byte sequence.
var ErrEmptyKey = errors.New("skiplist: key must be non-empty")

type node struct {
	keyOffset uint64
	keySize   uint32
	valueSize uint32
	height    int
	forward   []uint32
}

// SkipList is an ordered map keyed by byte strings, whose key/value bytes
// live in an arena.Arena and whose nodes are elements of a contiguous
// vector rather than individually allocated.
type SkipList struct {
	arena    *arena.Arena
	nodes    []node
	maxLevel int
	level    int
	rng      *rand.Rand
	kvCount  int
}

// New constructs a SkipList sized for up to kvCountLimit entries, backed by
// an arena with the given slice size. The max tower height is
// min(32, bit_width(kvCountLimit)+3).
func New(kvCountLimit int, arenaSliceSize int) (*SkipList, error) {
	if kvCountLimit < 1 {
		return nil, ErrConfiguration
	}
	l := bits.Len(uint(kvCountLimit)) + 3
	if l > 32 {
		l = 32
	}
	head := node{height: l, forward: make([]uint32, l)}
	for i := range head.forward {
		head.forward[i] = nilIdx
	}
	return &SkipList{
		arena:    arena.New(arenaSliceSize),
		nodes:    []node{head},
		maxLevel: l,
		level:    1,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (s *SkipList) randomLevel() int {
	level := 1
	for level < s.maxLevel && s.rng.Float64() < 0.5 {
		level++
	}
	return level
}

// keyLess reports whether the node at idx sorts before key.
func (s *SkipList) keyLess(idx uint32, key []byte) bool {
	n := &s.nodes[idx]
	return s.arena.Compare(key, n.keyOffset, n.keySize) > 0
}

// keyEqual reports whether the node at idx has exactly key.
func (s *SkipList) keyEqual(idx uint32, key []byte) bool {
	n := &s.nodes[idx]
	return s.arena.Compare(key, n.keyOffset, n.keySize) == 0
}

// descend performs the top-down search for key, returning the update path:
// update[i] is the last node at level i whose key is less than key (head if
// none).
func (s *SkipList) descend(key []byte) []uint32 {
	update := make([]uint32, s.maxLevel)
	x := uint32(0)
	for i := s.maxLevel - 1; i >= 0; i-- {
		for s.nodes[x].forward[i] != nilIdx && s.keyLess(s.nodes[x].forward[i], key) {
			x = s.nodes[x].forward[i]
		}
		update[i] = x
	}
	return update
}

func (s *SkipList) readEntry(idx uint32) (key, value []byte) {
	n := &s.nodes[idx]
	key = make([]byte, n.keySize)
	s.arena.CopyOut(key, n.keyOffset, n.keySize)
	if n.valueSize == 0 {
		return key, []byte{}
	}
	value = make([]byte, n.valueSize)
	s.arena.CopyOut(value, n.keyOffset+uint64(n.keySize), n.valueSize)
	return key, value
}

// Insert adds or updates key. An empty value tombstones the key: if key
// already exists, only its value_size is cleared (no arena rewrite);
// otherwise a new node is spliced in at a random height.
func (s *SkipList) Insert(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	update := s.descend(key)
	if cand := s.nodes[update[0]].forward[0]; cand != nilIdx && s.keyEqual(cand, key) {
		if len(value) == 0 {
			s.nodes[cand].valueSize = 0
			return nil
		}
		buf := make([]byte, len(key)+len(value))
		copy(buf, key)
		copy(buf[len(key):], value)
		off, err := s.arena.Append(buf)
		if err != nil {
			return errors.Wrap(err, "skiplist: insert update")
		}
		s.nodes[cand].keyOffset = off
		s.nodes[cand].valueSize = uint32(len(value))
		return nil
	}

	height := s.randomLevel()
	if height > s.level {
		for i := s.level; i < height; i++ {
			update[i] = 0
		}
		s.level = height
	}

	buf := make([]byte, len(key)+len(value))
	copy(buf, key)
	copy(buf[len(key):], value)
	off, err := s.arena.Append(buf)
	if err != nil {
		return errors.Wrap(err, "skiplist: insert new node")
	}

	newIdx := uint32(len(s.nodes))
	s.nodes = append(s.nodes, node{
		keyOffset: off,
		keySize:   uint32(len(key)),
		valueSize: uint32(len(value)),
		height:    height,
		forward:   make([]uint32, height),
	})
	for i := 0; i < height; i++ {
		s.nodes[newIdx].forward[i] = s.nodes[update[i]].forward[i]
		s.nodes[update[i]].forward[i] = newIdx
	}
	s.kvCount++
	return nil
}

// Erase tombstones key; equivalent to Insert(key, nil).
func (s *SkipList) Erase(key []byte) error {
	return s.Insert(key, nil)
}

// Find returns (nil, false) if key is absent, ([]byte{}, true) if key is
// tombstoned, or (value, true) otherwise.
func (s *SkipList) Find(key []byte) ([]byte, bool) {
	if len(key) == 0 {
		return nil, false
	}
	update := s.descend(key)
	cand := s.nodes[update[0]].forward[0]
	if cand == nilIdx || !s.keyEqual(cand, key) {
		return nil, false
	}
	n := &s.nodes[cand]
	if n.valueSize == 0 {
		return []byte{}, true
	}
	value := make([]byte, n.valueSize)
	s.arena.CopyOut(value, n.keyOffset+uint64(n.keySize), n.valueSize)
	return value, true
}

// FindRange walks level 0 from the first node at-or-after the range's lower
// bound (respecting exclusivity) until the upper bound is crossed, folding
// every key not already resolved by acc into it.
func (s *SkipList) FindRange(r kv.Range, acc *kv.RangeResult) {
	var x uint32
	if r.Lower != nil {
		update := s.descend(r.Lower)
		x = update[0]
	}
	cur := s.nodes[x].forward[0]
	if cur != nilIdx && r.Lower != nil && !r.IncludeLower && s.keyEqual(cur, r.Lower) {
		cur = s.nodes[cur].forward[0]
	}
	for cur != nilIdx {
		key, value := s.readEntry(cur)
		if r.AboveUpper(key) {
			break
		}
		acc.Record(key, value)
		cur = s.nodes[cur].forward[0]
	}
}

// Clear resets the arena and node vector, keeping the head sentinel.
func (s *SkipList) Clear() {
	s.arena.Clear()
	head := node{height: s.maxLevel, forward: make([]uint32, s.maxLevel)}
	for i := range head.forward {
		head.forward[i] = nilIdx
	}
	s.nodes = []node{head}
	s.level = 1
	s.kvCount = 0
}

// DataSizeBytes returns the arena's logical byte length.
func (s *SkipList) DataSizeBytes() uint64 {
	return s.arena.TotalBytes()
}

// Size returns the number of distinct keys held (including tombstones).
func (s *SkipList) Size() int {
	return s.kvCount
}

// WriteDataBlock emits records in key order as
// {key_size, value_size, key, value}, skipping tombstones if skipDeleted.
// It returns the number of records written, the number of bytes written,
// and the data-region offset each record began at (consumed by
// WriteIndexBlock and by the SSTable footer's index_offset/kv_count).
func (s *SkipList) WriteDataBlock(w io.Writer, skipDeleted bool) (kvWritten int, bytesWritten int64, offsets []uint64, err error) {
	offsets = make([]uint64, 0, s.kvCount)
	hdr := make([]byte, 8)
	for cur := s.nodes[0].forward[0]; cur != nilIdx; cur = s.nodes[cur].forward[0] {
		n := &s.nodes[cur]
		if skipDeleted && n.valueSize == 0 {
			continue
		}
		offsets = append(offsets, uint64(bytesWritten))

		binary.LittleEndian.PutUint32(hdr[0:4], n.keySize)
		binary.LittleEndian.PutUint32(hdr[4:8], n.valueSize)
		if _, werr := w.Write(hdr); werr != nil {
			return kvWritten, bytesWritten, nil, errors.Wrap(werr, "skiplist: write data header")
		}
		bytesWritten += 8

		if werr := s.arena.WriteOut(w, n.keyOffset, n.keySize); werr != nil {
			return kvWritten, bytesWritten, nil, errors.Wrap(werr, "skiplist: write data key")
		}
		bytesWritten += int64(n.keySize)

		if n.valueSize > 0 {
			if werr := s.arena.WriteOut(w, n.keyOffset+uint64(n.keySize), n.valueSize); werr != nil {
				return kvWritten, bytesWritten, nil, errors.Wrap(werr, "skiplist: write data value")
			}
			bytesWritten += int64(n.valueSize)
		}

		kvWritten++
	}
	return kvWritten, bytesWritten, offsets, nil
}

// WriteIndexBlock emits one little-endian u64 data-region offset per
// record, consistent with the offsets returned by the WriteDataBlock call
// that preceded it.
func WriteIndexBlock(w io.Writer, offsets []uint64) error {
	buf := make([]byte, 8)
	for _, off := range offsets {
		binary.LittleEndian.PutUint64(buf, off)
		if _, err := w.Write(buf); err != nil {
			return errors.Wrap(err, "skiplist: write index block")
		}
	}
	return nil
}

// DumpKVs writes every current record, tombstones included, as
// {key_size, value_size, key, value} with no surrounding SSTable framing —
// the format the engine metadata file uses to persist live Memtable state.
func (s *SkipList) DumpKVs(w io.Writer) error {
	_, _, _, err := s.WriteDataBlock(w, false)
	return err
}
