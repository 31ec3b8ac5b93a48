package skiplist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sziiza66/My-LSM-Tree/internal/kv"
)

func newList(t *testing.T) *SkipList {
	t.Helper()
	s, err := New(1000, 64)
	require.NoError(t, err)
	return s
}

func TestSkipList_InsertFind(t *testing.T) {
	s := newList(t)

	require.NoError(t, s.Insert([]byte("key1"), []byte("value1")))
	got, ok := s.Find([]byte("key1"))
	assert.True(t, ok)
	assert.Equal(t, []byte("value1"), got)

	// Update in place.
	require.NoError(t, s.Insert([]byte("key1"), []byte("value2")))
	got, ok = s.Find([]byte("key1"))
	assert.True(t, ok)
	assert.Equal(t, []byte("value2"), got)
	assert.Equal(t, 1, s.Size())

	_, ok = s.Find([]byte("missing"))
	assert.False(t, ok)
}

func TestSkipList_EraseProducesTombstone(t *testing.T) {
	s := newList(t)
	require.NoError(t, s.Insert([]byte("k"), []byte("v")))
	require.NoError(t, s.Erase([]byte("k")))

	got, ok := s.Find([]byte("k"))
	assert.True(t, ok, "tombstone is still present in the list")
	assert.Empty(t, got)
	assert.Equal(t, 1, s.Size())

	// Erasing a key never seen still records a tombstone.
	require.NoError(t, s.Erase([]byte("never")))
	got, ok = s.Find([]byte("never"))
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestSkipList_EmptyKeyRejected(t *testing.T) {
	s := newList(t)
	assert.ErrorIs(t, s.Insert(nil, []byte("v")), ErrEmptyKey)
}

func TestSkipList_ConfigurationError(t *testing.T) {
	_, err := New(0, 64)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestSkipList_ForwardWalkIsSorted(t *testing.T) {
	s := newList(t)
	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key-%03d", (i*7919)%500))
		require.NoError(t, s.Insert(key, []byte("v")))
	}

	// DumpKVs emits records in level-0 chain order, so decoding its keys
	// yields the forward walk itself.
	var buf bytes.Buffer
	require.NoError(t, s.DumpKVs(&buf))
	raw := buf.Bytes()
	var walked [][]byte
	for len(raw) > 0 {
		keySize := binary.LittleEndian.Uint32(raw[0:4])
		valueSize := binary.LittleEndian.Uint32(raw[4:8])
		walked = append(walked, raw[8:8+keySize])
		raw = raw[8+keySize+valueSize:]
	}
	require.Len(t, walked, 500)
	for i := 1; i < len(walked); i++ {
		assert.True(t, kv.Compare(walked[i-1], walked[i]) < 0,
			"keys out of order at %d: %q >= %q", i, walked[i-1], walked[i])
	}
}

func TestSkipList_FindRangeBounds(t *testing.T) {
	s := newList(t)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Insert([]byte(k), []byte("v-"+k)))
	}

	collect := func(r kv.Range) []string {
		acc := kv.NewRangeResult()
		s.FindRange(r, acc)
		var keys []string
		for _, e := range acc.Sorted() {
			keys = append(keys, string(e.Key))
		}
		return keys
	}

	assert.Equal(t, []string{"b", "c", "d"},
		collect(kv.Range{Lower: []byte("b"), Upper: []byte("d"), IncludeLower: true, IncludeUpper: true}))
	assert.Equal(t, []string{"c"},
		collect(kv.Range{Lower: []byte("b"), Upper: []byte("d"), IncludeLower: false, IncludeUpper: false}))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, collect(kv.Range{}))
	assert.Equal(t, []string{"d", "e"}, collect(kv.Range{Lower: []byte("d"), IncludeLower: true}))
	assert.Equal(t, []string{"a", "b"}, collect(kv.Range{Upper: []byte("c"), IncludeUpper: false}))
}

func TestSkipList_FindRangeSkipsTombstonesIntoDeleted(t *testing.T) {
	s := newList(t)
	require.NoError(t, s.Insert([]byte("a"), []byte("1")))
	require.NoError(t, s.Insert([]byte("b"), []byte("2")))
	require.NoError(t, s.Erase([]byte("b")))

	acc := kv.NewRangeResult()
	s.FindRange(kv.Range{}, acc)
	assert.Len(t, acc.Accumulated, 1)
	assert.Contains(t, acc.Deleted, "b")
}

func TestSkipList_WriteDataBlockFormat(t *testing.T) {
	s := newList(t)
	require.NoError(t, s.Insert([]byte("bb"), []byte("22")))
	require.NoError(t, s.Insert([]byte("aa"), []byte("1")))

	var buf bytes.Buffer
	kvWritten, bytesWritten, offsets, err := s.WriteDataBlock(&buf, false)
	require.NoError(t, err)
	assert.Equal(t, 2, kvWritten)
	assert.Equal(t, int64(buf.Len()), bytesWritten)
	require.Equal(t, []uint64{0, 11}, offsets)

	// First record: {key_size=2, value_size=1, "aa", "1"} — records come out
	// in key order regardless of insertion order.
	raw := buf.Bytes()
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(raw[0:4]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(raw[4:8]))
	assert.Equal(t, []byte("aa1"), raw[8:11])
}

func TestSkipList_WriteDataBlockSkipDeleted(t *testing.T) {
	s := newList(t)
	require.NoError(t, s.Insert([]byte("aa"), []byte("1")))
	require.NoError(t, s.Insert([]byte("bb"), []byte("2")))
	require.NoError(t, s.Erase([]byte("aa")))

	var buf bytes.Buffer
	kvWritten, _, offsets, err := s.WriteDataBlock(&buf, true)
	require.NoError(t, err)
	assert.Equal(t, 1, kvWritten)
	assert.Equal(t, []uint64{0}, offsets)

	buf.Reset()
	kvWritten, _, _, err = s.WriteDataBlock(&buf, false)
	require.NoError(t, err)
	assert.Equal(t, 2, kvWritten, "tombstones are kept when skipDeleted is false")
}

func TestSkipList_Clear(t *testing.T) {
	s := newList(t)
	require.NoError(t, s.Insert([]byte("a"), []byte("1")))
	s.Clear()
	assert.Equal(t, 0, s.Size())
	assert.Equal(t, uint64(0), s.DataSizeBytes())
	_, ok := s.Find([]byte("a"))
	assert.False(t, ok)

	require.NoError(t, s.Insert([]byte("b"), []byte("2")))
	got, ok := s.Find([]byte("b"))
	assert.True(t, ok)
	assert.Equal(t, []byte("2"), got)
}
