package memtable

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sziiza66/My-LSM-Tree/internal/kv"
	"github.com/sziiza66/My-LSM-Tree/sstable"
)

func newMemtable(t *testing.T) *Memtable {
	t.Helper()
	m, err := New(100, 1000, 0.1)
	require.NoError(t, err)
	return m
}

func TestMemtable_InsertFindErase(t *testing.T) {
	m := newMemtable(t)

	require.NoError(t, m.Insert([]byte("aa"), []byte("1")))
	require.NoError(t, m.Insert([]byte("bb"), []byte("22")))

	v, ok := m.Find([]byte("bb"))
	assert.True(t, ok)
	assert.Equal(t, []byte("22"), v)

	require.NoError(t, m.Erase([]byte("bb")))
	v, ok = m.Find([]byte("bb"))
	assert.True(t, ok, "tombstone is a direct answer, not absence")
	assert.Empty(t, v)

	_, ok = m.Find([]byte("cc"))
	assert.False(t, ok)

	assert.Equal(t, 2, m.KVCount())
}

func TestMemtable_FlushRoundTrip(t *testing.T) {
	m := newMemtable(t)
	for i := 0; i < 50; i++ {
		require.NoError(t, m.Insert([]byte(fmt.Sprintf("key-%02d", i)), []byte(fmt.Sprintf("val-%02d", i))))
	}
	require.NoError(t, m.Erase([]byte("key-07")))

	var buf bytes.Buffer
	kvWritten, err := m.FlushToSSTable(&buf, false)
	require.NoError(t, err)
	assert.Equal(t, 50, kvWritten)

	r, err := sstable.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, uint64(50), r.KVCount())

	v, found, err := r.Find([]byte("key-13"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("val-13"), v)

	v, found, err = r.Find([]byte("key-07"))
	require.NoError(t, err)
	assert.True(t, found, "tombstone survives a non-skipping flush")
	assert.Empty(t, v)
}

func TestMemtable_FlushSkipsTombstones(t *testing.T) {
	m := newMemtable(t)
	require.NoError(t, m.Insert([]byte("live"), []byte("v")))
	require.NoError(t, m.Erase([]byte("dead")))

	var buf bytes.Buffer
	kvWritten, err := m.FlushToSSTable(&buf, true)
	require.NoError(t, err)
	assert.Equal(t, 1, kvWritten)

	r, err := sstable.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	_, found, err := r.Find([]byte("dead"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemtable_FlushAllTombstonesWritesNothingValid(t *testing.T) {
	m := newMemtable(t)
	require.NoError(t, m.Erase([]byte("a")))
	require.NoError(t, m.Erase([]byte("b")))

	var buf bytes.Buffer
	kvWritten, err := m.FlushToSSTable(&buf, true)
	require.NoError(t, err)
	assert.Equal(t, 0, kvWritten, "caller must not keep the output as an SSTable")
}

func TestMemtable_FindRange(t *testing.T) {
	m := newMemtable(t)
	require.NoError(t, m.Insert([]byte("a"), []byte("1")))
	require.NoError(t, m.Insert([]byte("b"), []byte("2")))
	require.NoError(t, m.Insert([]byte("c"), []byte("3")))
	require.NoError(t, m.Erase([]byte("b")))

	acc := kv.NewRangeResult()
	m.FindRange(kv.Range{Lower: []byte("a"), Upper: []byte("c"), IncludeLower: true, IncludeUpper: true}, acc)

	sorted := acc.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, []byte("a"), sorted[0].Key)
	assert.Equal(t, []byte("c"), sorted[1].Key)
	assert.Contains(t, acc.Deleted, "b")
}

func TestMemtable_Clear(t *testing.T) {
	m := newMemtable(t)
	require.NoError(t, m.Insert([]byte("a"), []byte("1")))
	m.Clear()
	assert.Equal(t, 0, m.KVCount())
	_, ok := m.Find([]byte("a"))
	assert.False(t, ok)
}

func TestMemtable_DumpKVs(t *testing.T) {
	m := newMemtable(t)
	require.NoError(t, m.Insert([]byte("aa"), []byte("11")))
	require.NoError(t, m.Erase([]byte("bb")))

	var buf bytes.Buffer
	require.NoError(t, m.DumpKVs(&buf))
	// Two records, no filter/index/footer framing:
	// {2, 2, "aa", "11"} and {2, 0, "bb"}.
	assert.Equal(t, (8+2+2)+(8+2), buf.Len())
}
