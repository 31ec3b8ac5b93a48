package metadata

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dumper satisfies MemtableDumper with a canned record stream.
type dumper struct {
	raw []byte
}

func (d dumper) DumpKVs(w io.Writer) error {
	_, err := w.Write(d.raw)
	return err
}

// record encodes one {key_size, value_size, key, value} run.
func record(key, value string) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{byte(len(key)), 0, 0, 0, byte(len(value)), 0, 0, 0})
	buf.WriteString(key)
	buf.WriteString(value)
	return buf.Bytes()
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.bin")

	h := Header{
		ScalingFactor:           4,
		MemtableKVLimit:         100,
		CurrentMemtableKVCount:  2,
		FilterFalsePositiveRate: 0.1,
		FilterBits:              958,
		FilterHashFuncCount:     3,
		ArenaSliceSize:          1000,
		FDCacheSize:             10,
	}
	levels := []int{2, 0, 1}
	raw := append(record("aa", "11"), record("bb", "")...)

	require.NoError(t, Save(path, h, levels, dumper{raw: raw}))
	assert.True(t, Exists(path))

	got, gotLevels, records, err := Load(path)
	require.NoError(t, err)

	h.LevelCount = 3 // filled in by Save
	assert.Equal(t, h, got)
	assert.Equal(t, levels, gotLevels)
	require.Len(t, records, 2)
	assert.Equal(t, []byte("aa"), records[0].Key)
	assert.Equal(t, []byte("11"), records[0].Value)
	assert.Equal(t, []byte("bb"), records[1].Key)
	assert.Empty(t, records[1].Value, "tombstones survive the dump")
}

func TestSave_AtomicallyReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.bin")
	require.NoError(t, os.WriteFile(path, []byte("previous generation"), 0o644))

	h := Header{ScalingFactor: 2, MemtableKVLimit: 5}
	require.NoError(t, Save(path, h, nil, dumper{}))

	got, levels, records, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.ScalingFactor)
	assert.Empty(t, levels)
	assert.Empty(t, records)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is cleaned up after rename")
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, _, err := Load(filepath.Join(t.TempDir(), "absent.bin"))
	assert.Error(t, err)
}

func TestLoad_TruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, HeaderSize/2), 0o644))
	_, _, _, err := Load(path)
	assert.Error(t, err)
}

func TestSSTPath(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "0_3.sst"), SSTPath("data", 0, 3))
	assert.Equal(t, filepath.Join("data", "2_0.sst"), SSTPath("data", 2, 0))
}
