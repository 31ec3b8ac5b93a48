package arena

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_AppendCrossesSliceBoundaries(t *testing.T) {
	a := New(4)

	off1, err := a.Append([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off1)

	// Spans the 4-byte slice boundary.
	off2, err := a.Append([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), off2)
	assert.Equal(t, uint64(8), a.TotalBytes())

	got := make([]byte, 5)
	a.CopyOut(got, off2, 5)
	assert.Equal(t, []byte("defgh"), got)

	got = make([]byte, 3)
	a.CopyOut(got, off1, 3)
	assert.Equal(t, []byte("abc"), got)
}

func TestArena_Compare(t *testing.T) {
	a := New(3)
	off, err := a.Append([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, 0, a.Compare([]byte("hello"), off, 5))
	assert.Equal(t, -1, a.Compare([]byte("hell"), off, 5), "shorter prefix sorts first")
	assert.Equal(t, 1, a.Compare([]byte("helloo"), off, 5))
	assert.True(t, a.Compare([]byte("hellp"), off, 5) > 0)
	assert.True(t, a.Compare([]byte("helln"), off, 5) < 0)
}

func TestArena_WriteOut(t *testing.T) {
	a := New(2)
	payload := []byte("0123456789")
	off, err := a.Append(payload)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, a.WriteOut(&buf, off, uint32(len(payload))))
	assert.Equal(t, payload, buf.Bytes())

	buf.Reset()
	require.NoError(t, a.WriteOut(&buf, off+3, 4))
	assert.Equal(t, []byte("3456"), buf.Bytes())
}

func TestArena_ClearRetainsSlicesForReuse(t *testing.T) {
	a := New(8)
	_, err := a.Append([]byte("some data here"))
	require.NoError(t, err)
	a.Clear()
	assert.Equal(t, uint64(0), a.TotalBytes())

	off, err := a.Append([]byte("fresh"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off)

	got := make([]byte, 5)
	a.CopyOut(got, off, 5)
	assert.Equal(t, []byte("fresh"), got)
}
