// Package arena implements a segmented, append-only byte buffer: the
// Memtable's key/value payload store. Entries are addressed by a global
// logical offset that maps to a (slice index, slice-local offset) pair,
// giving amortized O(1) append with no copy on growth and no need to ever
// assemble a contiguous buffer to stream to a file.
package arena

import (
	"io"

	"github.com/pkg/errors"
)

// ErrAllocation is returned when a slice allocation fails mid-append; any
// slices already allocated for that append are released before it
// propagates.
var ErrAllocation = errors.New("arena: allocation failed")

// Arena is a segmented append-only byte buffer of fixed-size slices.
type Arena struct {
	sliceSize int
	slices    [][]byte
	length    uint64 // logical length in bytes appended so far
}

// New creates an Arena whose slices are sliceSize bytes each. A
// non-positive sliceSize is replaced by 4096.
func New(sliceSize int) *Arena {
	if sliceSize <= 0 {
		sliceSize = 4096
	}
	return &Arena{sliceSize: sliceSize}
}

// SliceSize returns the fixed slice size the arena was constructed with.
func (a *Arena) SliceSize() int {
	return a.sliceSize
}

// TotalBytes returns the number of logical bytes appended so far.
func (a *Arena) TotalBytes() uint64 {
	return a.length
}

func (a *Arena) growSafely(n int) (slc []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrAllocation, "recovered: %v", r)
		}
	}()
	slc = make([]byte, n)
	return slc, nil
}

// Append writes data to the arena and returns the logical offset at which
// it begins. On allocation failure, any slices allocated for this append
// are rolled back before the error is returned, leaving the arena exactly
// as it was.
func (a *Arena) Append(data []byte) (offset uint64, err error) {
	offset = a.length
	allocatedFrom := len(a.slices)

	remaining := data
	for len(remaining) > 0 {
		idx := int(a.length / uint64(a.sliceSize))
		localOff := int(a.length % uint64(a.sliceSize))

		if idx >= len(a.slices) {
			slc, allocErr := a.growSafely(a.sliceSize)
			if allocErr != nil {
				a.slices = a.slices[:allocatedFrom]
				a.length = offset
				return 0, allocErr
			}
			a.slices = append(a.slices, slc)
		}

		room := a.sliceSize - localOff
		n := len(remaining)
		if n > room {
			n = room
		}
		copy(a.slices[idx][localOff:localOff+n], remaining[:n])
		remaining = remaining[n:]
		a.length += uint64(n)
	}

	return offset, nil
}

// byteAt returns the byte at the given logical offset.
func (a *Arena) byteAt(offset uint64) byte {
	idx := int(offset / uint64(a.sliceSize))
	localOff := int(offset % uint64(a.sliceSize))
	return a.slices[idx][localOff]
}

// Compare performs a lexicographic unsigned comparison of external against
// the arena content starting at offset for length bytes, crossing slice
// boundaries transparently. Ties (equal up to min length) are broken by
// length, the shorter run sorting first, so the result is a complete key
// comparison (-1, 0 or 1) that the skiplist uses directly.
func (a *Arena) Compare(external []byte, offset uint64, length uint32) int {
	n := len(external)
	if int(length) < n {
		n = int(length)
	}
	for i := 0; i < n; i++ {
		eb := external[i]
		ab := a.byteAt(offset + uint64(i))
		if eb != ab {
			if eb < ab {
				return -1
			}
			return 1
		}
	}
	if len(external) < int(length) {
		return -1
	}
	if len(external) > int(length) {
		return 1
	}
	return 0
}

// CopyOut copies length arena bytes starting at offset into dest, which
// must be at least length bytes long.
func (a *Arena) CopyOut(dest []byte, offset uint64, length uint32) {
	remaining := int(length)
	pos := offset
	dst := 0
	for remaining > 0 {
		idx := int(pos / uint64(a.sliceSize))
		localOff := int(pos % uint64(a.sliceSize))
		room := a.sliceSize - localOff
		n := remaining
		if n > room {
			n = room
		}
		copy(dest[dst:dst+n], a.slices[idx][localOff:localOff+n])
		dst += n
		pos += uint64(n)
		remaining -= n
	}
}

// WriteOut streams length arena bytes starting at offset directly to w,
// without assembling an intermediate contiguous buffer for the whole run.
func (a *Arena) WriteOut(w io.Writer, offset uint64, length uint32) error {
	remaining := int(length)
	pos := offset
	for remaining > 0 {
		idx := int(pos / uint64(a.sliceSize))
		localOff := int(pos % uint64(a.sliceSize))
		room := a.sliceSize - localOff
		n := remaining
		if n > room {
			n = room
		}
		if _, err := w.Write(a.slices[idx][localOff : localOff+n]); err != nil {
			return errors.Wrap(err, "arena: write_out failed")
		}
		pos += uint64(n)
		remaining -= n
	}
	return nil
}

// Clear resets the logical length to zero while retaining allocated slices
// for reuse by the next Memtable generation.
func (a *Arena) Clear() {
	a.length = 0
}
