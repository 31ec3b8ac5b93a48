// Package bloom implements a Bloom filter over a bitset.BitSet, probed by
// double hashing: the i-th probe of a key is (h1 + i*h2) mod m, so only
// the two 64-bit base hashes need computing per key, and a lookup can
// reuse them across every table it probes.
package bloom

import (
	"math"

	"github.com/pkg/errors"

	"github.com/sziiza66/My-LSM-Tree/internal/bitset"
	"github.com/sziiza66/My-LSM-Tree/internal/hashing"
)

// Filter is a Bloom filter with m bits and k hash functions.
type Filter struct {
	bits *bitset.BitSet
	k    uint64
}

// NewOptimal sizes a filter for n expected keys and a target false-positive
// rate p, per:
//
//	m = ceil(-n * ln(p) / (ln 2)^2)
//	k = max(1, round((m/n) * ln 2))
//
// n == 0 yields a degenerate (m=0, k=0) filter whose Contains is always
// false and whose Insert is a no-op.
func NewOptimal(n int, p float64) *Filter {
	if n <= 0 {
		return &Filter{bits: bitset.New(0), k: 0}
	}
	nf := float64(n)
	m := math.Ceil(-nf * math.Log(p) / (math.Ln2 * math.Ln2))
	k := math.Round((m / nf) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return &Filter{
		bits: bitset.New(uint64(m)),
		k:    uint64(k),
	}
}

// New wraps an existing bitset with an explicit k, the shape used when
// loading a filter back from an SSTable footer (m and k are stored there,
// not in the filter block itself).
func New(bits *bitset.BitSet, k uint64) *Filter {
	return &Filter{bits: bits, k: k}
}

// Bits returns the underlying bitset.
func (f *Filter) Bits() *bitset.BitSet {
	return f.bits
}

// M returns the number of bits in the filter.
func (f *Filter) M() uint64 {
	return f.bits.NumBits()
}

// K returns the number of hash functions (probes per key).
func (f *Filter) K() uint64 {
	return f.k
}

func (f *Filter) probe(i uint64, h1, h2 uint64) uint64 {
	m := f.bits.NumBits()
	if m == 0 {
		return 0
	}
	return (h1 + i*h2) % m
}

// Insert adds key to the filter.
func (f *Filter) Insert(key []byte) {
	if f.bits.NumBits() == 0 {
		return
	}
	h1, h2 := hashing.Sum128(key)
	f.InsertHash(h1, h2)
}

// InsertHash adds a key already reduced to its two base hashes.
func (f *Filter) InsertHash(h1, h2 uint64) {
	if f.bits.NumBits() == 0 {
		return
	}
	for i := uint64(0); i < f.k; i++ {
		f.bits.Set(f.probe(i, h1, h2))
	}
}

// Contains reports whether key may be present (false positives possible,
// false negatives never).
func (f *Filter) Contains(key []byte) bool {
	if f.bits.NumBits() == 0 {
		return false
	}
	h1, h2 := hashing.Sum128(key)
	return f.ContainsHash(h1, h2)
}

// ContainsHash probes using already-computed base hashes, short-circuiting
// on the first zero bit. Used on the read path so the two 64-bit hashes of
// a lookup key are computed once and reused across every SSTable probed.
func (f *Filter) ContainsHash(h1, h2 uint64) bool {
	if f.bits.NumBits() == 0 {
		return false
	}
	for i := uint64(0); i < f.k; i++ {
		if !f.bits.Test(f.probe(i, h1, h2)) {
			return false
		}
	}
	return true
}

// Encode serializes the raw word buffer, the only part of the filter
// persisted to disk; m and k travel in the SSTable footer instead.
func (f *Filter) Encode() []byte {
	words := f.bits.Words()
	out := make([]byte, len(words)*8)
	for i, w := range words {
		for b := 0; b < 8; b++ {
			out[i*8+b] = byte(w >> (8 * b))
		}
	}
	return out
}

// Decode rebuilds a filter from a raw word buffer plus the m/k footer
// fields it was serialized alongside.
func Decode(data []byte, m, k uint64) (*Filter, error) {
	wantWords := int((m + 63) / 64)
	if len(data) < wantWords*8 {
		return nil, errors.Errorf("bloom: filter block too short: have %d bytes, want %d", len(data), wantWords*8)
	}
	words := make([]uint64, wantWords)
	for i := 0; i < wantWords; i++ {
		var w uint64
		for b := 0; b < 8; b++ {
			w |= uint64(data[i*8+b]) << (8 * b)
		}
		words[i] = w
	}
	return New(bitset.FromWords(words, m), k), nil
}
