// Package hashing adapts the engine's one external hash dependency to the
// two-64-bit-hash contract the Bloom filter's double-hashing probe needs.
// The engine never cares which 128-bit hash produced the pair, only that
// the same key always yields the same (low, high).
package hashing

import "github.com/spaolacci/murmur3"

// Sum128 returns two independent 64-bit hashes of data.
func Sum128(data []byte) (low, high uint64) {
	return murmur3.Sum128(data)
}
