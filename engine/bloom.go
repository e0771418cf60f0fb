package engine

import "github.com/cespare/xxhash/v2"

// bloomFilter is a small Bloom filter fronting one index block. Sized by
// index_block_bloom_length (bits); no bloom-filter library appears
// anywhere in the retrieved pack, and cockroachdb/pebble — the one
// example that needs one — hand-rolls its own too, so this one is built
// directly on xxhash rather than a fabricated dependency.
type bloomFilter struct {
	bits  []uint64
	nBits uint64
	k     int
}

func newBloomFilter(nBits int) *bloomFilter {
	if nBits <= 0 {
		nBits = 8192
	}
	words := (nBits + 63) / 64
	return &bloomFilter{bits: make([]uint64, words), nBits: uint64(nBits), k: 4}
}

func (f *bloomFilter) Add(key []byte) {
	h1, h2 := f.hashes(key)
	for i := 0; i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % f.nBits
		f.bits[idx/64] |= 1 << (idx % 64)
	}
}

func (f *bloomFilter) MayContain(key []byte) bool {
	h1, h2 := f.hashes(key)
	for i := 0; i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % f.nBits
		if f.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

func (f *bloomFilter) hashes(key []byte) (uint64, uint64) {
	h1 := xxhash.Sum64(key)
	h2 := h1 ^ (h1 >> 33)
	h2 *= 0xff51afd7ed558ccd
	h2 ^= h2 >> 33
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}
