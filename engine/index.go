package engine

import (
	"sync"

	"github.com/cockroachdb/swiss"

	"blobbackend/wire"
)

// indexEntry is the in-memory location of a record: which segment it
// lives in, where its control struct starts, and its bookkeeping flags.
type indexEntry struct {
	segmentID uint32
	ctlOffset int64
	dataSize  int64
	flags     uint64
	timestamp int64
	committed bool
	removed   bool
}

// indexBlock is one index_block_size-sized shard of the key space,
// fronted by its own Bloom filter so a negative lookup can skip the
// swiss-map probe entirely.
type indexBlock struct {
	bloom   *bloomFilter
	entries *swiss.Map[wire.ID, indexEntry]
}

// blockIndex is the engine's full in-memory index: a sequence of blocks,
// each capped at blockSize entries. New keys land in the current (last)
// block until it fills, then a fresh block starts — mirroring how the
// original's on-disk index is laid out in index_block_size-sized chunks.
type blockIndex struct {
	mu        sync.RWMutex
	blockSize int
	bloomBits int
	blocks    []*indexBlock
}

func newBlockIndex(blockSize, bloomBits int) *blockIndex {
	if blockSize <= 0 {
		blockSize = 4096
	}
	if bloomBits <= 0 {
		bloomBits = 8192
	}
	bi := &blockIndex{blockSize: blockSize, bloomBits: bloomBits}
	bi.blocks = append(bi.blocks, bi.newBlock())
	return bi
}

func (bi *blockIndex) newBlock() *indexBlock {
	return &indexBlock{
		bloom:   newBloomFilter(bi.bloomBits),
		entries: swiss.New[wire.ID, indexEntry](bi.blockSize),
	}
}

// Put installs or overwrites an entry. Keys already present in an
// earlier block are updated in place rather than duplicated forward.
func (bi *blockIndex) Put(key wire.ID, e indexEntry) {
	bi.mu.Lock()
	defer bi.mu.Unlock()

	for _, b := range bi.blocks {
		if !b.bloom.MayContain(key[:]) {
			continue
		}
		if _, ok := b.entries.Get(key); ok {
			b.entries.Put(key, e)
			return
		}
	}

	last := bi.blocks[len(bi.blocks)-1]
	if last.entries.Len() >= bi.blockSize {
		last = bi.newBlock()
		bi.blocks = append(bi.blocks, last)
	}
	last.entries.Put(key, e)
	last.bloom.Add(key[:])
}

func (bi *blockIndex) Get(key wire.ID) (indexEntry, bool) {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	for _, b := range bi.blocks {
		if !b.bloom.MayContain(key[:]) {
			continue
		}
		if e, ok := b.entries.Get(key); ok {
			return e, true
		}
	}
	return indexEntry{}, false
}

// Stats walks every block and counts live vs. removed records. Called
// only from the lifecycle/stats bridge, never the hot path.
func (bi *blockIndex) Stats() (total, removed int64) {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	for _, b := range bi.blocks {
		b.entries.All(func(_ wire.ID, e indexEntry) bool {
			if e.removed {
				removed++
			} else if e.committed {
				total++
			}
			return true
		})
	}
	return total, removed
}

// Range visits every committed, non-removed entry whose key lies in
// [start, end] (inclusive), used by the range engine's collect pass.
// Iteration order is unspecified; callers that need key order must sort.
func (bi *blockIndex) Range(start, end wire.ID, fn func(key wire.ID, e indexEntry) bool) {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	for _, b := range bi.blocks {
		cont := true
		b.entries.All(func(k wire.ID, e indexEntry) bool {
			if e.removed || !e.committed {
				return true
			}
			if keyLess(k, start) || keyLess(end, k) {
				return true
			}
			cont = fn(k, e)
			return cont
		})
		if !cont {
			return
		}
	}
}

// Purge drops every tombstoned (removed) entry from the index, freeing
// the bookkeeping a since-deleted record's index entry still holds. It
// is the in-memory half of a defrag pass; the on-disk space a purged
// entry pointed at is reclaimed by a future segment rewrite, which this
// backend does not perform.
func (bi *blockIndex) Purge() (purged int) {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	for _, b := range bi.blocks {
		var dead []wire.ID
		b.entries.All(func(k wire.ID, e indexEntry) bool {
			if e.removed {
				dead = append(dead, k)
			}
			return true
		})
		for _, k := range dead {
			b.entries.Delete(k)
			purged++
		}
	}
	return purged
}

// keyLess reports whether a sorts strictly before b, bytewise.
func keyLess(a, b wire.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
