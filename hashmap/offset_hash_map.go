// Package hashmap implements the offset hash map: a dense, arena-backed
// chained hash table whose inter-entry links are offsets into a
// contiguous byte arena rather than pointers, making the whole structure
// position-independent and safely serializable.
//
// Grounded on
// nes-nautilus/.../HashMap/OffsetHashMap/OffsetHashMapRef.cpp — the entry
// layout {next_offset u32, hash u64, key[K], value[V]} and bucket-chain
// walk are reproduced here as plain Go instead of the source's
// JIT-traced memory-provider abstraction.
package hashmap

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	offsetFieldSize = 4
	hashFieldSize   = 8
)

// emptyOffset is the sentinel value meaning "no entry"/"end of chain". To
// keep 0 unambiguous, the arena reserves its first entrySize bytes as
// padding so no real entry is ever placed at offset 0.
const emptyOffset uint32 = 0

// Config describes the fixed layout of one offset hash map.
type Config struct {
	KeySize     int
	ValueSize   int
	BucketCount int // must be a power of two
	// MaxArenaBytes bounds arena growth; 0 means unbounded.
	MaxArenaBytes int
}

// OffsetHashMap is a chained hash table over a bump-allocated arena.
// Entries are never deleted individually — only a whole-map Clear (at
// slice retirement) reclaims space.
type OffsetHashMap struct {
	keySize, valueSize, entrySize int
	maxArenaBytes                 int

	buckets []uint32
	arena   []byte
	count   int
}

// New constructs an OffsetHashMap. BucketCount must be a power of two;
// some callers historically passed non-power-of-two counts (see design
// notes) — this is rejected here rather than silently rounded.
func New(cfg Config) (*OffsetHashMap, error) {
	if cfg.BucketCount <= 0 || cfg.BucketCount&(cfg.BucketCount-1) != 0 {
		return nil, &Error{Kind: KindInvalidBucketCount, Msg: "bucket count must be a power of two"}
	}
	if cfg.KeySize <= 0 || cfg.ValueSize <= 0 {
		return nil, &Error{Kind: KindInvalidOffset, Msg: "key size and value size must be positive"}
	}

	entrySize := offsetFieldSize + hashFieldSize + cfg.KeySize + cfg.ValueSize
	m := &OffsetHashMap{
		keySize:       cfg.KeySize,
		valueSize:     cfg.ValueSize,
		entrySize:     entrySize,
		maxArenaBytes: cfg.MaxArenaBytes,
		buckets:       make([]uint32, cfg.BucketCount),
		arena:         make([]byte, entrySize), // reserve offset 0 as the empty sentinel
	}
	return m, nil
}

// Hash computes the hash used for bucket placement and entry comparison.
func Hash(key []byte) uint64 {
	return xxhash.Sum64(key)
}

func (m *OffsetHashMap) bucketIndex(hash uint64) uint64 {
	return hash & uint64(len(m.buckets)-1)
}

func (m *OffsetHashMap) entryAt(offset uint32) []byte {
	return m.arena[offset : int(offset)+m.entrySize]
}

func (m *OffsetHashMap) nextOffset(offset uint32) uint32 {
	return binary.LittleEndian.Uint32(m.entryAt(offset)[0:offsetFieldSize])
}

func (m *OffsetHashMap) setNextOffset(offset, next uint32) {
	binary.LittleEndian.PutUint32(m.entryAt(offset)[0:offsetFieldSize], next)
}

func (m *OffsetHashMap) entryHash(offset uint32) uint64 {
	return binary.LittleEndian.Uint64(m.entryAt(offset)[offsetFieldSize : offsetFieldSize+hashFieldSize])
}

// Key returns the key bytes stored at offset.
func (m *OffsetHashMap) Key(offset uint32) []byte {
	start := offsetFieldSize + hashFieldSize
	return m.entryAt(offset)[start : start+m.keySize]
}

// Value returns the value bytes stored at offset, mutable in place.
func (m *OffsetHashMap) Value(offset uint32) []byte {
	start := offsetFieldSize + hashFieldSize + m.keySize
	return m.entryAt(offset)[start : start+m.valueSize]
}

// Lookup returns the offset of the entry matching key/hash, or (0, false)
// if absent.
func (m *OffsetHashMap) Lookup(key []byte, hash uint64) (uint32, bool) {
	offset := m.buckets[m.bucketIndex(hash)]
	for offset != emptyOffset {
		if m.entryHash(offset) == hash && bytesEqual(m.Key(offset), key) {
			return offset, true
		}
		offset = m.nextOffset(offset)
	}
	return 0, false
}

// FindOrCreate returns the stable offset for key. If the key already
// exists its offset is returned unchanged. Otherwise a new entry is
// bump-allocated, linked at the head of its bucket's chain, and
// initValueFn is invoked on the new (zeroed) value area.
func (m *OffsetHashMap) FindOrCreate(key []byte, hash uint64, initValueFn func(value []byte)) (uint32, error) {
	if offset, ok := m.Lookup(key, hash); ok {
		return offset, nil
	}

	newLen := len(m.arena) + m.entrySize
	if m.maxArenaBytes > 0 && newLen > m.maxArenaBytes {
		return 0, &Error{Kind: KindArenaExhausted, Msg: "arena budget exceeded"}
	}

	offset := uint32(len(m.arena))
	m.arena = append(m.arena, make([]byte, m.entrySize)...)

	idx := m.bucketIndex(hash)
	entry := m.entryAt(offset)
	binary.LittleEndian.PutUint32(entry[0:offsetFieldSize], m.buckets[idx])
	binary.LittleEndian.PutUint64(entry[offsetFieldSize:offsetFieldSize+hashFieldSize], hash)
	copy(entry[offsetFieldSize+hashFieldSize:offsetFieldSize+hashFieldSize+m.keySize], key)

	m.buckets[idx] = offset
	m.count++

	if initValueFn != nil {
		initValueFn(m.Value(offset))
	}
	return offset, nil
}

// CapacityHint grows the arena's backing storage to accommodate at least
// n more entries without further reallocation mid-batch.
func (m *OffsetHashMap) CapacityHint(n int) {
	want := len(m.arena) + n*m.entrySize
	if cap(m.arena) >= want {
		return
	}
	grown := make([]byte, len(m.arena), want)
	copy(grown, m.arena)
	m.arena = grown
}

// Len returns the number of live entries.
func (m *OffsetHashMap) Len() int { return m.count }

// BucketCount returns the configured bucket count.
func (m *OffsetHashMap) BucketCount() int { return len(m.buckets) }

// Iter enumerates all entry offsets in bucket order, each chain walked
// head-to-tail. Order is deterministic for a fixed insertion history.
func (m *OffsetHashMap) Iter(yield func(offset uint32)) {
	for _, head := range m.buckets {
		for offset := head; offset != emptyOffset; offset = m.nextOffset(offset) {
			yield(offset)
		}
	}
}

// Grow doubles the bucket count and re-chains every live entry. Offsets
// remain valid across Grow because the arena itself is never
// reallocated in place — only the bucket-head table is rebuilt.
//
// Live offsets are snapshotted before any nextOffset link is rewritten:
// Iter reads nextOffset(offset) to advance its walk, and rewriting a
// chain's links while still walking the old chain it came from would
// sever entries past the one just re-chained.
func (m *OffsetHashMap) Grow() {
	newBuckets := make([]uint32, len(m.buckets)*2)
	mask := uint64(len(newBuckets) - 1)

	live := make([]uint32, 0, m.count)
	m.Iter(func(offset uint32) {
		live = append(live, offset)
	})

	for _, offset := range live {
		idx := m.entryHash(offset) & mask
		m.setNextOffset(offset, newBuckets[idx])
		newBuckets[idx] = offset
	}
	m.buckets = newBuckets
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
