package hashmap

import "encoding/binary"

// Serialize encodes the map as {bucket_count, chains[u32; bucket_count],
// arena_length, arena_bytes} per the persisted-state format. The
// encoding is position-independent because the map's internal links are
// offsets, not pointers — a freshly deserialized map is byte-identical in
// arena content and bucket heads.
func (m *OffsetHashMap) Serialize() []byte {
	out := make([]byte, 0, 4+4*len(m.buckets)+4+len(m.arena))

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(m.buckets)))
	out = append(out, hdr[:]...)

	for _, b := range m.buckets {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], b)
		out = append(out, buf[:]...)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(m.arena)))
	out = append(out, lenBuf[:]...)
	out = append(out, m.arena...)
	return out
}

// Deserialize reconstructs an OffsetHashMap from bytes produced by
// Serialize, given the key/value sizes that were used to build it (sizes
// are not self-describing in the wire format; the caller's operator
// configuration carries them).
func Deserialize(keySize, valueSize int, data []byte) (*OffsetHashMap, error) {
	if len(data) < 8 {
		return nil, &Error{Kind: KindInvalidOffset, Msg: "truncated hash map encoding"}
	}

	bucketCount := int(binary.LittleEndian.Uint32(data[0:4]))
	offset := 4

	buckets := make([]uint32, bucketCount)
	for i := 0; i < bucketCount; i++ {
		buckets[i] = binary.LittleEndian.Uint32(data[offset : offset+4])
		offset += 4
	}

	arenaLen := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	arena := make([]byte, arenaLen)
	copy(arena, data[offset:offset+arenaLen])

	entrySize := offsetFieldSize + hashFieldSize + keySize + valueSize
	m := &OffsetHashMap{
		keySize:   keySize,
		valueSize: valueSize,
		entrySize: entrySize,
		buckets:   buckets,
		arena:     arena,
	}
	m.Iter(func(uint32) { m.count++ })
	return m, nil
}
