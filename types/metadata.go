package types

import "encoding/binary"

// BufferMetadata is the mutable control-block metadata carried by every
// tuple buffer. It is set by the buffer's current exclusive holder and
// becomes read-only once the buffer is handed downstream.
//
// Field order and sizes mirror the little-endian wire metadata header in
// the network transport (component H); EncodeMetadataHeader writes the
// fields one by one in this order.
type BufferMetadata struct {
	OriginID       OriginID
	SequenceNumber SequenceNumber
	ChunkNumber    uint32
	LastChunk      bool
	WatermarkTS    int64
	CreationTS     int64
	NumTuples      uint32
	PayloadSize    uint32
}

// MetadataHeaderSize is the encoded size in bytes of BufferMetadata on the
// wire: u64 origin_id, u64 sequence_number, u32 chunk_number, u8
// last_chunk, u64 watermark_ts, u64 creation_ts, u32 num_tuples, u32
// payload_size.
const MetadataHeaderSize = 8 + 8 + 4 + 1 + 8 + 8 + 4 + 4

// EncodeMetadataHeader writes m's wire representation to the front of
// dst, which must be at least MetadataHeaderSize bytes.
func EncodeMetadataHeader(dst []byte, m BufferMetadata) {
	binary.LittleEndian.PutUint64(dst[0:8], uint64(m.OriginID))
	binary.LittleEndian.PutUint64(dst[8:16], uint64(m.SequenceNumber))
	binary.LittleEndian.PutUint32(dst[16:20], m.ChunkNumber)
	if m.LastChunk {
		dst[20] = 1
	} else {
		dst[20] = 0
	}
	binary.LittleEndian.PutUint64(dst[21:29], uint64(m.WatermarkTS))
	binary.LittleEndian.PutUint64(dst[29:37], uint64(m.CreationTS))
	binary.LittleEndian.PutUint32(dst[37:41], m.NumTuples)
	binary.LittleEndian.PutUint32(dst[41:45], m.PayloadSize)
}

// DecodeMetadataHeader reverses EncodeMetadataHeader. src must be at
// least MetadataHeaderSize bytes.
func DecodeMetadataHeader(src []byte) BufferMetadata {
	return BufferMetadata{
		OriginID:       OriginID(binary.LittleEndian.Uint64(src[0:8])),
		SequenceNumber: SequenceNumber(binary.LittleEndian.Uint64(src[8:16])),
		ChunkNumber:    binary.LittleEndian.Uint32(src[16:20]),
		LastChunk:      src[20] != 0,
		WatermarkTS:    int64(binary.LittleEndian.Uint64(src[21:29])),
		CreationTS:     int64(binary.LittleEndian.Uint64(src[29:37])),
		NumTuples:      binary.LittleEndian.Uint32(src[37:41]),
		PayloadSize:    binary.LittleEndian.Uint32(src[41:45]),
	}
}

// WindowInfo identifies one output window: a contiguous event-time
// interval covering one or more slices, plus its output sequence.
type WindowInfo struct {
	Start          int64
	End            int64
	SequenceNumber SequenceNumber
}

// Contains reports whether an event-time timestamp falls in this window's
// half-open interval [Start, End).
func (w WindowInfo) Contains(ts int64) bool {
	return ts >= w.Start && ts < w.End
}

// SliceID identifies one slice: a half-open event-time interval that is
// the atomic unit of windowed state.
type SliceID struct {
	Start int64
	End   int64
}

// Contains reports whether ts falls in this slice's half-open interval.
func (s SliceID) Contains(ts int64) bool {
	return ts >= s.Start && ts < s.End
}

// WatermarkBarrier is a {origin, sequence, timestamp} triple, carried
// inline with data frames or as a standalone control message.
type WatermarkBarrier struct {
	OriginID       OriginID
	SequenceNumber SequenceNumber
	Timestamp      int64
}
