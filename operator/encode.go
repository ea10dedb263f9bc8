package operator

import (
	"encoding/binary"

	"github.com/pithecene-io/streamrun/hashmap"
	"github.com/pithecene-io/streamrun/types"
)

// EncodeAggregationWindow packages one triggered window's thread-local
// maps for the probe pipeline: a header {key_size, value_size,
// map_count, entry_count}, then the window descriptor {start, end,
// sequence_number}, then each map's Serialize output behind a u32
// length. No version or state-type envelope is written around this
// payload. Every offset
// inside stays valid after decoding because the hash map's internal
// links are offsets, not pointers.
func EncodeAggregationWindow(win EmittedAggregationWindow, keySize, valueSize int) []byte {
	out := make([]byte, 0, 64)

	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(keySize))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(valueSize))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(win.Maps)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(countEntries(win.Maps)))
	out = append(out, hdr[:]...)

	var windowHdr [20]byte
	binary.LittleEndian.PutUint64(windowHdr[0:8], uint64(win.Window.Start))
	binary.LittleEndian.PutUint64(windowHdr[8:16], uint64(win.Window.End))
	binary.LittleEndian.PutUint32(windowHdr[16:20], uint32(win.Window.SequenceNumber))
	out = append(out, windowHdr[:]...)

	for _, m := range win.Maps {
		encoded := m.Serialize()
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
		out = append(out, lenBuf[:]...)
		out = append(out, encoded...)
	}
	return out
}

// DecodeAggregationWindow reverses EncodeAggregationWindow.
func DecodeAggregationWindow(data []byte) (EmittedAggregationWindow, error) {
	if len(data) < 36 {
		return EmittedAggregationWindow{}, &Error{Kind: KindArenaExhausted, Msg: "truncated aggregation window encoding"}
	}
	keySize := int(binary.LittleEndian.Uint32(data[0:4]))
	valueSize := int(binary.LittleEndian.Uint32(data[4:8]))
	mapCount := int(binary.LittleEndian.Uint32(data[8:12]))
	offset := 16

	win := EmittedAggregationWindow{
		Window: types.WindowInfo{
			Start:          int64(binary.LittleEndian.Uint64(data[offset : offset+8])),
			End:            int64(binary.LittleEndian.Uint64(data[offset+8 : offset+16])),
			SequenceNumber: types.SequenceNumber(binary.LittleEndian.Uint32(data[offset+16 : offset+20])),
		},
	}
	offset += 20

	for i := 0; i < mapCount; i++ {
		mLen := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
		offset += 4
		m, err := hashmap.Deserialize(keySize, valueSize, data[offset:offset+mLen])
		if err != nil {
			return EmittedAggregationWindow{}, err
		}
		win.Maps = append(win.Maps, m)
		offset += mLen
	}
	return win, nil
}
