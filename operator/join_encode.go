package operator

import (
	"encoding/binary"

	"github.com/pithecene-io/streamrun/pipeline"
	"github.com/pithecene-io/streamrun/types"
)

// EncodeJoinWindow packages one triggered window's left and right paged
// vectors for transport to the probe pipeline: a header {left record
// size, right record size, left record total, right record total}, the
// window descriptor, then for each side a u32 vector count followed by
// each vector flattened to {record_count u32, records...}.
func EncodeJoinWindow(win EmittedJoinWindow, leftRecordSize, rightRecordSize int) []byte {
	out := make([]byte, 0, 64)

	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(leftRecordSize))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(rightRecordSize))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(countJoinPairs(win.Left)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(countJoinPairs(win.Right)))
	out = append(out, hdr[:]...)

	var windowHdr [20]byte
	binary.LittleEndian.PutUint64(windowHdr[0:8], uint64(win.Window.Start))
	binary.LittleEndian.PutUint64(windowHdr[8:16], uint64(win.Window.End))
	binary.LittleEndian.PutUint32(windowHdr[16:20], uint32(win.Window.SequenceNumber))
	out = append(out, windowHdr[:]...)

	out = appendSideRecords(out, win.Left)
	out = appendSideRecords(out, win.Right)
	return out
}

func appendSideRecords(out []byte, vectors []*PagedVector) []byte {
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(vectors)))
	out = append(out, countBuf[:]...)
	for _, v := range vectors {
		var vCountBuf [4]byte
		binary.LittleEndian.PutUint32(vCountBuf[:], uint32(v.Len()))
		out = append(out, vCountBuf[:]...)
		v.Iter(func(record []byte) {
			out = append(out, record...)
		})
	}
	return out
}

// DecodeJoinWindow reverses EncodeJoinWindow, reconstructing one
// PagedVector per side-vector in the original encoding.
func DecodeJoinWindow(data []byte) (EmittedJoinWindow, error) {
	if len(data) < 36 {
		return EmittedJoinWindow{}, &Error{Kind: KindArenaExhausted, Msg: "truncated join window encoding"}
	}
	leftRecordSize := int(binary.LittleEndian.Uint32(data[0:4]))
	rightRecordSize := int(binary.LittleEndian.Uint32(data[4:8]))
	offset := 16

	win := EmittedJoinWindow{
		Window: types.WindowInfo{
			Start:          int64(binary.LittleEndian.Uint64(data[offset : offset+8])),
			End:            int64(binary.LittleEndian.Uint64(data[offset+8 : offset+16])),
			SequenceNumber: types.SequenceNumber(binary.LittleEndian.Uint32(data[offset+16 : offset+20])),
		},
	}
	offset += 20

	left, offset := readSideVectors(data, offset, leftRecordSize)
	right, _ := readSideVectors(data, offset, rightRecordSize)
	win.Left = left
	win.Right = right
	return win, nil
}

func readSideVectors(data []byte, offset, recordSize int) ([]*PagedVector, int) {
	vectorCount := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	vectors := make([]*PagedVector, 0, vectorCount)
	for i := 0; i < vectorCount; i++ {
		recCount := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
		offset += 4
		v := NewPagedVector(recordSize, recordSize*recCount)
		for r := 0; r < recCount; r++ {
			v.Append(data[offset : offset+recordSize])
			offset += recordSize
		}
		vectors = append(vectors, v)
	}
	return vectors, offset
}

// TriggerAndEmit drains closed windows, encodes each as a buffer via the
// buffer manager, and emits it through ctx for the probe pipeline to
// decode and join. Mirrors AggregationHandler.TriggerAndEmit.
func (h *NestedLoopJoinHandler) TriggerAndEmit(watermark int64, ctx *pipeline.ExecutionContext, workerID types.WorkerThreadID) error {
	for _, win := range h.Trigger(watermark) {
		payload := EncodeJoinWindow(win, h.cfg.LeftRecordSize, h.cfg.RightRecordSize)

		buf, err := ctx.BufferManager().AcquireUnpooled(len(payload), workerID)
		if err != nil {
			return err
		}
		copy(buf.Payload(), payload)
		buf.Metadata().NumTuples = uint32(countJoinPairs(win.Left) + countJoinPairs(win.Right))
		buf.Metadata().PayloadSize = uint32(len(payload))

		if err := ctx.Emit(buf, pipeline.EmitMeta{
			OriginID:    h.cfg.OutputOriginID,
			LastChunk:   true,
			WatermarkTS: win.Window.Start,
		}); err != nil {
			return err
		}
	}
	return nil
}
