// Package network implements point-to-point transfer of tuple buffers
// between workers (component H): partition-addressed channels with
// reconnect-with-backoff and credit-based back-pressure.
//
// Frame codec is grounded directly on ipc/frame.go's length-prefixed
// envelope, generalized from the teacher's msgpack payload-type
// discriminant ("artifact_chunk"/"run_result"/...) to this transport's
// closed set of control/data frame types.
package network

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/streamrun/types"
)

// FrameType discriminates the frame payload.
type FrameType byte

const (
	FrameRegister FrameType = 0x01
	FrameData     FrameType = 0x02
	FrameEOS      FrameType = 0x03
	FrameCredit   FrameType = 0x04
	FrameError    FrameType = 0x7F
)

// LengthPrefixSize is the size of the frame length prefix in bytes.
const LengthPrefixSize = 4

// MaxFrameSize bounds a single frame's length field (type + payload, not
// counting the length prefix) to guard against a corrupt or hostile
// value.
const MaxFrameSize = 16 * 1024 * 1024

// RegisterFrame opens a channel for one partition.
type RegisterFrame struct {
	Partition types.PartitionKey `msgpack:"partition"`
}

// EOSFrame announces no further data frames will follow for Partition.
type EOSFrame struct {
	Partition types.PartitionKey `msgpack:"partition"`
}

// CreditFrame grants the sender additional inbound-queue credit for
// Partition, renewed as the receiver's downstream pipeline recycles
// buffers.
type CreditFrame struct {
	Partition types.PartitionKey `msgpack:"partition"`
	Credits   uint32             `msgpack:"credits"`
}

// ErrorFrame carries a fatal or retryable channel error to the peer.
type ErrorFrame struct {
	Partition types.PartitionKey `msgpack:"partition"`
	Reason    string             `msgpack:"reason"`
}

// DataFrame is a tuple buffer's wire representation: the little-endian
// metadata header followed by the raw payload bytes.
type DataFrame struct {
	Metadata types.BufferMetadata
	Payload  []byte
}

// EncodeFrame prepends the u32 big-endian length (covering the type byte
// and payload) and the type byte to payload.
func EncodeFrame(t FrameType, payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+1+len(payload))
	binary.BigEndian.PutUint32(buf[0:LengthPrefixSize], uint32(1+len(payload)))
	buf[LengthPrefixSize] = byte(t)
	copy(buf[LengthPrefixSize+1:], payload)
	return buf
}

// EncodeRegister encodes a RegisterFrame.
func EncodeRegister(f RegisterFrame) ([]byte, error) {
	body, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("network: encode register: %w", err)
	}
	return EncodeFrame(FrameRegister, body), nil
}

// EncodeEOS encodes an EOSFrame.
func EncodeEOS(f EOSFrame) ([]byte, error) {
	body, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("network: encode eos: %w", err)
	}
	return EncodeFrame(FrameEOS, body), nil
}

// EncodeCredit encodes a CreditFrame.
func EncodeCredit(f CreditFrame) ([]byte, error) {
	body, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("network: encode credit: %w", err)
	}
	return EncodeFrame(FrameCredit, body), nil
}

// EncodeError encodes an ErrorFrame.
func EncodeError(f ErrorFrame) ([]byte, error) {
	body, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("network: encode error: %w", err)
	}
	return EncodeFrame(FrameError, body), nil
}

// EncodeData encodes a DataFrame: metadata header then payload bytes.
func EncodeData(f DataFrame) []byte {
	body := make([]byte, types.MetadataHeaderSize+len(f.Payload))
	types.EncodeMetadataHeader(body[:types.MetadataHeaderSize], f.Metadata)
	copy(body[types.MetadataHeaderSize:], f.Payload)
	return EncodeFrame(FrameData, body)
}

// DecodeData reverses EncodeData's body (the payload passed to
// FrameDecoder.ReadFrame after the type byte has been consumed).
func DecodeData(body []byte) (DataFrame, error) {
	if len(body) < types.MetadataHeaderSize {
		return DataFrame{}, &Error{Kind: KindChannelRejected, Msg: "truncated data frame"}
	}
	return DataFrame{
		Metadata: types.DecodeMetadataHeader(body[:types.MetadataHeaderSize]),
		Payload:  body[types.MetadataHeaderSize:],
	}, nil
}

// FrameDecoder reads length-prefixed frames from a stream.
type FrameDecoder struct {
	reader *bufio.Reader
}

// NewFrameDecoder wraps r for buffered frame reads.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FrameDecoder{reader: br}
}

// ReadFrame reads one frame, returning its type and body (the bytes
// after the type byte). Returns io.EOF on a clean stream end.
func (d *FrameDecoder) ReadFrame() (FrameType, []byte, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lenBuf[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, &Error{Kind: KindConnectionLost, Msg: "failed to read length prefix", Err: err}
	}

	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen == 0 || frameLen > MaxFrameSize {
		return 0, nil, &Error{Kind: KindChannelRejected, Msg: fmt.Sprintf("frame length %d out of bounds", frameLen)}
	}

	rest := make([]byte, frameLen)
	if _, err := io.ReadFull(d.reader, rest); err != nil {
		return 0, nil, &Error{Kind: KindConnectionLost, Msg: "failed to read frame body", Err: err}
	}
	return FrameType(rest[0]), rest[1:], nil
}
