// Package types defines the core domain types shared across the worker's
// data plane: buffer metadata, window/slice descriptors, and partition
// addressing. These types are wire-visible (PartitionKey is msgpack-encoded
// under its Go field names in network control frames; BufferMetadata has a
// fixed binary header) and are otherwise plain value types with no
// behavior beyond small validators.
package types

// OriginID identifies a data-plane origin: one source or one sub-query
// output. Records from an origin carry monotone sequence numbers.
type OriginID uint64

// SequenceNumber is a monotone, per-origin sequence number.
type SequenceNumber uint64

// WorkerThreadID indexes a worker thread's partition of operator state
// (hash maps, paged vectors, unpooled arenas).
type WorkerThreadID int

// PipelineID identifies a pipeline execution context within a query.
type PipelineID string

// OperatorID identifies a single operator instance within a pipeline.
type OperatorID string

// QueryID identifies a running query.
type QueryID string

// PartitionKey addresses a point-to-point network channel between two
// operators in two (possibly different) workers.
type PartitionKey struct {
	QueryID         QueryID
	OperatorID      OperatorID
	PartitionID     uint32
	SubPartitionID  uint32
}

// String renders the partition key as a stable, human-readable identifier
// suitable for log fields and map keys.
func (p PartitionKey) String() string {
	return string(p.QueryID) + "/" + string(p.OperatorID) + "/" +
		itoa(int(p.PartitionID)) + "/" + itoa(int(p.SubPartitionID))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
