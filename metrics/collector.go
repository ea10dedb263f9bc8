// Package metrics provides per-worker metrics collection for the runtime
// data plane.
//
// The Collector accumulates counters for the lifetime of a worker process.
// It is a leaf package with no internal dependencies, and every increment
// method is nil-receiver safe so collaborators can hold a possibly-nil
// *Collector without branching.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all collected metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Buffer manager
	BuffersAcquired   int64
	BuffersReleased   int64
	PoolExhaustedHits int64
	UnpooledAllocs    int64

	// Watermark processor
	WatermarksAdvanced int64
	OriginStalls       int64

	// Slicing store / operator handlers
	SlicesCreated    int64
	WindowsTriggered int64
	ArenaExhausted   int64

	// Network transport
	FramesSent        int64
	FramesReceived    int64
	ChannelRejected   int64
	ReconnectAttempts int64

	// Dimensions (informational, set at construction)
	WorkerID string
	QueryID  string
}

// Collector accumulates metrics for a worker process. Thread-safe via
// sync.Mutex.
type Collector struct {
	mu sync.Mutex

	buffersAcquired   int64
	buffersReleased   int64
	poolExhaustedHits int64
	unpooledAllocs    int64

	watermarksAdvanced int64
	originStalls       int64

	slicesCreated    int64
	windowsTriggered int64
	arenaExhausted   int64

	framesSent        int64
	framesReceived    int64
	channelRejected   int64
	reconnectAttempts int64

	workerID string
	queryID  string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(workerID, queryID string) *Collector {
	return &Collector{workerID: workerID, queryID: queryID}
}

func (c *Collector) IncBuffersAcquired() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.buffersAcquired++
	c.mu.Unlock()
}

func (c *Collector) IncBuffersReleased() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.buffersReleased++
	c.mu.Unlock()
}

func (c *Collector) IncPoolExhausted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.poolExhaustedHits++
	c.mu.Unlock()
}

func (c *Collector) IncUnpooledAllocs() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.unpooledAllocs++
	c.mu.Unlock()
}

func (c *Collector) IncWatermarkAdvanced() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.watermarksAdvanced++
	c.mu.Unlock()
}

func (c *Collector) IncOriginStall() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.originStalls++
	c.mu.Unlock()
}

func (c *Collector) IncSlicesCreated() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.slicesCreated++
	c.mu.Unlock()
}

func (c *Collector) IncWindowsTriggered() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.windowsTriggered++
	c.mu.Unlock()
}

func (c *Collector) IncArenaExhausted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.arenaExhausted++
	c.mu.Unlock()
}

func (c *Collector) IncFramesSent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesSent++
	c.mu.Unlock()
}

func (c *Collector) IncFramesReceived() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesReceived++
	c.mu.Unlock()
}

func (c *Collector) IncChannelRejected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.channelRejected++
	c.mu.Unlock()
}

func (c *Collector) IncReconnectAttempt() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reconnectAttempts++
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		BuffersAcquired:   c.buffersAcquired,
		BuffersReleased:   c.buffersReleased,
		PoolExhaustedHits: c.poolExhaustedHits,
		UnpooledAllocs:    c.unpooledAllocs,

		WatermarksAdvanced: c.watermarksAdvanced,
		OriginStalls:       c.originStalls,

		SlicesCreated:    c.slicesCreated,
		WindowsTriggered: c.windowsTriggered,
		ArenaExhausted:   c.arenaExhausted,

		FramesSent:        c.framesSent,
		FramesReceived:    c.framesReceived,
		ChannelRejected:   c.channelRejected,
		ReconnectAttempts: c.reconnectAttempts,

		WorkerID: c.workerID,
		QueryID:  c.queryID,
	}
}
