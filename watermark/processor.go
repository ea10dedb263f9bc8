// Package watermark implements the watermark processor: it merges
// per-origin, per-sequence watermark barriers into a single monotone
// global watermark for a pipeline.
//
// Per-origin bookkeeping (a mutex-guarded map of gap trackers) mirrors the
// dedup/accounting pattern in runtime/fanout.go's Operator, adapted from
// "seen work item" tracking to "highest contiguous sequence accepted".
package watermark

import (
	"math"
	"sync"
	"time"

	"github.com/pithecene-io/streamrun/log"
	"github.com/pithecene-io/streamrun/metrics"
	"github.com/pithecene-io/streamrun/types"
)

// ShutdownMode controls how a Processor disposes of buffered,
// out-of-order barriers when the pipeline stops.
type ShutdownMode int

const (
	// ShutdownDrop discards any buffered barriers without incorporating
	// them into the global watermark.
	ShutdownDrop ShutdownMode = iota
	// ShutdownGraceful flushes every known origin to a final watermark
	// of +infinity, as if every origin had reported completion.
	ShutdownGraceful
)

const noProgress int64 = math.MinInt64

type originState struct {
	mu               sync.Mutex
	nextExpectedSeq  types.SequenceNumber
	pending          map[types.SequenceNumber]types.WatermarkBarrier
	lastContiguousTS int64
	lastProgressAt   time.Time
}

func newOriginState(now time.Time) *originState {
	return &originState{
		pending:          make(map[types.SequenceNumber]types.WatermarkBarrier),
		lastContiguousTS: noProgress,
		lastProgressAt:   now,
	}
}

// Processor merges barriers from every registered origin into one
// monotone global watermark.
type Processor struct {
	mu      sync.Mutex
	origins map[types.OriginID]*originState

	globalWatermark int64
	idleTimeout     time.Duration

	logger  *log.Logger
	metrics *metrics.Collector
}

// NewProcessor creates a Processor. idleTimeout of zero disables stall
// detection.
func NewProcessor(idleTimeout time.Duration, logger *log.Logger, m *metrics.Collector) *Processor {
	return &Processor{
		origins:         make(map[types.OriginID]*originState),
		globalWatermark: noProgress,
		idleTimeout:     idleTimeout,
		logger:          logger,
		metrics:         m,
	}
}

// RegisterOrigin declares an origin the global watermark must wait on.
// The global watermark cannot advance past an origin that has never
// reported a barrier.
func (p *Processor) RegisterOrigin(origin types.OriginID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.origins[origin]; !ok {
		p.origins[origin] = newOriginState(time.Now())
	}
}

// Advance accepts one barrier and returns the (possibly unchanged) global
// watermark after processing it. A barrier is accepted into an origin's
// contiguous run only when every lower sequence for that origin has
// already been accepted; otherwise it is buffered until the gap closes.
func (p *Processor) Advance(barrier types.WatermarkBarrier) int64 {
	p.mu.Lock()
	origin, ok := p.origins[barrier.OriginID]
	if !ok {
		origin = newOriginState(time.Now())
		p.origins[barrier.OriginID] = origin
	}
	p.mu.Unlock()

	origin.mu.Lock()
	p.acceptLocked(origin, barrier)
	origin.mu.Unlock()

	return p.recomputeGlobal()
}

func (p *Processor) acceptLocked(o *originState, barrier types.WatermarkBarrier) {
	switch {
	case barrier.SequenceNumber < o.nextExpectedSeq:
		// duplicate of an already-contiguous barrier; ignore
		return
	case barrier.SequenceNumber > o.nextExpectedSeq:
		o.pending[barrier.SequenceNumber] = barrier
		return
	}

	o.lastContiguousTS = barrier.Timestamp
	o.nextExpectedSeq++
	o.lastProgressAt = time.Now()

	for {
		next, ok := o.pending[o.nextExpectedSeq]
		if !ok {
			break
		}
		delete(o.pending, o.nextExpectedSeq)
		o.lastContiguousTS = next.Timestamp
		o.nextExpectedSeq++
	}
}

func (p *Processor) recomputeGlobal() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.origins) == 0 {
		return p.globalWatermark
	}

	min := int64(math.MaxInt64)
	for _, o := range p.origins {
		o.mu.Lock()
		ts := o.lastContiguousTS
		o.mu.Unlock()
		if ts == noProgress {
			// Not every origin has reported yet; hold the watermark.
			return p.globalWatermark
		}
		if ts < min {
			min = ts
		}
	}

	if p.globalWatermark == noProgress || min > p.globalWatermark {
		p.globalWatermark = min
		if p.metrics != nil {
			p.metrics.IncWatermarkAdvanced()
		}
	}
	return p.globalWatermark
}

// Global returns the current global watermark without processing a new
// barrier.
func (p *Processor) Global() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.globalWatermark
}

// CheckStalls returns the set of origins that have made no progress
// within idleTimeout, suitable for surfacing OriginStalled. A zero
// idleTimeout disables this check.
func (p *Processor) CheckStalls() []types.OriginID {
	if p.idleTimeout == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var stalled []types.OriginID
	for id, o := range p.origins {
		o.mu.Lock()
		idle := now.Sub(o.lastProgressAt)
		o.mu.Unlock()
		if idle >= p.idleTimeout {
			stalled = append(stalled, id)
			if p.metrics != nil {
				p.metrics.IncOriginStall()
			}
			if p.logger != nil {
				p.logger.Warn("origin stalled", map[string]any{"origin_id": id, "idle": idle.String()})
			}
		}
	}
	return stalled
}

// Shutdown disposes of buffered barriers per mode and returns the final
// global watermark.
func (p *Processor) Shutdown(mode ShutdownMode) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch mode {
	case ShutdownDrop:
		for _, o := range p.origins {
			o.mu.Lock()
			o.pending = nil
			o.mu.Unlock()
		}
	case ShutdownGraceful:
		for _, o := range p.origins {
			o.mu.Lock()
			o.lastContiguousTS = math.MaxInt64
			o.pending = nil
			o.mu.Unlock()
		}
		p.globalWatermark = math.MaxInt64
	}
	return p.globalWatermark
}
