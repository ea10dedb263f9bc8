// Package operator implements the two operator handlers that own
// windowed state: the aggregation handler (component F), built on the
// offset hash map, and the nested-loop join handler (component G), built
// on paged vectors. Both share the slicing store for window bookkeeping.
//
// Record-path dispatch (the combiner) is a closed tagged-sum per the
// design notes: the built-in sum/count/min/max/avg kinds switch on a Kind
// enum rather than going through an interface, since Combine sits on the
// per-record hot path. Custom combiners, being open-ended and off the hot
// path by definition, plug in through an interface instead.
package operator

import "math"

// CombinerKind selects a built-in aggregation combiner.
type CombinerKind int

const (
	CombinerSum CombinerKind = iota
	CombinerCount
	CombinerMin
	CombinerMax
	CombinerAvg
	CombinerCustom
)

// avgValueSize accounts for a packed {sum int64, count int64} pair.
const avgValueSize = 16
const scalarValueSize = 8

// CustomCombiner is the escape hatch for aggregations outside the closed
// built-in set. Implementations must be safe to call concurrently across
// distinct value slices (never the same slice from two goroutines).
type CustomCombiner interface {
	Init(value []byte)
	Apply(value []byte, input int64)
	Result(value []byte) int64
}

// Combiner is the per-slice, per-key accumulator used by the aggregation
// handler. The zero value is invalid; construct via NewSumCombiner etc.
type Combiner struct {
	Kind   CombinerKind
	Custom CustomCombiner
}

func NewSumCombiner() Combiner   { return Combiner{Kind: CombinerSum} }
func NewCountCombiner() Combiner { return Combiner{Kind: CombinerCount} }
func NewMinCombiner() Combiner   { return Combiner{Kind: CombinerMin} }
func NewMaxCombiner() Combiner   { return Combiner{Kind: CombinerMax} }
func NewAvgCombiner() Combiner   { return Combiner{Kind: CombinerAvg} }
func NewCustomCombiner(c CustomCombiner) Combiner {
	return Combiner{Kind: CombinerCustom, Custom: c}
}

// ValueSize returns the byte width this combiner's accumulator occupies
// in the offset hash map.
func (c Combiner) ValueSize() int {
	if c.Kind == CombinerAvg {
		return avgValueSize
	}
	return scalarValueSize
}

// Init writes the identity value into a freshly created entry.
func (c Combiner) Init(value []byte) {
	switch c.Kind {
	case CombinerSum, CombinerCount:
		putInt64(value, 0)
	case CombinerMin:
		putInt64(value, math.MaxInt64)
	case CombinerMax:
		putInt64(value, math.MinInt64)
	case CombinerAvg:
		putInt64(value[0:8], 0)
		putInt64(value[8:16], 0)
	case CombinerCustom:
		c.Custom.Init(value)
	}
}

// Apply folds one input value into the accumulator.
func (c Combiner) Apply(value []byte, input int64) {
	switch c.Kind {
	case CombinerSum:
		putInt64(value, getInt64(value)+input)
	case CombinerCount:
		putInt64(value, getInt64(value)+1)
	case CombinerMin:
		if cur := getInt64(value); input < cur {
			putInt64(value, input)
		}
	case CombinerMax:
		if cur := getInt64(value); input > cur {
			putInt64(value, input)
		}
	case CombinerAvg:
		putInt64(value[0:8], getInt64(value[0:8])+input)
		putInt64(value[8:16], getInt64(value[8:16])+1)
	case CombinerCustom:
		c.Custom.Apply(value, input)
	}
}

// Merge folds the src accumulator into dst, combining raw accumulator
// state rather than the finalized Result — this is what makes merging
// two partial averages correct (sums and counts add independently,
// instead of averaging two already-divided results). A custom combiner
// has no merge hook, so for CombinerCustom src's Result is folded into
// dst through Apply.
func (c Combiner) Merge(dst, src []byte) {
	switch c.Kind {
	case CombinerSum, CombinerCount:
		putInt64(dst, getInt64(dst)+getInt64(src))
	case CombinerMin:
		if s := getInt64(src); s < getInt64(dst) {
			putInt64(dst, s)
		}
	case CombinerMax:
		if s := getInt64(src); s > getInt64(dst) {
			putInt64(dst, s)
		}
	case CombinerAvg:
		putInt64(dst[0:8], getInt64(dst[0:8])+getInt64(src[0:8]))
		putInt64(dst[8:16], getInt64(dst[8:16])+getInt64(src[8:16]))
	case CombinerCustom:
		c.Custom.Apply(dst, c.Custom.Result(src))
	}
}

// Result returns the accumulator's logical output value, e.g. dividing
// sum by count for CombinerAvg.
func (c Combiner) Result(value []byte) int64 {
	switch c.Kind {
	case CombinerAvg:
		count := getInt64(value[8:16])
		if count == 0 {
			return 0
		}
		return getInt64(value[0:8]) / count
	case CombinerCustom:
		return c.Custom.Result(value)
	default:
		return getInt64(value)
	}
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}

func getInt64(b []byte) int64 {
	var u uint64
	for i := 0; i < 8; i++ {
		u |= uint64(b[i]) << (8 * i)
	}
	return int64(u)
}
