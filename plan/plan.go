// Package plan defines the narrow "compiled pipeline descriptor"
// contract a worker boots from: which configured sources feed the
// pipeline, which configured sinks drain it, and at most one windowed
// operator (aggregation or join) to run in between. The coordinator and
// query compiler that would produce this descriptor are out of scope;
// this package only decodes the JSON shape they're expected to emit.
package plan

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pithecene-io/streamrun/operator"
	"github.com/pithecene-io/streamrun/types"
)

// OperatorKind selects which windowed operator handler a descriptor
// wires, if any.
type OperatorKind string

const (
	OperatorNone        OperatorKind = "none"
	OperatorAggregation OperatorKind = "aggregation"
	OperatorJoin        OperatorKind = "join"
)

// WindowSpec is the JSON form of types.WindowSpec.
type WindowSpec struct {
	Kind        string `json:"kind"` // "tumbling" or "sliding"
	SizeMillis  int64  `json:"size_millis"`
	SlideMillis int64  `json:"slide_millis,omitempty"`
}

// ToTypes converts to the runtime types.WindowSpec.
func (w WindowSpec) ToTypes() (types.WindowSpec, error) {
	switch w.Kind {
	case "tumbling":
		return types.WindowSpec{Kind: types.WindowTumbling, SizeMillis: w.SizeMillis}, nil
	case "sliding":
		return types.WindowSpec{Kind: types.WindowSliding, SizeMillis: w.SizeMillis, SlideMillis: w.SlideMillis}, nil
	default:
		return types.WindowSpec{}, fmt.Errorf("plan: unknown window kind %q", w.Kind)
	}
}

// OperatorDescriptor configures the single windowed operator a pipeline
// runs between its sources and sinks. Records are fixed at the
// worker's built-in 24-byte {key uint64, value uint64, event_time_ms
// int64} shape (iosrc.Uint64KeyValueRecord); a real deployment's query
// compiler would instead emit per-query codecs, which is outside this
// repo's scope.
type OperatorDescriptor struct {
	Kind           OperatorKind `json:"kind"`
	Window         WindowSpec   `json:"window"`
	Combiner       string       `json:"combiner,omitempty"` // sum|count|min|max|avg, aggregation only
	BucketCount    int          `json:"bucket_count,omitempty"`
	MaxArenaBytes  int          `json:"max_arena_bytes,omitempty"`
	OutputOriginID uint64       `json:"output_origin_id,omitempty"`
}

// ToCombiner maps a descriptor's combiner name to an operator.Combiner.
func (d OperatorDescriptor) ToCombiner() (operator.Combiner, error) {
	switch d.Combiner {
	case "sum", "":
		return operator.NewSumCombiner(), nil
	case "count":
		return operator.NewCountCombiner(), nil
	case "min":
		return operator.NewMinCombiner(), nil
	case "max":
		return operator.NewMaxCombiner(), nil
	case "avg":
		return operator.NewAvgCombiner(), nil
	default:
		return operator.Combiner{}, fmt.Errorf("plan: unknown combiner %q", d.Combiner)
	}
}

// Descriptor is a compiled pipeline: the set of configured sources to
// read, the set of configured sinks to fan the (possibly
// operator-transformed) stream out to, and an optional operator.
type Descriptor struct {
	Sources  []string             `json:"sources"`
	Sinks    []string             `json:"sinks"`
	Operator *OperatorDescriptor  `json:"operator,omitempty"`
}

// Load reads and decodes a pipeline descriptor from path.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: cannot read %q: %w", path, err)
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("plan: invalid JSON in %q: %w", path, err)
	}
	if len(d.Sources) == 0 {
		return nil, fmt.Errorf("plan: descriptor names no sources")
	}
	if len(d.Sinks) == 0 {
		return nil, fmt.Errorf("plan: descriptor names no sinks")
	}
	if d.Operator == nil {
		d.Operator = &OperatorDescriptor{Kind: OperatorNone}
	}
	return &d, nil
}
