package main

import (
	"testing"

	"github.com/pithecene-io/streamrun/plan"
	"github.com/pithecene-io/streamrun/types"

	"github.com/pithecene-io/streamrun/config"
)

func TestKVRecordExtractors_RoundTrip(t *testing.T) {
	const key, value uint64 = 42, 7
	const eventTime int64 = 1_700_000_000_000

	record := kvEncodeForTest(key, value, eventTime)

	if got := kvTimeFn(record); got != eventTime {
		t.Errorf("kvTimeFn() = %d, want %d", got, eventTime)
	}
	if got := kvValueFn(record); got != int64(value) {
		t.Errorf("kvValueFn() = %d, want %d", got, value)
	}
	gotKey := kvKeyFn(record)
	wantKey := kvEncodeForTest(key, 0, 0)[0:8]
	for i := range wantKey {
		if gotKey[i] != wantKey[i] {
			t.Fatalf("kvKeyFn() = %v, want prefix %v", gotKey, wantKey)
		}
	}
}

func kvEncodeForTest(key, value uint64, eventTimeMillis int64) []byte {
	rec := make([]byte, 24)
	putUint64LE(rec[0:8], key)
	putUint64LE(rec[8:16], value)
	putUint64LE(rec[16:24], uint64(eventTimeMillis))
	return rec
}

func putUint64LE(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func TestBuildAggregation_NoOperator(t *testing.T) {
	d := &plan.Descriptor{Sources: []string{"s"}, Sinks: []string{"t"}, Operator: &plan.OperatorDescriptor{Kind: plan.OperatorNone}}
	cfg := &config.Config{}

	agg, origin, err := buildAggregation(d, cfg, nil)
	if err != nil {
		t.Fatalf("buildAggregation() error = %v", err)
	}
	if agg != nil {
		t.Errorf("buildAggregation() handler = %v, want nil", agg)
	}
	if origin != 0 {
		t.Errorf("buildAggregation() origin = %d, want 0", origin)
	}
}

func TestBuildAggregation_RejectsJoin(t *testing.T) {
	d := &plan.Descriptor{Sources: []string{"s"}, Sinks: []string{"t"}, Operator: &plan.OperatorDescriptor{Kind: plan.OperatorJoin}}
	cfg := &config.Config{}

	if _, _, err := buildAggregation(d, cfg, nil); err == nil {
		t.Fatal("buildAggregation() with join operator: want error, got nil")
	}
}

func TestBuildAggregation_BuildsSumHandler(t *testing.T) {
	d := &plan.Descriptor{
		Sources: []string{"s"},
		Sinks:   []string{"t"},
		Operator: &plan.OperatorDescriptor{
			Kind:     plan.OperatorAggregation,
			Window:   plan.WindowSpec{Kind: "tumbling", SizeMillis: 1000},
			Combiner: "sum",
		},
	}
	cfg := &config.Config{HashMapBucketCount: 16, HashMapPageSize: 4096, NumWorkerThreads: 1}

	agg, _, err := buildAggregation(d, cfg, nil)
	if err != nil {
		t.Fatalf("buildAggregation() error = %v", err)
	}
	if agg == nil {
		t.Fatal("buildAggregation() handler = nil, want non-nil")
	}

	record := kvEncodeForTest(1, 5, 500)
	if err := agg.Build(types.WorkerThreadID(0), record); err != nil {
		t.Fatalf("agg.Build() error = %v", err)
	}
}

func TestOriginIDFor_StableAndDistinct(t *testing.T) {
	a := originIDFor("clicks")
	b := originIDFor("clicks")
	c := originIDFor("views")

	if a != b {
		t.Errorf("originIDFor(%q) is not stable: %d != %d", "clicks", a, b)
	}
	if a == c {
		t.Errorf("originIDFor(%q) and originIDFor(%q) collided: %d", "clicks", "views", a)
	}
}

func TestBuildAggregation_RejectsUnknownCombiner(t *testing.T) {
	d := &plan.Descriptor{
		Sources: []string{"s"},
		Sinks:   []string{"t"},
		Operator: &plan.OperatorDescriptor{
			Kind:     plan.OperatorAggregation,
			Window:   plan.WindowSpec{Kind: "tumbling", SizeMillis: 1000},
			Combiner: "bogus",
		},
	}
	cfg := &config.Config{HashMapBucketCount: 16, HashMapPageSize: 4096, NumWorkerThreads: 1}

	if _, _, err := buildAggregation(d, cfg, nil); err == nil {
		t.Fatal("buildAggregation() with unknown combiner: want error, got nil")
	}
}
