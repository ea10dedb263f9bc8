package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/streamrun/buffer"
	"github.com/pithecene-io/streamrun/config"
	"github.com/pithecene-io/streamrun/iosink"
	"github.com/pithecene-io/streamrun/iosrc"
	"github.com/pithecene-io/streamrun/log"
	"github.com/pithecene-io/streamrun/metrics"
	"github.com/pithecene-io/streamrun/notify"
	"github.com/pithecene-io/streamrun/operator"
	"github.com/pithecene-io/streamrun/pipeline"
	"github.com/pithecene-io/streamrun/plan"
	"github.com/pithecene-io/streamrun/types"
	"github.com/pithecene-io/streamrun/watermark"
)

// Exit codes for `run`.
const (
	exitSuccess     = 0
	exitConfigError = 1
	exitFatal       = 2
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "boot a worker process from a config file and a pipeline descriptor",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to streamrun.yaml", Required: true},
			&cli.StringFlag{Name: "plan", Usage: "path to the compiled pipeline descriptor (JSON)", Required: true},
			&cli.StringFlag{Name: "worker-id", Usage: "worker identity for logs/metrics", Value: "worker-1"},
			&cli.StringFlag{Name: "query-id", Usage: "query identity for logs/metrics"},
			&cli.StringFlag{Name: "debug-addr", Usage: "address for the debug metrics endpoint", Value: "127.0.0.1:7777"},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	workerID := c.String("worker-id")
	queryID := c.String("query-id")

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("config: %v", err), exitConfigError)
	}
	descriptor, err := plan.Load(c.String("plan"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("plan: %v", err), exitConfigError)
	}

	logger := log.NewLogger(log.WorkerMeta{WorkerID: workerID, QueryID: queryID})
	collector := metrics.NewCollector(workerID, queryID)

	if _, err := startDebugServer(c.String("debug-addr"), collector); err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	mgr, err := buffer.NewManager(buffer.Config{
		PageSize: cfg.BufferSize,
		NumPages: cfg.NumPooledBuffers,
		Logger:   logger,
		Metrics:  collector,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("buffer manager: %v", err), exitConfigError)
	}
	defer func() {
		if err := mgr.Destroy(); err != nil {
			logger.Warn("buffer manager destroy reported leaks", map[string]any{"error": err})
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received", nil)
		cancel()
	}()

	sinks, closeSinks, err := buildSinks(ctx, cfg, descriptor.Sinks, logger, collector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("sinks: %v", err), exitConfigError)
	}
	defer closeSinks()

	var notifier *notify.Adapter
	if cfg.Notify != nil {
		notifier, err = notify.New(notify.Config{
			URL:     cfg.Notify.URL,
			Channel: cfg.Notify.Channel,
			Timeout: cfg.Notify.Timeout.Duration,
			Retries: cfg.Notify.Retries,
		})
		if err != nil {
			return cli.Exit(fmt.Sprintf("notify: %v", err), exitConfigError)
		}
		defer notifier.Close()
	}

	watermarkProc := watermark.NewProcessor(cfg.WatermarkIdleTimeout.Duration, logger, collector)

	agg, outputOrigin, err := buildAggregation(descriptor, cfg, collector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("operator: %v", err), exitConfigError)
	}

	sinkCtx := pipeline.New(pipeline.Config{
		ID:           types.PipelineID(workerID + "-sink"),
		BufferMgr:    mgr,
		Continuation: pipeline.ContinuationPossible,
		Downstream:   writeToSinks(ctx, sinks, logger),
		Logger:       logger,
	})
	if err := openPipeline(sinkCtx); err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}

	var ingestDownstream pipeline.DownstreamFunc
	if agg != nil {
		ingestDownstream = buildIngestWithOperator(agg, watermarkProc, workerID, logger, collector)
	} else {
		ingestDownstream = writeToSinks(ctx, sinks, logger)
	}

	ingestCtx := pipeline.New(pipeline.Config{
		ID:           types.PipelineID(workerID + "-ingest"),
		BufferMgr:    mgr,
		Continuation: pipeline.ContinuationPossible,
		Downstream:   ingestDownstream,
		Logger:       logger,
	})
	if err := openPipeline(ingestCtx); err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}

	var wg sync.WaitGroup

	if agg != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runTriggerLoop(ctx, agg, watermarkProc, sinkCtx, workerID, outputOrigin, logger)
		}()
	}

	if notifier != nil && cfg.WatermarkIdleTimeout.Duration > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runStallWatcher(ctx, watermarkProc, notifier, queryID, cfg.WatermarkIdleTimeout.Duration)
		}()
	}

	var srcWG sync.WaitGroup
	for _, name := range descriptor.Sources {
		sc, ok := cfg.Sources[name]
		if !ok {
			return cli.Exit(fmt.Sprintf("no source named %q in config", name), exitConfigError)
		}

		fetch, closeFetch, err := buildFetcher(sc)
		if err != nil {
			return cli.Exit(fmt.Sprintf("source %q: %v", name, err), exitConfigError)
		}

		sub, err := mgr.CreateSubPool(cfg.LocalBufferReservationPerSource)
		if err != nil {
			return cli.Exit(fmt.Sprintf("source %q: %v", name, err), exitConfigError)
		}

		origin := types.OriginID(originIDFor(name))
		watermarkProc.RegisterOrigin(origin)

		driver := iosrc.NewDriver(iosrc.Config{
			LogicalName:      name,
			PhysicalName:     sc.PhysicalName,
			Origin:           origin,
			Parser:           buildParser(sc),
			SkipOnCodecError: sc.SkipOnCodecError,
			SubPool:          sub,
			Ctx:              ingestCtx,
			AcquireTimeout:   cfg.AcquireTimeout.Duration,
			Logger:           logger,
		})

		srcWG.Add(1)
		go func(name string, closeFetch func() error) {
			defer srcWG.Done()
			defer func() {
				if err := closeFetch(); err != nil {
					logger.Warn("source transport close failed", map[string]any{"source": name, "error": err})
				}
			}()
			if err := driver.Run(ctx, fetch); err != nil {
				logger.Warn("source driver stopped", map[string]any{"source": name, "error": err})
			}
		}(name, closeFetch)
	}

	srcWG.Wait()
	cancel()
	wg.Wait()

	logger.Info("worker shutdown complete", nil)
	return nil
}

func openPipeline(ctx *pipeline.ExecutionContext) error {
	if err := ctx.Transition(pipeline.Open); err != nil {
		return fmt.Errorf("pipeline %s: %w", ctx.ID(), err)
	}
	if err := ctx.Transition(pipeline.Running); err != nil {
		return fmt.Errorf("pipeline %s: %w", ctx.ID(), err)
	}
	return nil
}

// writeToSinks fans a buffer out to every configured sink, then releases
// it; sinks never take ownership past WriteBuffers.
func writeToSinks(ctx context.Context, sinks map[string]iosink.Sink, logger *log.Logger) pipeline.DownstreamFunc {
	return func(buf *buffer.TupleBuffer) error {
		defer buf.Release()
		batch := []*buffer.TupleBuffer{buf}
		for name, sink := range sinks {
			if err := sink.WriteBuffers(ctx, batch); err != nil {
				logger.Error("sink write failed", map[string]any{"sink": name, "error": err})
				return err
			}
		}
		return nil
	}
}

// buildAggregation wires an operator.AggregationHandler from the
// descriptor's operator section, if it names one. Records are fixed at
// the 24-byte {key uint64, value uint64, event_time_ms int64} shape.
func buildAggregation(d *plan.Descriptor, cfg *config.Config, m *metrics.Collector) (*operator.AggregationHandler, types.OriginID, error) {
	switch d.Operator.Kind {
	case plan.OperatorNone:
		return nil, 0, nil
	case plan.OperatorJoin:
		return nil, 0, fmt.Errorf("join operator is not wired into this CLI; compile a plan with an aggregation or no operator")
	case plan.OperatorAggregation:
		// falls through below
	default:
		return nil, 0, fmt.Errorf("unknown operator kind %q", d.Operator.Kind)
	}

	ws, err := d.Operator.Window.ToTypes()
	if err != nil {
		return nil, 0, err
	}
	combiner, err := d.Operator.ToCombiner()
	if err != nil {
		return nil, 0, err
	}

	bucketCount := d.Operator.BucketCount
	if bucketCount <= 0 {
		bucketCount = cfg.HashMapBucketCount
	}
	maxArena := d.Operator.MaxArenaBytes
	if maxArena <= 0 {
		maxArena = cfg.HashMapPageSize * 64
	}

	outputOrigin := types.OriginID(d.Operator.OutputOriginID)
	agg := operator.NewAggregationHandler(ws, operator.AggregationConfig{
		KeySize:          8,
		BucketCount:      bucketCount,
		MaxArenaBytes:    maxArena,
		NumWorkerThreads: cfg.NumWorkerThreads,
		OutputOriginID:   outputOrigin,
		Combiner:         combiner,
		TimeFn:           kvTimeFn,
		KeyFn:            kvKeyFn,
		ValueFn:          kvValueFn,
		Metrics:          m,
	})
	return agg, outputOrigin, nil
}

func kvTimeFn(record any) int64 {
	rec := record.([]byte)
	return int64(binary.LittleEndian.Uint64(rec[16:24]))
}

func kvKeyFn(record any) []byte {
	rec := record.([]byte)
	key := make([]byte, 8)
	copy(key, rec[0:8])
	return key
}

func kvValueFn(record any) int64 {
	rec := record.([]byte)
	return int64(binary.LittleEndian.Uint64(rec[8:16]))
}

// buildIngestWithOperator returns the ingest pipeline's Downstream: feed
// every arriving record into the aggregation handler's Build path and
// advance the watermark processor, then release the buffer (the
// aggregation handler copies what it needs into its own hash maps, so
// the source buffer is free the moment Build returns).
func buildIngestWithOperator(agg *operator.AggregationHandler, wm *watermark.Processor, workerID string, logger *log.Logger, m *metrics.Collector) pipeline.DownstreamFunc {
	return func(buf *buffer.TupleBuffer) error {
		defer buf.Release()

		meta := buf.Metadata()
		record := payloadBytes(buf)

		if err := agg.Build(types.WorkerThreadID(0), record); err != nil {
			logger.Warn("aggregation build failed", map[string]any{"error": err})
			return err
		}

		wm.Advance(types.WatermarkBarrier{
			OriginID:       meta.OriginID,
			SequenceNumber: meta.SequenceNumber,
			Timestamp:      kvTimeFn(record),
		})
		return nil
	}
}

func payloadBytes(buf *buffer.TupleBuffer) []byte {
	n := buf.Metadata().PayloadSize
	full := buf.Payload()
	if n == 0 || int(n) > len(full) {
		return full
	}
	return full[:n]
}

// runTriggerLoop periodically asks the aggregation handler to drain and
// emit windows the global watermark has closed, until ctx is canceled.
func runTriggerLoop(ctx context.Context, agg *operator.AggregationHandler, wm *watermark.Processor, sinkCtx *pipeline.ExecutionContext, workerID string, outputOrigin types.OriginID, logger *log.Logger) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	drain := func() {
		global := wm.Global()
		if err := agg.TriggerAndEmit(global, sinkCtx, types.WorkerThreadID(0)); err != nil {
			logger.Warn("trigger-and-emit failed", map[string]any{"error": err})
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return
		case <-ticker.C:
			drain()
		}
	}
}

// runStallWatcher publishes an OriginStalled notification whenever the
// watermark processor detects an origin has gone idle.
func runStallWatcher(ctx context.Context, wm *watermark.Processor, notifier *notify.Adapter, queryID string, idleTimeout time.Duration) {
	ticker := time.NewTicker(idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, origin := range wm.CheckStalls() {
				_ = notifier.Publish(ctx, notify.Event{
					Kind:       notify.EventOriginStalled,
					QueryID:    queryID,
					Message:    fmt.Sprintf("origin %d stalled", origin),
					TimestampMillis: time.Now().UnixMilli(),
				})
			}
		}
	}
}

// originIDFor derives a stable origin id from a source's logical name,
// since the spec addresses origins numerically but configures sources by
// name.
func originIDFor(name string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= 1099511628211
	}
	return h
}
