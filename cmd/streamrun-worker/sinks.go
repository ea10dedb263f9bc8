package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pithecene-io/streamrun/config"
	"github.com/pithecene-io/streamrun/iosink"
	"github.com/pithecene-io/streamrun/log"
	"github.com/pithecene-io/streamrun/metrics"
	"github.com/pithecene-io/streamrun/network"
	"github.com/pithecene-io/streamrun/types"
)

// buildSinks constructs one iosink.Sink per logical name in names,
// looked up in cfg.Sinks. The returned closer closes every constructed
// sink in reverse order, discarding individual close errors (logged,
// not propagated, since shutdown should make a best effort at every
// sink rather than stop at the first failure).
func buildSinks(ctx context.Context, cfg *config.Config, names []string, logger *log.Logger, m *metrics.Collector) (map[string]iosink.Sink, func(), error) {
	sinks := make(map[string]iosink.Sink, len(names))
	var closers []func() error

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && logger != nil {
				logger.Warn("sink close failed", map[string]any{"error": err})
			}
		}
	}

	for _, name := range names {
		sc, ok := cfg.Sinks[name]
		if !ok {
			closeAll()
			return nil, nil, fmt.Errorf("no sink named %q in config", name)
		}

		sink, err := buildSink(ctx, sc, logger, m)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("sink %q: %w", name, err)
		}
		sinks[name] = sink
		closers = append(closers, sink.Close)
	}

	return sinks, closeAll, nil
}

func buildSink(ctx context.Context, sc config.SinkConfig, logger *log.Logger, m *metrics.Collector) (iosink.Sink, error) {
	switch sc.Kind {
	case config.SinkFile:
		if sc.Path == "" {
			return nil, fmt.Errorf("file sink requires path")
		}
		if sc.Compress {
			return iosink.NewCompressedFileSink(sc.Path)
		}
		return iosink.NewFileSink(sc.Path)

	case config.SinkStdout:
		return iosink.NewStdoutSink(os.Stdout), nil

	case config.SinkS3:
		return iosink.NewS3Sink(ctx, iosink.S3Config{
			Bucket:       sc.Bucket,
			KeyPrefix:    sc.KeyPrefix,
			Region:       sc.Region,
			Endpoint:     sc.Endpoint,
			UsePathStyle: sc.UsePathStyle,
			Compress:     sc.Compress,
		})

	case config.SinkNetwork:
		if len(sc.Endpoints) == 0 {
			return nil, fmt.Errorf("network sink requires at least one endpoint")
		}
		endpoints := make([]network.Endpoint, len(sc.Endpoints))
		for i, addr := range sc.Endpoints {
			endpoints[i] = network.Endpoint{ID: fmt.Sprintf("r%d", i), Addr: addr}
		}
		strategy := network.StrategyRoundRobin
		if sc.Strategy == "sticky" {
			strategy = network.StrategySticky
		}
		selector := network.NewEndpointSelector(strategy)
		partition := types.PartitionKey{}
		if err := selector.RegisterPartition(partition, endpoints); err != nil {
			return nil, err
		}
		ch := network.NewSendChannel(partition, selector, network.TCPDialer(), network.Config{}, logger, m)
		return iosink.NewNetworkSink(ch), nil

	default:
		return nil, fmt.Errorf("unknown sink type %q", sc.Kind)
	}
}
