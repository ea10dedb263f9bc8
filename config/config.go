// Package config loads a worker's YAML configuration file: the
// enumerated buffer/thread/watermark/network/hash-map parameters plus
// source driver and sink definitions.
//
// Grounded on cli/config/config.go and cli/config/load.go: the same
// yaml.v3 strict-decode (KnownFields) discipline, the same Duration
// wrapper for human-readable durations, and the same env-var expansion
// pass before decoding.
package config

import (
	"fmt"
	"time"
)

// Config represents a worker's streamrun.yaml file.
type Config struct {
	// BufferSize is the page size in bytes for the pooled buffer
	// manager (spec: buffer_size).
	BufferSize int `yaml:"buffer_size"`
	// NumPooledBuffers is the total number of pooled pages (spec:
	// num_pooled_buffers).
	NumPooledBuffers int `yaml:"num_pooled_buffers"`
	// NumWorkerThreads is the number of pipeline worker threads (spec:
	// num_worker_threads).
	NumWorkerThreads int `yaml:"num_worker_threads"`
	// LocalBufferReservationPerSource sizes each source's sub-pool
	// reservation (spec: local_buffer_reservation_per_source).
	LocalBufferReservationPerSource int `yaml:"local_buffer_reservation_per_source"`
	// AcquireTimeout bounds how long a buffer acquisition blocks before
	// surfacing PoolExhausted (spec: acquire_timeout_ms).
	AcquireTimeout Duration `yaml:"acquire_timeout_ms"`
	// WatermarkIdleTimeout bounds how long an origin may go quiet
	// before the watermark processor surfaces OriginStalled (spec:
	// watermark_idle_timeout_ms).
	WatermarkIdleTimeout Duration `yaml:"watermark_idle_timeout_ms"`
	// NetworkConnectRetryBase is the base backoff between reconnect
	// attempts (spec: network_connect_retry_ms).
	NetworkConnectRetryBase Duration `yaml:"network_connect_retry_ms"`
	// NetworkConnectDeadline bounds total reconnect time before
	// ChannelUnrecoverable (spec: network_connect_deadline_ms).
	NetworkConnectDeadline Duration `yaml:"network_connect_deadline_ms"`
	// HashMapBucketCount is the default bucket count for new offset
	// hash maps (spec: hash_map_bucket_count).
	HashMapBucketCount int `yaml:"hash_map_bucket_count"`
	// HashMapPageSize is the arena page size for offset hash maps
	// (spec: hash_map_page_size).
	HashMapPageSize int `yaml:"hash_map_page_size"`

	// Sources lists this worker's source drivers, keyed by logical
	// name (spec §6 Source config).
	Sources map[string]SourceConfig `yaml:"sources"`
	// Sinks lists this worker's sink drivers, keyed by logical name.
	Sinks map[string]SinkConfig `yaml:"sinks"`
	// Notify configures the optional lifecycle-event publisher.
	Notify *NotifyConfig `yaml:"notify,omitempty"`
}

// SourceKind enumerates the source types named in spec §6.
type SourceKind string

const (
	SourceCSV       SourceKind = "CSV"
	SourceTCP       SourceKind = "TCP"
	SourceKafka     SourceKind = "Kafka"
	SourceMemory    SourceKind = "Memory"
	SourceGenerator SourceKind = "Generator"
)

// SourceConfig is one entry of spec §6's source config:
// {logical_name, physical_name, type, type_specific_fields…}. The
// logical_name is the Sources map key; type-specific fields are
// collected in Options rather than named individually, since the set
// varies per Kind (a file path for CSV, a host:port for TCP, a broker
// list and topic for Kafka).
type SourceConfig struct {
	PhysicalName     string            `yaml:"physical_name"`
	Kind             SourceKind        `yaml:"type"`
	SchemaSizeBytes  int               `yaml:"schema_size_bytes"`
	SkipOnCodecError bool              `yaml:"skip_on_codec_error"`
	Options          map[string]string `yaml:",inline"`
}

// SinkKind enumerates the sink types this worker can drive.
type SinkKind string

const (
	SinkFile    SinkKind = "file"
	SinkStdout  SinkKind = "stdout"
	SinkNetwork SinkKind = "network"
	SinkS3      SinkKind = "s3"
)

// SinkConfig is one sink driver definition.
type SinkConfig struct {
	Kind SinkKind `yaml:"type"`
	Path string   `yaml:"path,omitempty"`
	// Compress zstd-encodes a file sink's output stream, or each object
	// body of an S3 sink.
	Compress bool `yaml:"compress,omitempty"`

	// Network sink fields: the CLI addresses this sink's SendChannel to
	// the zero-value PartitionKey; Endpoints lists the candidate replica
	// addresses.
	Endpoints []string `yaml:"endpoints,omitempty"`
	Strategy  string   `yaml:"strategy,omitempty"`

	// S3 sink fields.
	Bucket       string `yaml:"bucket,omitempty"`
	KeyPrefix    string `yaml:"key_prefix,omitempty"`
	Region       string `yaml:"region,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty"`
}

// NotifyConfig configures the lifecycle-event publisher.
type NotifyConfig struct {
	URL     string   `yaml:"url"`
	Channel string   `yaml:"channel,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries int      `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "500ms",
// "30s"), matching the teacher's cli/config.Duration.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "500ms" or "30s", or a
// bare integer as milliseconds (the spec's *_ms field names).
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		d.Duration = parsed
	case int:
		d.Duration = time.Duration(v) * time.Millisecond
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// WithDefaults fills any unset numeric/duration fields with the
// worker's operational defaults.
func (c Config) WithDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 64 * 1024
	}
	if c.NumPooledBuffers <= 0 {
		c.NumPooledBuffers = 4096
	}
	if c.NumWorkerThreads <= 0 {
		c.NumWorkerThreads = 4
	}
	if c.LocalBufferReservationPerSource <= 0 {
		c.LocalBufferReservationPerSource = 16
	}
	if c.AcquireTimeout.Duration <= 0 {
		c.AcquireTimeout.Duration = 100 * time.Millisecond
	}
	if c.WatermarkIdleTimeout.Duration <= 0 {
		c.WatermarkIdleTimeout.Duration = 10 * time.Second
	}
	if c.NetworkConnectRetryBase.Duration <= 0 {
		c.NetworkConnectRetryBase.Duration = 500 * time.Millisecond
	}
	if c.NetworkConnectDeadline.Duration <= 0 {
		c.NetworkConnectDeadline.Duration = 30 * time.Second
	}
	if c.HashMapBucketCount <= 0 {
		c.HashMapBucketCount = 1024
	}
	if c.HashMapPageSize <= 0 {
		c.HashMapPageSize = 4096
	}
	return c
}
