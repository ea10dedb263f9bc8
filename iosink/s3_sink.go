package iosink

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"github.com/pithecene-io/streamrun/buffer"
)

// S3Config configures the S3 sink. Grounded on lode/client_s3.go's
// S3Config, but writes bytes directly to a named object instead of
// going through the teacher's own Dataset/Store abstraction — the
// spec's sink contract is "write bytes to a named destination", not a
// partitioned, manifest-tracked dataset.
type S3Config struct {
	Bucket       string
	KeyPrefix    string
	Region       string
	Endpoint     string
	UsePathStyle bool
	// Compress zstd-encodes each object's body before upload.
	Compress bool
}

// S3Sink writes each buffer as its own S3 object, named
// "<KeyPrefix><sequence>.bin" (or ".bin.zst" when Compress is set) in
// acquisition order.
type S3Sink struct {
	client *s3.Client
	cfg    S3Config
	enc    *zstd.Encoder

	mu  sync.Mutex
	seq int64
}

// NewS3Sink loads AWS config via the default credential chain and
// constructs an S3Sink.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("iosink: s3 sink requires a bucket")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("iosink: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	sink := &S3Sink{client: s3.NewFromConfig(awsCfg, s3Opts...), cfg: cfg}
	if cfg.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("iosink: zstd encoder: %w", err)
		}
		sink.enc = enc
	}
	return sink, nil
}

func (s *S3Sink) WriteBuffers(ctx context.Context, buffers []*buffer.TupleBuffer) error {
	suffix := ".bin"
	if s.enc != nil {
		suffix = ".bin.zst"
	}
	for _, b := range buffers {
		key := fmt.Sprintf("%s%020d%s", s.cfg.KeyPrefix, atomic.AddInt64(&s.seq, 1), suffix)
		payload := payloadBytes(b)
		if s.enc != nil {
			payload = s.enc.EncodeAll(payload, nil)
		}
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &s.cfg.Bucket,
			Key:    &key,
			Body:   bytes.NewReader(payload),
		})
		if err != nil {
			return fmt.Errorf("iosink: s3 put %q: %w", key, err)
		}
	}
	return nil
}

func (s *S3Sink) Close() error {
	if s.enc != nil {
		return s.enc.Close()
	}
	return nil
}
