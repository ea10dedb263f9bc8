// Package notify implements a Redis pub/sub adapter that publishes
// window-trigger and query-lifecycle events to an external observer.
// The query lifecycle layer itself (deciding stop/restart/abort for a
// failed sub-query) is an external collaborator, out of scope for this
// module; notify only publishes the events that layer consumes.
//
// Grounded on adapter/redis/redis.go: same Config shape, same
// attempt-count-plus-exponential-backoff Publish loop.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannel is the default pub/sub channel for lifecycle events.
const DefaultChannel = "streamrun:lifecycle"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// EventKind enumerates the events notify publishes.
type EventKind string

const (
	// EventWindowTriggered fires when an operator emits a closed window.
	EventWindowTriggered EventKind = "window_triggered"
	// EventOriginStalled fires when a watermark processor detects an
	// origin has gone quiet past its idle timeout (spec §7
	// OriginStalled: warn, with configurable escalation to query failure).
	EventOriginStalled EventKind = "origin_stalled"
	// EventChannelRejected fires when a receive channel rejects an
	// unknown partition registration (spec §7: fail the affected
	// sub-query).
	EventChannelRejected EventKind = "channel_rejected"
	// EventChannelUnrecoverable fires when a send channel exhausts its
	// reconnect deadline.
	EventChannelUnrecoverable EventKind = "channel_unrecoverable"
	// EventArenaExhausted fires when a hash map's offset arena hits its
	// configured growth budget.
	EventArenaExhausted EventKind = "arena_exhausted"
)

// Event is the JSON payload published for every lifecycle notification.
type Event struct {
	Kind      EventKind      `json:"kind"`
	QueryID   string         `json:"query_id"`
	OperatorID string        `json:"operator_id,omitempty"`
	WorkerID  int            `json:"worker_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	TimestampMillis int64    `json:"timestamp_millis"`
}

// Config configures the notify adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	URL string
	// Channel is the pub/sub channel name (default DefaultChannel).
	Channel string
	// Timeout is the per-publish timeout (default DefaultTimeout).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default
	// DefaultRetries).
	Retries int
}

// Adapter publishes lifecycle events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a notify adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify: adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("notify: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("notify: retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends ev as a JSON PUBLISH to the configured channel, retrying
// with exponential backoff on connection failures.
func (a *Adapter) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	var lastErr error
	attempts := 1 + a.config.Retries

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("notify: context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("notify: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		lastErr = a.client.Publish(publishCtx, a.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("notify: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}
