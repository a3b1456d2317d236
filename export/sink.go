// Package export publishes matched records to downstream systems: Kafka,
// Elasticsearch, S3, or some combination fanned out through a Router. Every
// sink shares the same batch/compress shape and publishes a Grok capture
// alongside the raw line it came from.
package export

import (
	"context"
	"time"

	"github.com/grokworks/grok/pkg/types"
)

// SinkRecord is the payload handed to a Sink: a matched line plus its
// capture, ready to serialize however the destination wants it.
type SinkRecord = types.Record

// Sink is the interface every export destination implements.
type Sink interface {
	// Publish sends a single record to the destination.
	Publish(ctx context.Context, record SinkRecord) error

	// PublishBatch sends a batch of records to the destination.
	PublishBatch(ctx context.Context, records []SinkRecord) error

	// Close releases the sink's resources.
	Close() error

	// Name returns the sink's configured or default name.
	Name() string

	// Metrics returns the sink's current throughput/error metrics.
	Metrics() *SinkMetrics
}

// SinkMetrics tracks performance and health metrics for a sink.
type SinkMetrics struct {
	RecordsSent   int64         `json:"records_sent"`
	RecordsFailed int64         `json:"records_failed"`
	BytesSent     int64         `json:"bytes_sent"`
	BatchesSent   int64         `json:"batches_sent"`
	LastSendTime  time.Time     `json:"last_send_time"`
	LastError     string        `json:"last_error,omitempty"`
	LastErrorTime time.Time     `json:"last_error_time,omitempty"`
	AvgBatchSize  float64       `json:"avg_batch_size"`
	AvgLatency    time.Duration `json:"avg_latency"`
}

// CompressionType names a compression algorithm a sink may apply before
// writing its payload.
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionGzip   CompressionType = "gzip"
	CompressionSnappy CompressionType = "snappy"
)

// BaseConfig holds configuration common to every sink.
type BaseConfig struct {
	Name          string          `yaml:"name,omitempty"`
	BatchSize     int             `yaml:"batch_size,omitempty"`
	BatchTimeout  time.Duration   `yaml:"batch_timeout,omitempty"`
	Compression   CompressionType `yaml:"compression,omitempty"`
	FlushInterval time.Duration   `yaml:"flush_interval,omitempty"`
	Timeout       time.Duration   `yaml:"timeout,omitempty"`
}

// DefaultBaseConfig returns a BaseConfig with sensible defaults.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		BatchSize:     100,
		BatchTimeout:  5 * time.Second,
		Compression:   CompressionNone,
		FlushInterval: 1 * time.Second,
		Timeout:       30 * time.Second,
	}
}
