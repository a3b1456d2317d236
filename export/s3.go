package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures an S3Sink.
type S3Config struct {
	BaseConfig `yaml:",inline"`

	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix,omitempty"`

	// KeyTemplate supports {{.Year}} {{.Month}} {{.Day}} {{.Hour}}
	// {{.Minute}} {{.Second}} {{.Timestamp}} {{.UnixNano}} placeholders.
	KeyTemplate string `yaml:"key_template,omitempty"`

	StorageClass         string `yaml:"storage_class,omitempty"`
	ServerSideEncryption string `yaml:"server_side_encryption,omitempty"`
	ACL                  string `yaml:"acl,omitempty"`
	UploadConcurrency    int    `yaml:"upload_concurrency,omitempty"`

	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty"`
	ContentType  string `yaml:"content_type,omitempty"`
}

// DefaultS3Config returns an S3Config with sensible defaults.
func DefaultS3Config() S3Config {
	return S3Config{
		BaseConfig:        DefaultBaseConfig(),
		Region:            "us-east-1",
		Prefix:            "grok-matches/",
		KeyTemplate:       "{{.Year}}/{{.Month}}/{{.Day}}/{{.Hour}}/{{.Timestamp}}.json",
		StorageClass:      "STANDARD",
		ACL:               "private",
		UploadConcurrency: 5,
		ContentType:       "application/json",
	}
}

// S3Sink writes matched records to S3 as newline-delimited JSON objects,
// one per batch (or one per record, if batching is disabled).
type S3Sink struct {
	config     S3Config
	client     *s3.Client
	batcher    *Batcher
	metrics    *SinkMetrics
	compressor Compressor
	mu         sync.RWMutex
	closed     atomic.Bool
}

// NewS3Sink creates an S3Sink using the default AWS credential chain,
// optionally pointed at an S3-compatible endpoint (e.g. MinIO).
func NewS3Sink(s3Config S3Config) (*S3Sink, error) {
	if s3Config.Bucket == "" {
		return nil, fmt.Errorf("export: no S3 bucket specified")
	}
	if s3Config.Region == "" {
		return nil, fmt.Errorf("export: no S3 region specified")
	}

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(s3Config.Region))
	if err != nil {
		return nil, fmt.Errorf("export: loading AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if s3Config.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(s3Config.Endpoint)
			o.UsePathStyle = s3Config.UsePathStyle
		})
	}
	client := s3.NewFromConfig(cfg, opts...)

	compressor, err := GetCompressor(s3Config.Compression)
	if err != nil {
		return nil, err
	}

	sink := &S3Sink{
		config:     s3Config,
		client:     client,
		metrics:    &SinkMetrics{},
		compressor: compressor,
	}

	if s3Config.BatchSize > 1 {
		sink.batcher = NewBatcher(BatcherConfig{
			MaxBatchSize:  s3Config.BatchSize,
			MaxBatchBytes: 100 * 1024 * 1024,
			FlushInterval: s3Config.FlushInterval,
		}, sink.publishBatchInternal)
	}

	return sink, nil
}

// Publish sends a single record, through the batcher if configured.
func (s *S3Sink) Publish(ctx context.Context, record SinkRecord) error {
	if s.closed.Load() {
		return fmt.Errorf("export: S3 sink is closed")
	}
	if s.batcher != nil {
		return s.batcher.Add(ctx, record)
	}
	return s.publishSingle(ctx, record)
}

// PublishBatch writes a batch of records as one NDJSON object.
func (s *S3Sink) PublishBatch(ctx context.Context, records []SinkRecord) error {
	if s.closed.Load() {
		return fmt.Errorf("export: S3 sink is closed")
	}
	return s.publishBatchInternal(ctx, records)
}

func (s *S3Sink) publishSingle(ctx context.Context, record SinkRecord) error {
	key := s.generateKey(record.Timestamp)

	data, err := json.Marshal(record)
	if err != nil {
		atomic.AddInt64(&s.metrics.RecordsFailed, 1)
		s.metrics.LastError = err.Error()
		s.metrics.LastErrorTime = time.Now()
		return fmt.Errorf("export: marshaling record: %w", err)
	}

	data, err = s.compressor.Compress(data)
	if err != nil {
		atomic.AddInt64(&s.metrics.RecordsFailed, 1)
		s.metrics.LastError = err.Error()
		s.metrics.LastErrorTime = time.Now()
		return fmt.Errorf("export: compressing record: %w", err)
	}

	start := time.Now()
	err = s.uploadObject(ctx, key, data)
	latency := time.Since(start)

	if err != nil {
		atomic.AddInt64(&s.metrics.RecordsFailed, 1)
		s.metrics.LastError = err.Error()
		s.metrics.LastErrorTime = time.Now()
		return err
	}

	atomic.AddInt64(&s.metrics.RecordsSent, 1)
	atomic.AddInt64(&s.metrics.BytesSent, int64(len(data)))
	s.metrics.LastSendTime = time.Now()

	s.mu.Lock()
	s.metrics.AvgLatency = (s.metrics.AvgLatency + latency) / 2
	s.mu.Unlock()

	return nil
}

func (s *S3Sink) publishBatchInternal(ctx context.Context, records []SinkRecord) error {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	key := s.generateKey(records[0].Timestamp)

	var buf bytes.Buffer
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			atomic.AddInt64(&s.metrics.RecordsFailed, 1)
			continue
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	compressed, err := s.compressor.Compress(buf.Bytes())
	if err != nil {
		atomic.AddInt64(&s.metrics.RecordsFailed, int64(len(records)))
		s.metrics.LastError = err.Error()
		s.metrics.LastErrorTime = time.Now()
		return fmt.Errorf("export: compressing batch: %w", err)
	}

	err = s.uploadObject(ctx, key, compressed)
	latency := time.Since(start)

	if err != nil {
		atomic.AddInt64(&s.metrics.RecordsFailed, int64(len(records)))
		s.metrics.LastError = err.Error()
		s.metrics.LastErrorTime = time.Now()
		return err
	}

	atomic.AddInt64(&s.metrics.RecordsSent, int64(len(records)))
	atomic.AddInt64(&s.metrics.BytesSent, int64(len(compressed)))
	atomic.AddInt64(&s.metrics.BatchesSent, 1)
	s.metrics.LastSendTime = time.Now()

	s.mu.Lock()
	if s.metrics.BatchesSent > 0 {
		s.metrics.AvgBatchSize = float64(s.metrics.RecordsSent) / float64(s.metrics.BatchesSent)
	}
	s.metrics.AvgLatency = (s.metrics.AvgLatency + latency) / 2
	s.mu.Unlock()

	return nil
}

func (s *S3Sink) uploadObject(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(s.config.ContentType),
	}

	if s.config.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(s.config.StorageClass)
	}
	if s.config.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(s.config.ACL)
	}
	if s.config.ServerSideEncryption != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryption(s.config.ServerSideEncryption)
	}
	if s.config.Compression != CompressionNone {
		input.ContentEncoding = aws.String(string(s.config.Compression))
	}

	_, err := s.client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("export: uploading to S3: %w", err)
	}
	return nil
}

func (s *S3Sink) generateKey(timestamp time.Time) string {
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	key := s.config.KeyTemplate
	if key == "" {
		key = "{{.Timestamp}}.json"
	}

	replacements := map[string]string{
		"{{.Year}}":      fmt.Sprintf("%04d", timestamp.Year()),
		"{{.Month}}":     fmt.Sprintf("%02d", timestamp.Month()),
		"{{.Day}}":       fmt.Sprintf("%02d", timestamp.Day()),
		"{{.Hour}}":      fmt.Sprintf("%02d", timestamp.Hour()),
		"{{.Minute}}":    fmt.Sprintf("%02d", timestamp.Minute()),
		"{{.Second}}":    fmt.Sprintf("%02d", timestamp.Second()),
		"{{.Timestamp}}": fmt.Sprintf("%d", timestamp.Unix()),
		"{{.UnixNano}}":  fmt.Sprintf("%d", timestamp.UnixNano()),
	}
	for placeholder, value := range replacements {
		key = strings.ReplaceAll(key, placeholder, value)
	}

	if s.config.Prefix != "" {
		key = s.config.Prefix + key
	}

	if c, err := GetCompressor(s.config.Compression); err == nil {
		key += c.Extension()
	}

	return key
}

// Close stops the batcher, flushing anything buffered.
func (s *S3Sink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.batcher != nil {
		return s.batcher.Stop()
	}
	return nil
}

// Name returns the sink's configured name, or "s3" by default.
func (s *S3Sink) Name() string {
	if s.config.Name != "" {
		return s.config.Name
	}
	return "s3"
}

// Metrics returns a snapshot of the sink's metrics.
func (s *S3Sink) Metrics() *SinkMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := *s.metrics
	return &m
}
