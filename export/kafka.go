package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	BaseConfig `yaml:",inline"`

	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// TopicField, if set, names a capture field used to route a record to
	// a topic other than Topic.
	TopicField string `yaml:"topic_field,omitempty"`
	// PartitionKey, if set, names a capture field used as the message key.
	PartitionKey      string `yaml:"partition_key,omitempty"`
	PartitionStrategy string `yaml:"partition_strategy,omitempty"` // hash, random, round-robin, manual

	RequiredAcks     int16  `yaml:"required_acks,omitempty"`
	CompressionCodec string `yaml:"compression_codec,omitempty"` // none, gzip, snappy, lz4, zstd
	MaxMessageBytes  int    `yaml:"max_message_bytes,omitempty"`
	IdempotentWrites bool   `yaml:"idempotent_writes,omitempty"`

	EnableTLS bool `yaml:"enable_tls,omitempty"`

	SASLEnabled   bool   `yaml:"sasl_enabled,omitempty"`
	SASLMechanism string `yaml:"sasl_mechanism,omitempty"`
	SASLUsername  string `yaml:"sasl_username,omitempty"`
	SASLPassword  string `yaml:"sasl_password,omitempty"`

	ClientID string `yaml:"client_id,omitempty"`
	Version  string `yaml:"version,omitempty"`
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		BaseConfig:        DefaultBaseConfig(),
		Brokers:           []string{"localhost:9092"},
		Topic:             "grok-matches",
		PartitionStrategy: "hash",
		RequiredAcks:      1,
		CompressionCodec:  "none",
		MaxMessageBytes:   1000000,
		ClientID:          "grokd",
		Version:           "3.0.0",
	}
}

// KafkaSink publishes matched records to a Kafka topic.
type KafkaSink struct {
	config   KafkaConfig
	producer sarama.SyncProducer
	batcher  *Batcher
	metrics  *SinkMetrics
	mu       sync.RWMutex
	closed   atomic.Bool
}

// NewKafkaSink creates a KafkaSink and connects its producer.
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("export: no Kafka brokers specified")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("export: no Kafka topic specified")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(config.RequiredAcks)
	saramaConfig.Producer.Idempotent = config.IdempotentWrites
	saramaConfig.ClientID = config.ClientID

	switch config.CompressionCodec {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	switch config.PartitionStrategy {
	case "random":
		saramaConfig.Producer.Partitioner = sarama.NewRandomPartitioner
	case "round-robin":
		saramaConfig.Producer.Partitioner = sarama.NewRoundRobinPartitioner
	case "manual":
		saramaConfig.Producer.Partitioner = sarama.NewManualPartitioner
	default:
		saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	}

	if config.MaxMessageBytes > 0 {
		saramaConfig.Producer.MaxMessageBytes = config.MaxMessageBytes
	}

	if config.Version != "" {
		version, err := sarama.ParseKafkaVersion(config.Version)
		if err != nil {
			return nil, fmt.Errorf("export: invalid Kafka version: %w", err)
		}
		saramaConfig.Version = version
	}

	if config.SASLEnabled {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = config.SASLUsername
		saramaConfig.Net.SASL.Password = config.SASLPassword

		switch config.SASLMechanism {
		case "SCRAM-SHA-256":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	if config.EnableTLS {
		saramaConfig.Net.TLS.Enable = true
	}

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("export: creating Kafka producer: %w", err)
	}

	sink := &KafkaSink{
		config:   config,
		producer: producer,
		metrics:  &SinkMetrics{},
	}

	if config.BatchSize > 1 {
		sink.batcher = NewBatcher(BatcherConfig{
			MaxBatchSize:  config.BatchSize,
			MaxBatchBytes: config.MaxMessageBytes * config.BatchSize,
			FlushInterval: config.FlushInterval,
		}, sink.publishBatchInternal)
	}

	return sink, nil
}

// Publish sends a single record to Kafka, through the batcher if configured.
func (k *KafkaSink) Publish(ctx context.Context, record SinkRecord) error {
	if k.closed.Load() {
		return fmt.Errorf("export: Kafka sink is closed")
	}
	if k.batcher != nil {
		return k.batcher.Add(ctx, record)
	}
	return k.publishSingle(record)
}

// PublishBatch sends a batch of records to Kafka.
func (k *KafkaSink) PublishBatch(ctx context.Context, records []SinkRecord) error {
	if k.closed.Load() {
		return fmt.Errorf("export: Kafka sink is closed")
	}
	return k.publishBatchInternal(ctx, records)
}

func (k *KafkaSink) publishSingle(record SinkRecord) error {
	msg, err := k.buildMessage(record)
	if err != nil {
		atomic.AddInt64(&k.metrics.RecordsFailed, 1)
		k.metrics.LastError = err.Error()
		k.metrics.LastErrorTime = time.Now()
		return err
	}

	start := time.Now()
	_, _, err = k.producer.SendMessage(msg)
	latency := time.Since(start)

	if err != nil {
		atomic.AddInt64(&k.metrics.RecordsFailed, 1)
		k.metrics.LastError = err.Error()
		k.metrics.LastErrorTime = time.Now()
		return fmt.Errorf("export: sending message to Kafka: %w", err)
	}

	atomic.AddInt64(&k.metrics.RecordsSent, 1)
	atomic.AddInt64(&k.metrics.BytesSent, int64(len(record.Raw)))
	k.metrics.LastSendTime = time.Now()

	k.mu.Lock()
	k.metrics.AvgLatency = (k.metrics.AvgLatency + latency) / 2
	k.mu.Unlock()

	return nil
}

func (k *KafkaSink) publishBatchInternal(ctx context.Context, records []SinkRecord) error {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	var totalBytes int64

	messages := make([]*sarama.ProducerMessage, len(records))
	for i, record := range records {
		msg, err := k.buildMessage(record)
		if err != nil {
			atomic.AddInt64(&k.metrics.RecordsFailed, 1)
			continue
		}
		messages[i] = msg
		totalBytes += int64(len(record.Raw))
	}

	var failedCount int64
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if _, _, err := k.producer.SendMessage(msg); err != nil {
			failedCount++
			k.metrics.LastError = err.Error()
			k.metrics.LastErrorTime = time.Now()
		}
	}

	latency := time.Since(start)
	successCount := int64(len(records)) - failedCount

	atomic.AddInt64(&k.metrics.RecordsSent, successCount)
	atomic.AddInt64(&k.metrics.RecordsFailed, failedCount)
	atomic.AddInt64(&k.metrics.BytesSent, totalBytes)
	atomic.AddInt64(&k.metrics.BatchesSent, 1)
	k.metrics.LastSendTime = time.Now()

	k.mu.Lock()
	if k.metrics.BatchesSent > 0 {
		k.metrics.AvgBatchSize = float64(k.metrics.RecordsSent) / float64(k.metrics.BatchesSent)
	}
	k.metrics.AvgLatency = (k.metrics.AvgLatency + latency) / 2
	k.mu.Unlock()

	if failedCount > 0 {
		return fmt.Errorf("export: %d of %d records failed to send to Kafka", failedCount, len(records))
	}
	return nil
}

func (k *KafkaSink) buildMessage(record SinkRecord) (*sarama.ProducerMessage, error) {
	topic := k.config.Topic
	if k.config.TopicField != "" {
		if v, ok := record.Capture.Get(k.config.TopicField); ok {
			if s, ok := v.(string); ok && s != "" {
				topic = s
			}
		}
	}

	value, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("export: marshaling record: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}

	if k.config.PartitionKey != "" {
		if v, ok := record.Capture.Get(k.config.PartitionKey); ok {
			if s, ok := v.(string); ok && s != "" {
				msg.Key = sarama.StringEncoder(s)
			}
		}
	}

	return msg, nil
}

// Close stops the batcher (flushing anything buffered) and closes the
// underlying producer.
func (k *KafkaSink) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}
	if k.batcher != nil {
		if err := k.batcher.Stop(); err != nil {
			return err
		}
	}
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}

// Name returns the sink's configured name, or "kafka" by default.
func (k *KafkaSink) Name() string {
	if k.config.Name != "" {
		return k.config.Name
	}
	return "kafka"
}

// Metrics returns a snapshot of the sink's metrics.
func (k *KafkaSink) Metrics() *SinkMetrics {
	k.mu.RLock()
	defer k.mu.RUnlock()
	m := *k.metrics
	return &m
}
