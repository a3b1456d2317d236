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

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticsearchConfig configures an ElasticsearchSink.
type ElasticsearchConfig struct {
	BaseConfig `yaml:",inline"`

	Addresses []string `yaml:"addresses"`
	Index     string   `yaml:"index"`

	// IndexRotation is one of daily, weekly, monthly, yearly, or none.
	IndexRotation string `yaml:"index_rotation,omitempty"`
	Pipeline      string `yaml:"pipeline,omitempty"`

	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	CloudID  string `yaml:"cloud_id,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`

	EnableTLS   bool `yaml:"enable_tls,omitempty"`
	BulkWorkers int  `yaml:"bulk_workers,omitempty"`
	MaxRetries  int  `yaml:"max_retries,omitempty"`
}

// DefaultElasticsearchConfig returns an ElasticsearchConfig with sensible
// defaults.
func DefaultElasticsearchConfig() ElasticsearchConfig {
	return ElasticsearchConfig{
		BaseConfig:    DefaultBaseConfig(),
		Addresses:     []string{"http://localhost:9200"},
		Index:         "grok-matches",
		IndexRotation: "daily",
		BulkWorkers:   1,
		MaxRetries:    3,
	}
}

// ElasticsearchSink publishes matched records into a rotating Elasticsearch
// index via the bulk API.
type ElasticsearchSink struct {
	config  ElasticsearchConfig
	client  *elasticsearch.Client
	batcher *Batcher
	metrics *SinkMetrics
	mu      sync.RWMutex
	closed  atomic.Bool
}

// NewElasticsearchSink creates an ElasticsearchSink, verifying connectivity
// with an Info() round trip before returning.
func NewElasticsearchSink(config ElasticsearchConfig) (*ElasticsearchSink, error) {
	if len(config.Addresses) == 0 && config.CloudID == "" {
		return nil, fmt.Errorf("export: no Elasticsearch addresses or cloud ID specified")
	}
	if config.Index == "" {
		return nil, fmt.Errorf("export: no Elasticsearch index specified")
	}

	esConfig := elasticsearch.Config{
		Addresses: config.Addresses,
		CloudID:   config.CloudID,
		Username:  config.Username,
		Password:  config.Password,
		APIKey:    config.APIKey,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, fmt.Errorf("export: creating Elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("export: connecting to Elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("export: Elasticsearch returned error: %s", res.Status())
	}

	sink := &ElasticsearchSink{
		config:  config,
		client:  client,
		metrics: &SinkMetrics{},
	}

	if config.BatchSize > 1 {
		sink.batcher = NewBatcher(BatcherConfig{
			MaxBatchSize:  config.BatchSize,
			MaxBatchBytes: 10 * 1024 * 1024,
			FlushInterval: config.FlushInterval,
		}, sink.publishBatchInternal)
	}

	return sink, nil
}

// Publish sends a single record, through the batcher if configured.
func (e *ElasticsearchSink) Publish(ctx context.Context, record SinkRecord) error {
	if e.closed.Load() {
		return fmt.Errorf("export: Elasticsearch sink is closed")
	}
	if e.batcher != nil {
		return e.batcher.Add(ctx, record)
	}
	return e.publishSingle(ctx, record)
}

// PublishBatch indexes a batch of records via the bulk API.
func (e *ElasticsearchSink) PublishBatch(ctx context.Context, records []SinkRecord) error {
	if e.closed.Load() {
		return fmt.Errorf("export: Elasticsearch sink is closed")
	}
	return e.publishBatchInternal(ctx, records)
}

func (e *ElasticsearchSink) publishSingle(ctx context.Context, record SinkRecord) error {
	index := e.indexName(record)

	doc, err := json.Marshal(record)
	if err != nil {
		atomic.AddInt64(&e.metrics.RecordsFailed, 1)
		e.metrics.LastError = err.Error()
		e.metrics.LastErrorTime = time.Now()
		return fmt.Errorf("export: marshaling record: %w", err)
	}

	start := time.Now()

	req := esapi.IndexRequest{
		Index:   index,
		Body:    bytes.NewReader(doc),
		Refresh: "false",
	}
	if e.config.Pipeline != "" {
		req.Pipeline = e.config.Pipeline
	}

	res, err := req.Do(ctx, e.client)
	if err != nil {
		atomic.AddInt64(&e.metrics.RecordsFailed, 1)
		e.metrics.LastError = err.Error()
		e.metrics.LastErrorTime = time.Now()
		return fmt.Errorf("export: indexing document: %w", err)
	}
	defer res.Body.Close()

	latency := time.Since(start)

	if res.IsError() {
		atomic.AddInt64(&e.metrics.RecordsFailed, 1)
		e.metrics.LastError = res.Status()
		e.metrics.LastErrorTime = time.Now()
		return fmt.Errorf("export: Elasticsearch returned error: %s", res.Status())
	}

	atomic.AddInt64(&e.metrics.RecordsSent, 1)
	atomic.AddInt64(&e.metrics.BytesSent, int64(len(doc)))
	e.metrics.LastSendTime = time.Now()

	e.mu.Lock()
	e.metrics.AvgLatency = (e.metrics.AvgLatency + latency) / 2
	e.mu.Unlock()

	return nil
}

func (e *ElasticsearchSink) publishBatchInternal(ctx context.Context, records []SinkRecord) error {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()

	var buf bytes.Buffer
	var totalBytes int64

	for _, record := range records {
		index := e.indexName(record)

		meta := map[string]interface{}{
			"index": map[string]interface{}{
				"_index": index,
			},
		}
		if e.config.Pipeline != "" {
			meta["index"].(map[string]interface{})["pipeline"] = e.config.Pipeline
		}

		metaJSON, err := json.Marshal(meta)
		if err != nil {
			atomic.AddInt64(&e.metrics.RecordsFailed, 1)
			continue
		}

		docJSON, err := json.Marshal(record)
		if err != nil {
			atomic.AddInt64(&e.metrics.RecordsFailed, 1)
			continue
		}

		buf.Write(metaJSON)
		buf.WriteByte('\n')
		buf.Write(docJSON)
		buf.WriteByte('\n')

		totalBytes += int64(len(docJSON))
	}

	res, err := e.client.Bulk(bytes.NewReader(buf.Bytes()), e.client.Bulk.WithContext(ctx))
	if err != nil {
		atomic.AddInt64(&e.metrics.RecordsFailed, int64(len(records)))
		e.metrics.LastError = err.Error()
		e.metrics.LastErrorTime = time.Now()
		return fmt.Errorf("export: bulk request failed: %w", err)
	}
	defer res.Body.Close()

	latency := time.Since(start)

	if res.IsError() {
		atomic.AddInt64(&e.metrics.RecordsFailed, int64(len(records)))
		e.metrics.LastError = res.Status()
		e.metrics.LastErrorTime = time.Now()
		return fmt.Errorf("export: bulk request returned error: %s", res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int    `json:"status"`
			Error  string `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		atomic.AddInt64(&e.metrics.RecordsFailed, int64(len(records)))
		e.metrics.LastError = err.Error()
		e.metrics.LastErrorTime = time.Now()
		return fmt.Errorf("export: parsing bulk response: %w", err)
	}

	var failedCount int64
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, doc := range item {
				if doc.Status >= 400 {
					failedCount++
					e.metrics.LastError = doc.Error
					e.metrics.LastErrorTime = time.Now()
				}
			}
		}
	}

	successCount := int64(len(records)) - failedCount

	atomic.AddInt64(&e.metrics.RecordsSent, successCount)
	atomic.AddInt64(&e.metrics.RecordsFailed, failedCount)
	atomic.AddInt64(&e.metrics.BytesSent, totalBytes)
	atomic.AddInt64(&e.metrics.BatchesSent, 1)
	e.metrics.LastSendTime = time.Now()

	e.mu.Lock()
	if e.metrics.BatchesSent > 0 {
		e.metrics.AvgBatchSize = float64(e.metrics.RecordsSent) / float64(e.metrics.BatchesSent)
	}
	e.metrics.AvgLatency = (e.metrics.AvgLatency + latency) / 2
	e.mu.Unlock()

	if failedCount > 0 {
		return fmt.Errorf("export: %d of %d records failed to index", failedCount, len(records))
	}
	return nil
}

// indexName returns the rotated index name for a record's timestamp.
func (e *ElasticsearchSink) indexName(record SinkRecord) string {
	index := e.config.Index

	if e.config.IndexRotation != "none" && e.config.IndexRotation != "" {
		timestamp := record.Timestamp
		if timestamp.IsZero() {
			timestamp = time.Now()
		}

		var suffix string
		switch e.config.IndexRotation {
		case "daily":
			suffix = timestamp.Format("2006.01.02")
		case "weekly":
			year, week := timestamp.ISOWeek()
			suffix = fmt.Sprintf("%d.%02d", year, week)
		case "monthly":
			suffix = timestamp.Format("2006.01")
		case "yearly":
			suffix = timestamp.Format("2006")
		default:
			suffix = timestamp.Format("2006.01.02")
		}

		if strings.Contains(index, "%{") {
			index = strings.ReplaceAll(index, "%{+YYYY.MM.dd}", timestamp.Format("2006.01.02"))
			index = strings.ReplaceAll(index, "%{+YYYY.MM}", timestamp.Format("2006.01"))
			index = strings.ReplaceAll(index, "%{+YYYY}", timestamp.Format("2006"))
		} else {
			index = fmt.Sprintf("%s-%s", index, suffix)
		}
	}

	return index
}

// Close stops the batcher, flushing anything buffered.
func (e *ElasticsearchSink) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.batcher != nil {
		return e.batcher.Stop()
	}
	return nil
}

// Name returns the sink's configured name, or "elasticsearch" by default.
func (e *ElasticsearchSink) Name() string {
	if e.config.Name != "" {
		return e.config.Name
	}
	return "elasticsearch"
}

// Metrics returns a snapshot of the sink's metrics.
func (e *ElasticsearchSink) Metrics() *SinkMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m := *e.metrics
	return &m
}
