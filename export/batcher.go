package export

import (
	"context"
	"sync"
	"time"
)

// BatcherConfig configures the batching behavior.
type BatcherConfig struct {
	MaxBatchSize  int
	MaxBatchBytes int
	FlushInterval time.Duration
}

// Batcher accumulates records and flushes them in batches, shared by every
// sink that benefits from amortizing a network round trip over several
// records (Kafka, Elasticsearch's bulk API, S3 object writes).
type Batcher struct {
	config  BatcherConfig
	records []SinkRecord
	size    int
	mu      sync.Mutex
	flushFn func(ctx context.Context, records []SinkRecord) error
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBatcher creates a new batcher that calls flushFn whenever the batch
// fills, BatcherConfig.FlushInterval elapses, or Stop is called.
func NewBatcher(config BatcherConfig, flushFn func(ctx context.Context, records []SinkRecord) error) *Batcher {
	b := &Batcher{
		config:  config,
		records: make([]SinkRecord, 0, config.MaxBatchSize),
		flushFn: flushFn,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	go b.flushLoop()

	return b
}

// Add adds a record to the batch, flushing immediately if it is now full.
func (b *Batcher) Add(ctx context.Context, record SinkRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = append(b.records, record)
	b.size += len(record.Raw)

	if len(b.records) >= b.config.MaxBatchSize || b.size >= b.config.MaxBatchBytes {
		return b.flushLocked(ctx)
	}

	return nil
}

// Flush forces a flush of the current batch.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

func (b *Batcher) flushLocked(ctx context.Context) error {
	if len(b.records) == 0 {
		return nil
	}

	toFlush := make([]SinkRecord, len(b.records))
	copy(toFlush, b.records)

	b.records = b.records[:0]
	b.size = 0

	b.mu.Unlock()
	err := b.flushFn(ctx, toFlush)
	b.mu.Lock()

	return err
}

func (b *Batcher) flushLoop() {
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()
	defer close(b.doneCh)

	for {
		select {
		case <-ticker.C:
			b.Flush(context.Background())
		case <-b.stopCh:
			b.Flush(context.Background())
			return
		}
	}
}

// Stop stops the batcher's background flush loop and flushes any
// remaining records.
func (b *Batcher) Stop() error {
	close(b.stopCh)
	<-b.doneCh
	return nil
}

// Size returns the current number of buffered records.
func (b *Batcher) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
