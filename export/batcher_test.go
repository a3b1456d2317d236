package export

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBatcherFlushesOnInterval(t *testing.T) {
	var flushedCount int64
	var mu sync.Mutex
	var flushed []SinkRecord

	flushFn := func(ctx context.Context, records []SinkRecord) error {
		mu.Lock()
		defer mu.Unlock()
		atomic.AddInt64(&flushedCount, int64(len(records)))
		flushed = append(flushed, records...)
		return nil
	}

	b := NewBatcher(BatcherConfig{
		MaxBatchSize:  5,
		MaxBatchBytes: 10000,
		FlushInterval: 50 * time.Millisecond,
	}, flushFn)
	defer b.Stop()

	for i := 0; i < 12; i++ {
		if err := b.Add(context.Background(), SinkRecord{Raw: "test event"}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	time.Sleep(150 * time.Millisecond)

	count := atomic.LoadInt64(&flushedCount)
	if count != 12 {
		t.Errorf("flushed count = %d, want 12", count)
	}
}

func TestBatcherFlushesOnSize(t *testing.T) {
	var flushedBatches int64

	flushFn := func(ctx context.Context, records []SinkRecord) error {
		atomic.AddInt64(&flushedBatches, 1)
		if len(records) != 5 {
			t.Errorf("batch size = %d, want 5", len(records))
		}
		return nil
	}

	b := NewBatcher(BatcherConfig{
		MaxBatchSize:  5,
		MaxBatchBytes: 10000,
		FlushInterval: 10 * time.Second,
	}, flushFn)
	defer b.Stop()

	for i := 0; i < 5; i++ {
		if err := b.Add(context.Background(), SinkRecord{Raw: "test"}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	time.Sleep(50 * time.Millisecond)

	if got := atomic.LoadInt64(&flushedBatches); got != 1 {
		t.Errorf("flushed batches = %d, want 1", got)
	}
}

func TestBatcherStopFlushesRemainder(t *testing.T) {
	var flushedCount int64

	flushFn := func(ctx context.Context, records []SinkRecord) error {
		atomic.AddInt64(&flushedCount, int64(len(records)))
		return nil
	}

	b := NewBatcher(BatcherConfig{
		MaxBatchSize:  100,
		MaxBatchBytes: 10000,
		FlushInterval: 10 * time.Second,
	}, flushFn)

	for i := 0; i < 3; i++ {
		if err := b.Add(context.Background(), SinkRecord{Raw: "x"}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := atomic.LoadInt64(&flushedCount); got != 3 {
		t.Errorf("flushed count = %d, want 3", got)
	}
}
