package export

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// FailureStrategy controls how Router.Publish reacts when some of its
// sinks fail.
type FailureStrategy string

const (
	// FailureAll requires every sink to succeed. In parallel mode
	// Router.Publish returns an error naming every sink that failed; in
	// sequential mode it stops at the first failing sink and names only it.
	FailureAll FailureStrategy = "all"
	// FailureAny succeeds as long as at least one sink accepted the record.
	FailureAny FailureStrategy = "any"
	// FailureBestEffort never fails the call; every sink is attempted and
	// failures are only reflected in metrics.
	FailureBestEffort FailureStrategy = "best-effort"
)

// SinkDefinition names a configured sink for RouterConfig's YAML form.
type SinkDefinition struct {
	Type   string                 `yaml:"type"`
	Name   string                 `yaml:"name,omitempty"`
	Config map[string]interface{} `yaml:"config"`
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Sinks           []SinkDefinition `yaml:"sinks"`
	FailureStrategy FailureStrategy  `yaml:"failure_strategy,omitempty"`
	Parallel        bool             `yaml:"parallel,omitempty"`
}

// DefaultRouterConfig returns a RouterConfig with sensible defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		FailureStrategy: FailureBestEffort,
		Parallel:        true,
	}
}

// Router fans a record out to every registered Sink and applies a
// FailureStrategy to decide whether a partial failure fails the call.
type Router struct {
	config  RouterConfig
	sinks   []Sink
	metrics *RouterMetrics
	mu      sync.RWMutex
	closed  atomic.Bool
}

// RouterMetrics aggregates metrics across every sink the router fans out to.
type RouterMetrics struct {
	TotalRecordsSent   int64          `json:"total_records_sent"`
	TotalRecordsFailed int64          `json:"total_records_failed"`
	TotalBytesSent     int64          `json:"total_bytes_sent"`
	SinkMetrics        []*SinkMetrics `json:"sink_metrics"`
}

// NewRouter creates a Router with no sinks; call AddSink to register each
// destination before Publish is used.
func NewRouter(config RouterConfig) (*Router, error) {
	if config.FailureStrategy == "" {
		config.FailureStrategy = FailureBestEffort
	}
	return &Router{
		config:  config,
		sinks:   make([]Sink, 0, len(config.Sinks)),
		metrics: &RouterMetrics{},
	}, nil
}

// AddSink registers a sink with the router.
func (r *Router) AddSink(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
}

// Publish sends a record to every sink, applying the router's FailureStrategy.
func (r *Router) Publish(ctx context.Context, record SinkRecord) error {
	if r.closed.Load() {
		return fmt.Errorf("export: router is closed")
	}

	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()

	if len(sinks) == 0 {
		return fmt.Errorf("export: router has no sinks")
	}

	if r.config.Parallel {
		return r.publishParallel(ctx, sinks, func(s Sink) error { return s.Publish(ctx, record) }, len(record.Raw))
	}
	return r.publishSequential(ctx, sinks, func(s Sink) error { return s.Publish(ctx, record) }, len(record.Raw))
}

// PublishBatch sends a batch of records to every sink, applying the
// router's FailureStrategy.
func (r *Router) PublishBatch(ctx context.Context, records []SinkRecord) error {
	if r.closed.Load() {
		return fmt.Errorf("export: router is closed")
	}

	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()

	if len(sinks) == 0 {
		return fmt.Errorf("export: router has no sinks")
	}

	var totalBytes int
	for _, rec := range records {
		totalBytes += len(rec.Raw)
	}

	if r.config.Parallel {
		return r.publishParallel(ctx, sinks, func(s Sink) error { return s.PublishBatch(ctx, records) }, totalBytes)
	}
	return r.publishSequential(ctx, sinks, func(s Sink) error { return s.PublishBatch(ctx, records) }, totalBytes)
}

func (r *Router) publishParallel(ctx context.Context, sinks []Sink, send func(Sink) error, byteCount int) error {
	var wg sync.WaitGroup
	errs := make([]error, len(sinks))

	for i, sink := range sinks {
		wg.Add(1)
		go func(i int, s Sink) {
			defer wg.Done()
			if err := send(s); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
			}
		}(i, sink)
	}
	wg.Wait()

	return r.resolve(errs, len(sinks), byteCount)
}

func (r *Router) publishSequential(ctx context.Context, sinks []Sink, send func(Sink) error, byteCount int) error {
	errs := make([]error, len(sinks))
	for i, sink := range sinks {
		if err := send(sink); err != nil {
			errs[i] = fmt.Errorf("%s: %w", sink.Name(), err)
			if r.config.FailureStrategy == FailureAll {
				r.recordFailure(len(sinks), byteCount, errs)
				return fmt.Errorf("export: required sink %s failed: %w", sink.Name(), err)
			}
		}
	}
	return r.resolve(errs, len(sinks), byteCount)
}

func (r *Router) resolve(errs []error, total, byteCount int) error {
	r.recordFailure(total, byteCount, errs)

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}

	switch r.config.FailureStrategy {
	case FailureAll:
		if len(failed) > 0 {
			return fmt.Errorf("export: %d of %d sinks failed: %v", len(failed), total, failed)
		}
	case FailureAny:
		if len(failed) == total {
			return fmt.Errorf("export: all %d sinks failed: %v", total, failed)
		}
	case FailureBestEffort:
		// Never fails; failures already recorded in metrics.
	}
	return nil
}

func (r *Router) recordFailure(total, byteCount int, errs []error) {
	var failedCount int64
	for _, err := range errs {
		if err != nil {
			failedCount++
		}
	}
	successCount := int64(total) - failedCount

	atomic.AddInt64(&r.metrics.TotalRecordsSent, successCount)
	atomic.AddInt64(&r.metrics.TotalRecordsFailed, failedCount)
	atomic.AddInt64(&r.metrics.TotalBytesSent, int64(byteCount)*successCount)
}

// Close closes every registered sink, collecting (not stopping on) errors.
func (r *Router) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()

	var errs []error
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("export: failed to close %d sinks: %v", len(errs), errs)
	}
	return nil
}

// Name identifies the router itself as a Sink, so a Router can nest inside
// another Router.
func (r *Router) Name() string {
	return "router"
}

// Metrics aggregates Metrics() across every registered sink.
func (r *Router) Metrics() *SinkMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sent, failed, bytesSent, batches int64
	var latency time.Duration
	var batchSize float64
	var lastSend, lastErrTime time.Time
	var lastErr string

	for _, sink := range r.sinks {
		m := sink.Metrics()
		sent += m.RecordsSent
		failed += m.RecordsFailed
		bytesSent += m.BytesSent
		batches += m.BatchesSent
		latency += m.AvgLatency
		batchSize += m.AvgBatchSize

		if m.LastSendTime.After(lastSend) {
			lastSend = m.LastSendTime
		}
		if m.LastErrorTime.After(lastErrTime) {
			lastErrTime = m.LastErrorTime
			lastErr = m.LastError
		}
	}

	n := len(r.sinks)
	avgLatency := time.Duration(0)
	avgBatchSize := 0.0
	if n > 0 {
		avgLatency = latency / time.Duration(n)
		avgBatchSize = batchSize / float64(n)
	}

	return &SinkMetrics{
		RecordsSent:   sent,
		RecordsFailed: failed,
		BytesSent:     bytesSent,
		BatchesSent:   batches,
		LastSendTime:  lastSend,
		LastError:     lastErr,
		LastErrorTime: lastErrTime,
		AvgBatchSize:  avgBatchSize,
		AvgLatency:    avgLatency,
	}
}

// Sinks returns a copy of the router's registered sinks.
func (r *Router) Sinks() []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sinks := make([]Sink, len(r.sinks))
	copy(sinks, r.sinks)
	return sinks
}
