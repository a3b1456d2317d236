// Package stream tails files, matches each line against a compiled Grok
// template, and hands the result to a caller-supplied sink. It is the
// piece that turns the grok package's pure compile/match API into a
// long-running pipeline: stream.Watcher owns file reading and rotation,
// stream.WorkerPool fans matching out across goroutines, and the Watcher
// hands lines that fail to match to an internal/dlq queue when one is set.
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("stream: worker pool is closed")
	ErrJobTimeout = errors.New("stream: job execution timeout")
)

// Line is one unit of work submitted to a WorkerPool: a raw line read from
// a watched file, tagged with the source path it came from.
type Line struct {
	Source string
	Text   string
}

// LineFunc matches a single Line against a compiled template and disposes
// of the result (publish it, enqueue it to the dead letter queue, bump a
// metric). Errors returned here are job-level failures, not match
// failures — a non-matching line is not an error, it is handled entirely
// inside LineFunc.
type LineFunc func(ctx context.Context, line Line) error

// PoolConfig holds configuration for a WorkerPool.
type PoolConfig struct {
	NumWorkers int
	QueueSize  int
	JobTimeout time.Duration
}

// WorkerPool is a fixed-size pool of workers that run LineFunc against
// lines read off watched files, keeping compilation and matching off the
// reader goroutine so a slow regex never stalls file tailing.
type WorkerPool struct {
	config   PoolConfig
	fn       LineFunc
	jobQueue chan *job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	jobsProcessed uint64
	jobsFailed    uint64
	jobsTimeout   uint64
}

type job struct {
	line      Line
	resultCh  chan error
	createdAt time.Time
	timeout   time.Duration
}

// NewWorkerPool returns a WorkerPool that runs fn for every submitted Line.
func NewWorkerPool(config PoolConfig, fn LineFunc) *WorkerPool {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.JobTimeout == 0 {
		config.JobTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		config:   config,
		fn:       fn,
		jobQueue: make(chan *job, config.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start() {
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Submit enqueues line and blocks until it has been processed, the pool's
// JobTimeout elapses, or ctx is canceled.
func (p *WorkerPool) Submit(ctx context.Context, line Line) error {
	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
	}

	j := &job{
		line:      line,
		resultCh:  make(chan error, 1),
		createdAt: time.Now(),
		timeout:   p.config.JobTimeout,
	}

	select {
	case p.jobQueue <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	}

	select {
	case err := <-j.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(j.timeout):
		atomic.AddUint64(&p.jobsTimeout, 1)
		return ErrJobTimeout
	}
}

// SubmitAsync enqueues line without waiting for the result. It returns an
// error only if the pool is closed or the queue is full.
func (p *WorkerPool) SubmitAsync(line Line) error {
	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
	}

	j := &job{
		line:      line,
		resultCh:  make(chan error, 1),
		createdAt: time.Now(),
		timeout:   p.config.JobTimeout,
	}

	select {
	case p.jobQueue <- j:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
		return errors.New("stream: job queue full")
	}
}

// Stop cancels outstanding work and waits for every worker to exit.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Metrics returns a point-in-time snapshot of pool throughput.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		NumWorkers:    p.config.NumWorkers,
		JobsProcessed: atomic.LoadUint64(&p.jobsProcessed),
		JobsFailed:    atomic.LoadUint64(&p.jobsFailed),
		JobsTimeout:   atomic.LoadUint64(&p.jobsTimeout),
		QueueSize:     len(p.jobQueue),
		QueueCapacity: cap(p.jobQueue),
	}
}

func (p *WorkerPool) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case j, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.processJob(j)
		}
	}
}

func (p *WorkerPool) processJob(j *job) {
	ctx, cancel := context.WithTimeout(p.ctx, j.timeout)
	defer cancel()

	err := p.fn(ctx, j.line)

	atomic.AddUint64(&p.jobsProcessed, 1)
	if err != nil {
		atomic.AddUint64(&p.jobsFailed, 1)
	}

	select {
	case j.resultCh <- err:
	default:
	}
}

// PoolMetrics holds worker pool statistics.
type PoolMetrics struct {
	NumWorkers    int
	JobsProcessed uint64
	JobsFailed    uint64
	JobsTimeout   uint64
	QueueSize     int
	QueueCapacity int
}

// Utilization returns the queue utilization percentage (0-100).
func (m PoolMetrics) Utilization() float64 {
	if m.QueueCapacity == 0 {
		return 0
	}
	return (float64(m.QueueSize) / float64(m.QueueCapacity)) * 100.0
}
