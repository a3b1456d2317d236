package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics emitted by this module.
const namespace = "grok"

// Collector is a central place for every Prometheus metric the module
// emits: compiler cache behavior, catalog loads, export sinks, the
// streaming worker pool, and ambient system/health/circuit-breaker
// instrumentation.
type Collector struct {
	// Compiler metrics
	CompileCacheHits   prometheus.Counter
	CompileCacheMisses prometheus.Counter
	CompileDuration    prometheus.Histogram
	CompileErrors      *prometheus.CounterVec

	// Catalog / repository metrics
	CatalogLoadsTotal  *prometheus.CounterVec
	CatalogLoadErrors  *prometheus.CounterVec
	CatalogLoadSeconds *prometheus.HistogramVec
	CatalogCacheSize   prometheus.Gauge

	// Matcher metrics
	MatchAttemptsTotal *prometheus.CounterVec
	MatchSuccessTotal  *prometheus.CounterVec
	MatchDuration      *prometheus.HistogramVec

	// Persistent compile cache metrics
	PersistentCacheWriteBytes prometheus.Counter
	PersistentCacheEntries    prometheus.Gauge
	PersistentCacheLoadErrors prometheus.Counter

	// Export sink metrics
	ExportRecordsSent   *prometheus.CounterVec
	ExportRecordsFailed *prometheus.CounterVec
	ExportBytesSent     *prometheus.CounterVec
	ExportDuration      *prometheus.HistogramVec
	ExportBatchSize     *prometheus.HistogramVec

	// Streaming worker pool metrics
	WorkerPoolSize    *prometheus.GaugeVec
	WorkerPoolJobs    *prometheus.CounterVec
	WorkerJobDuration *prometheus.HistogramVec
	RateLimitWaits    *prometheus.CounterVec

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge
	SystemMemSys     prometheus.Gauge
	SystemGCPauses   prometheus.Histogram

	// Dead letter queue metrics
	DLQEventsWritten prometheus.Counter
	DLQSize          prometheus.Gauge

	// Circuit breaker metrics
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerConsecutive *prometheus.GaugeVec

	// Health metrics
	HealthStatus *prometheus.GaugeVec

	registry *prometheus.Registry
	mu       sync.RWMutex
	started  bool
}

// NewCollector creates a new metrics collector registered against its own
// Prometheus registry (never the global default registry, so multiple
// Collectors can coexist in tests).
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{registry: registry}

	c.initCompilerMetrics()
	c.initCatalogMetrics()
	c.initMatchMetrics()
	c.initPersistentCacheMetrics()
	c.initExportMetrics()
	c.initWorkerPoolMetrics()
	c.initSystemMetrics()
	c.initDLQMetrics()
	c.initCircuitBreakerMetrics()
	c.initHealthMetrics()

	return c
}

func (c *Collector) initCompilerMetrics() {
	c.CompileCacheHits = promauto.With(c.registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "compiler",
		Name:      "cache_hits_total",
		Help:      "Total number of Compile calls served from the in-memory compile cache",
	})

	c.CompileCacheMisses = promauto.With(c.registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "compiler",
		Name:      "cache_misses_total",
		Help:      "Total number of Compile calls that required full template expansion",
	})

	c.CompileDuration = promauto.With(c.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "compiler",
		Name:      "duration_seconds",
		Help:      "Time taken to compile a template on a compile-cache miss",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~300ms
	})

	c.CompileErrors = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compiler",
			Name:      "errors_total",
			Help:      "Total number of Compile failures by error kind",
		},
		[]string{"kind"},
	)
}

func (c *Collector) initCatalogMetrics() {
	c.CatalogLoadsTotal = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "loads_total",
			Help:      "Total number of pattern-file loads attempted by the repository",
		},
		[]string{"file"},
	)

	c.CatalogLoadErrors = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "load_errors_total",
			Help:      "Total number of pattern-file load failures",
		},
		[]string{"file"},
	)

	c.CatalogLoadSeconds = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "load_duration_seconds",
			Help:      "Time taken to load and parse a pattern file",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"file"},
	)

	c.CatalogCacheSize = promauto.With(c.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "cached_files_total",
		Help:      "Current number of pattern files cached by the repository",
	})
}

func (c *Collector) initMatchMetrics() {
	c.MatchAttemptsTotal = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matcher",
			Name:      "attempts_total",
			Help:      "Total number of Match/Capture calls against a compiled Grok",
		},
		[]string{"pattern"},
	)

	c.MatchSuccessTotal = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matcher",
			Name:      "success_total",
			Help:      "Total number of Match/Capture calls that matched",
		},
		[]string{"pattern"},
	)

	c.MatchDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "matcher",
			Name:      "duration_seconds",
			Help:      "Time taken to run a single match",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15),
		},
		[]string{"pattern"},
	)
}

func (c *Collector) initPersistentCacheMetrics() {
	c.PersistentCacheWriteBytes = promauto.With(c.registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "persistent_cache",
		Name:      "write_bytes_total",
		Help:      "Total compressed bytes written to the on-disk compile cache",
	})

	c.PersistentCacheEntries = promauto.With(c.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "persistent_cache",
		Name:      "entries",
		Help:      "Number of compiled templates in the on-disk cache as of the last save",
	})

	c.PersistentCacheLoadErrors = promauto.With(c.registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "persistent_cache",
		Name:      "load_errors_total",
		Help:      "Total number of records skipped while loading the on-disk compile cache",
	})
}

func (c *Collector) initExportMetrics() {
	c.ExportRecordsSent = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "records_sent_total",
			Help:      "Total number of capture records successfully sent to a sink",
		},
		[]string{"sink_name", "sink_type"},
	)

	c.ExportRecordsFailed = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "records_failed_total",
			Help:      "Total number of capture records that failed to send",
		},
		[]string{"sink_name", "sink_type", "reason"},
	)

	c.ExportBytesSent = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to a sink",
		},
		[]string{"sink_name", "sink_type"},
	)

	c.ExportDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "duration_seconds",
			Help:      "Time taken to send a batch to a sink",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"sink_name", "sink_type"},
	)

	c.ExportBatchSize = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "batch_size",
			Help:      "Number of records in each batch sent to a sink",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"sink_name", "sink_type"},
	)
}

func (c *Collector) initWorkerPoolMetrics() {
	c.WorkerPoolSize = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "workers_total",
			Help:      "Current number of workers in the streaming match pool",
		},
		[]string{"pool_name"},
	)

	c.WorkerPoolJobs = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "jobs_total",
			Help:      "Total number of lines processed by the streaming match pool",
		},
		[]string{"pool_name", "status"},
	)

	c.WorkerJobDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "job_duration_seconds",
			Help:      "Time taken to match and dispatch one line",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"pool_name"},
	)

	c.RateLimitWaits = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "rate_limit_waits_total",
			Help:      "Total number of times the streaming matcher waited on its rate limiter",
		},
		[]string{"pool_name"},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      "goroutines_total",
		Help:      "Current number of goroutines",
	})

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      "memory_allocated_bytes",
		Help:      "Bytes of allocated heap objects",
	})

	c.SystemMemSys = promauto.With(c.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      "memory_system_bytes",
		Help:      "Total bytes of memory obtained from the OS",
	})

	c.SystemGCPauses = promauto.With(c.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      "gc_pause_seconds",
		Help:      "GC pause duration",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15),
	})
}

func (c *Collector) initDLQMetrics() {
	c.DLQEventsWritten = promauto.With(c.registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dlq",
		Name:      "events_written_total",
		Help:      "Total number of non-matching lines written to the dead letter queue",
	})

	c.DLQSize = promauto.With(c.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dlq",
		Name:      "size_bytes",
		Help:      "Current size of the dead letter queue in bytes",
	})
}

func (c *Collector) initCircuitBreakerMetrics() {
	c.CircuitBreakerState = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	c.CircuitBreakerConsecutive = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "consecutive_failures",
			Help:      "Current number of consecutive failures",
		},
		[]string{"name"},
	)
}

func (c *Collector) initHealthMetrics() {
	c.HealthStatus = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health status of components (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)
}

// Start begins collecting system metrics periodically.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}
	c.started = true

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			c.mu.RLock()
			running := c.started
			c.mu.RUnlock()
			if !running {
				return
			}
			c.collectSystemMetrics()
		}
	}()
}

// Stop stops the metrics collector's background goroutine from scheduling
// further work; it does not unregister metrics.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
	c.SystemMemSys.Set(float64(m.Sys))

	if len(m.PauseNs) > 0 {
		lastPause := m.PauseNs[(m.NumGC+255)%256]
		c.SystemGCPauses.Observe(float64(lastPause) / 1e9)
	}
}

// Registry returns the Prometheus registry backing this collector, for
// wiring into an HTTP /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

var (
	globalCollector *Collector
	once            sync.Once
)

// GetGlobalCollector returns the process-wide metrics collector,
// constructing and starting it on first use.
func GetGlobalCollector() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
		globalCollector.Start()
	})
	return globalCollector
}
