// Package config loads the YAML configuration for the grokd daemon (the
// grokctl and grokbench CLIs take flags instead): which pattern catalog source to read from, how the
// compiler should behave, where matched records get exported, and the usual
// ambient concerns (logging, metrics, health, tracing, profiling).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main daemon/CLI configuration.
type Config struct {
	Catalog     CatalogConfig      `yaml:"catalog"`
	Compiler    CompilerConfig     `yaml:"compiler"`
	Stream      *StreamConfig      `yaml:"stream,omitempty"`
	Logging     LoggingConfig      `yaml:"logging"`
	Export      ExportConfig       `yaml:"export"`
	WorkerPool  *WorkerPoolConfig  `yaml:"worker_pool,omitempty"`
	Reliability *ReliabilityConfig `yaml:"reliability,omitempty"`
	DeadLetter  *DeadLetterConfig  `yaml:"dead_letter,omitempty"`
	Metrics     *MetricsConfig     `yaml:"metrics,omitempty"`
	Health      *HealthConfig      `yaml:"health,omitempty"`
	Tracing     *TracingConfig     `yaml:"tracing,omitempty"`
	Profiling   *ProfilingConfig   `yaml:"profiling,omitempty"`
	Performance *PerformanceConfig `yaml:"performance,omitempty"`
	Security    *SecurityConfig    `yaml:"security,omitempty"`
}

// SecurityConfig controls TLS for the auxiliary metrics/health server and
// how sink credentials are resolved.
type SecurityConfig struct {
	// ServerTLS, when Enabled, serves the metrics/health endpoints over
	// HTTPS instead of plain HTTP.
	ServerTLS SecurityTLSConfig `yaml:"server_tls,omitempty"`
}

// SecurityTLSConfig mirrors internal/security.TLSConfig in yaml form.
type SecurityTLSConfig struct {
	Enabled            bool   `yaml:"enabled,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	CAFile             string `yaml:"ca_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
}

// CatalogConfig selects and configures the pattern Source the repository
// loads definitions from.
type CatalogConfig struct {
	// Source is one of "embedded", "dir", "s3", "configmap". Empty means
	// "embedded".
	Source string `yaml:"source,omitempty"`

	Dir        *DirSourceConfig        `yaml:"dir,omitempty"`
	S3         *S3SourceConfig         `yaml:"s3,omitempty"`
	Kubernetes *KubernetesSourceConfig `yaml:"kubernetes,omitempty"`

	// PersistentCachePath, if set, persists the compiled-template cache to
	// disk between runs (snappy-compressed gob).
	PersistentCachePath string `yaml:"persistent_cache_path,omitempty"`
}

// DirSourceConfig configures a filesystem-backed pattern directory with
// optional hot-reload.
type DirSourceConfig struct {
	Path           string `yaml:"path"`
	WatchForChange bool   `yaml:"watch_for_change,omitempty"`
}

// S3SourceConfig configures an S3-backed pattern bucket.
type S3SourceConfig struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Prefix       string `yaml:"prefix,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty"`
}

// KubernetesSourceConfig configures a ConfigMap-backed pattern source.
type KubernetesSourceConfig struct {
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
	Namespace  string `yaml:"namespace"`
	Name       string `yaml:"name"`
}

// CompilerConfig controls compile-time behavior of the grok compiler.
type CompilerConfig struct {
	// RenameReserved controls whether fields named like a reserved output
	// key (e.g. "timestamp") are renamed to their "log_" form (default true).
	RenameReserved *bool `yaml:"rename_reserved,omitempty"`
	// ExposeAnonymous controls whether unnamed "%{PATTERN}" references
	// surface in captures under their bare pattern name.
	ExposeAnonymous bool `yaml:"expose_anonymous,omitempty"`
	// ExtraPatternFiles are additional catalog files (beyond the bundled
	// set) to register at startup, in order.
	ExtraPatternFiles []string `yaml:"extra_pattern_files,omitempty"`
}

// StreamConfig configures the daemon's tail-and-match pipeline: which files
// to follow, which template to match lines against, and how the worker pool
// that runs matches is sized and throttled.
type StreamConfig struct {
	Paths              []string      `yaml:"paths"`
	Template           string        `yaml:"template"`
	CheckpointPath     string        `yaml:"checkpoint_path,omitempty"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval,omitempty"`
	RateLimit          float64       `yaml:"rate_limit,omitempty"`
	RateBurst          int           `yaml:"rate_burst,omitempty"`
}

// LoggingConfig defines logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// ExportConfig defines where matched captures go.
type ExportConfig struct {
	Type string `yaml:"type"` // stdout, kafka, elasticsearch, s3, multi

	Kafka         *KafkaExportConfig         `yaml:"kafka,omitempty"`
	Elasticsearch *ElasticsearchExportConfig `yaml:"elasticsearch,omitempty"`
	S3            *S3ExportConfig            `yaml:"s3,omitempty"`
	Multi         *MultiExportConfig         `yaml:"multi,omitempty"`
}

// KafkaExportConfig holds Kafka-specific sink configuration.
type KafkaExportConfig struct {
	Brokers          []string      `yaml:"brokers"`
	Topic            string        `yaml:"topic"`
	TopicField       string        `yaml:"topic_field,omitempty"`
	PartitionKey     string        `yaml:"partition_key,omitempty"`
	RequiredAcks     int16         `yaml:"required_acks,omitempty"`
	CompressionCodec string        `yaml:"compression_codec,omitempty"`
	MaxMessageBytes  int           `yaml:"max_message_bytes,omitempty"`
	BatchSize        int           `yaml:"batch_size,omitempty"`
	BatchTimeout     time.Duration `yaml:"batch_timeout,omitempty"`
	FlushInterval    time.Duration `yaml:"flush_interval,omitempty"`
	SASLEnabled      bool          `yaml:"sasl_enabled,omitempty"`
	SASLMechanism    string        `yaml:"sasl_mechanism,omitempty"`
	SASLUsername     string        `yaml:"sasl_username,omitempty"`
	SASLPassword     string        `yaml:"sasl_password,omitempty"`
	EnableTLS        bool          `yaml:"enable_tls,omitempty"`
}

// ElasticsearchExportConfig holds Elasticsearch-specific sink configuration.
type ElasticsearchExportConfig struct {
	Addresses           []string      `yaml:"addresses"`
	Index               string        `yaml:"index"`
	IndexRotation       string        `yaml:"index_rotation,omitempty"`
	IndexTimestampField string        `yaml:"index_timestamp_field,omitempty"`
	Pipeline            string        `yaml:"pipeline,omitempty"`
	Username            string        `yaml:"username,omitempty"`
	Password            string        `yaml:"password,omitempty"`
	CloudID             string        `yaml:"cloud_id,omitempty"`
	APIKey              string        `yaml:"api_key,omitempty"`
	BatchSize           int           `yaml:"batch_size,omitempty"`
	BatchTimeout        time.Duration `yaml:"batch_timeout,omitempty"`
	FlushInterval       time.Duration `yaml:"flush_interval,omitempty"`
	BulkWorkers         int           `yaml:"bulk_workers,omitempty"`
	MaxRetries          int           `yaml:"max_retries,omitempty"`
}

// S3ExportConfig holds S3-specific sink configuration.
type S3ExportConfig struct {
	Bucket               string        `yaml:"bucket"`
	Region               string        `yaml:"region"`
	Prefix               string        `yaml:"prefix,omitempty"`
	KeyTemplate          string        `yaml:"key_template,omitempty"`
	StorageClass         string        `yaml:"storage_class,omitempty"`
	ServerSideEncryption string        `yaml:"server_side_encryption,omitempty"`
	ACL                  string        `yaml:"acl,omitempty"`
	Compression          string        `yaml:"compression,omitempty"`
	BatchSize            int           `yaml:"batch_size,omitempty"`
	BatchTimeout         time.Duration `yaml:"batch_timeout,omitempty"`
	FlushInterval        time.Duration `yaml:"flush_interval,omitempty"`
	Endpoint             string        `yaml:"endpoint,omitempty"`
	UsePathStyle         bool          `yaml:"use_path_style,omitempty"`
}

// MultiExportConfig fans a record out to multiple named sinks.
type MultiExportConfig struct {
	Sinks           []SinkDefinition `yaml:"sinks"`
	FailureStrategy string           `yaml:"failure_strategy,omitempty"` // all, any, best-effort (default)
	Parallel        bool             `yaml:"parallel,omitempty"`
}

// SinkDefinition defines a single sink in multi-export mode.
type SinkDefinition struct {
	Name          string                     `yaml:"name"`
	Type          string                     `yaml:"type"`
	Kafka         *KafkaExportConfig         `yaml:"kafka,omitempty"`
	Elasticsearch *ElasticsearchExportConfig `yaml:"elasticsearch,omitempty"`
	S3            *S3ExportConfig            `yaml:"s3,omitempty"`
}

// WorkerPoolConfig holds worker pool configuration for the match pipeline.
type WorkerPoolConfig struct {
	NumWorkers int           `yaml:"num_workers"`
	QueueSize  int           `yaml:"queue_size,omitempty"`
	JobTimeout time.Duration `yaml:"job_timeout,omitempty"`
}

// ReliabilityConfig holds retry and circuit breaker configuration. It is
// parsed but not read anywhere: the S3 catalog source builds its own fixed
// retry and breaker settings, and the export sinks use neither.
type ReliabilityConfig struct {
	Retry          *RetryConfig          `yaml:"retry,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
}

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
	Multiplier     float64       `yaml:"multiplier,omitempty"`
	Jitter         bool          `yaml:"jitter,omitempty"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests,omitempty"`
	Interval         time.Duration `yaml:"interval,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`
	FailureThreshold uint32        `yaml:"failure_threshold,omitempty"`
}

// DeadLetterConfig holds dead letter queue configuration for lines that
// failed to match their template; export failures are not queued.
type DeadLetterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Dir           string        `yaml:"dir"`
	MaxSize       int64         `yaml:"max_size,omitempty"`
	MaxAge        time.Duration `yaml:"max_age,omitempty"`
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled    bool                     `yaml:"enabled"`
	Address    string                   `yaml:"address"`
	Path       string                   `yaml:"path,omitempty"`
	Extraction *MetricsExtractionConfig `yaml:"extraction,omitempty"`
}

// MetricsExtractionConfig holds configuration for deriving ad hoc metrics
// from matched captures.
type MetricsExtractionConfig struct {
	Enabled bool                   `yaml:"enabled"`
	Rules   []MetricExtractionRule `yaml:"rules,omitempty"`
}

// MetricExtractionRule defines a single metric extraction rule over a
// grok.Capture field.
type MetricExtractionRule struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"` // counter, gauge, histogram
	Field       string            `yaml:"field"`
	Pattern     string            `yaml:"pattern,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
	LabelFields map[string]string `yaml:"label_fields,omitempty"`
	Help        string            `yaml:"help"`
	Buckets     []float64         `yaml:"buckets,omitempty"`
}

// HealthConfig holds health check configuration.
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	LivenessPath  string        `yaml:"liveness_path,omitempty"`
	ReadinessPath string        `yaml:"readiness_path,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SampleRate   float64 `yaml:"sample_rate,omitempty"`
	EnableStdout bool    `yaml:"enable_stdout,omitempty"`
}

// ProfilingConfig holds profiling configuration.
type ProfilingConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Address            string `yaml:"address"`
	CPUProfilePath     string `yaml:"cpu_profile,omitempty"`
	MemProfilePath     string `yaml:"mem_profile,omitempty"`
	BlockProfile       bool   `yaml:"block_profile"`
	MutexProfile       bool   `yaml:"mutex_profile"`
	GoroutineThreshold int    `yaml:"goroutine_threshold"`
}

// PerformanceConfig holds performance tuning configuration.
type PerformanceConfig struct {
	GOMAXPROCS        int `yaml:"gomaxprocs"`
	GCPercent         int `yaml:"gc_percent"`
	ChannelBufferSize int `yaml:"channel_buffer_size"`
}

// Default values
const (
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultCatalogSource      = "embedded"
	DefaultCheckpointInterval = 5 * time.Second
)

// Load loads configuration from a YAML file with environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Catalog.Source == "" {
		c.Catalog.Source = DefaultCatalogSource
	}
	if c.Export.Type == "" {
		c.Export.Type = "stdout"
	}
	if c.Stream != nil && c.Stream.CheckpointInterval == 0 {
		c.Stream.CheckpointInterval = DefaultCheckpointInterval
	}
}

// RenamesReserved reports whether reserved-keyword field renaming is
// enabled; it defaults to true when unset.
func (c CompilerConfig) RenamesReserved() bool {
	if c.RenameReserved == nil {
		return true
	}
	return *c.RenameReserved
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validSources := map[string]bool{
		"embedded": true, "dir": true, "s3": true, "configmap": true,
	}
	if !validSources[c.Catalog.Source] {
		return fmt.Errorf("invalid catalog source: %s", c.Catalog.Source)
	}
	switch c.Catalog.Source {
	case "dir":
		if c.Catalog.Dir == nil || c.Catalog.Dir.Path == "" {
			return fmt.Errorf("catalog source %q requires catalog.dir.path", c.Catalog.Source)
		}
	case "s3":
		if c.Catalog.S3 == nil || c.Catalog.S3.Bucket == "" {
			return fmt.Errorf("catalog source %q requires catalog.s3.bucket", c.Catalog.Source)
		}
	case "configmap":
		if c.Catalog.Kubernetes == nil || c.Catalog.Kubernetes.Name == "" {
			return fmt.Errorf("catalog source %q requires catalog.kubernetes.name", c.Catalog.Source)
		}
	}

	if c.Stream != nil {
		if len(c.Stream.Paths) == 0 {
			return fmt.Errorf("stream is configured but has no paths to follow")
		}
		if c.Stream.Template == "" {
			return fmt.Errorf("stream is configured but has no template to match against")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// LoadOrDefault loads configuration from file or returns a default
// configuration.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a default configuration: embedded catalog, stdout
// export, no streaming.
func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Source: DefaultCatalogSource,
		},
		Compiler: CompilerConfig{},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Export: ExportConfig{
			Type: "stdout",
		},
	}
}
