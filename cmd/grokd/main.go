package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/grokworks/grok"
	"github.com/grokworks/grok/catalog"
	"github.com/grokworks/grok/export"
	"github.com/grokworks/grok/internal/checkpoint"
	"github.com/grokworks/grok/internal/config"
	"github.com/grokworks/grok/internal/dlq"
	"github.com/grokworks/grok/internal/health"
	"github.com/grokworks/grok/internal/logging"
	"github.com/grokworks/grok/internal/metrics"
	"github.com/grokworks/grok/internal/profiling"
	"github.com/grokworks/grok/internal/security"
	"github.com/grokworks/grok/internal/server"
	"github.com/grokworks/grok/internal/shutdown"
	"github.com/grokworks/grok/internal/tracing"
	"github.com/grokworks/grok/pkg/types"
	"github.com/grokworks/grok/stream"
)

var (
	configFile = flag.String("config", "grokd.yaml", "Path to configuration file")
	version    = "0.1.0"
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.SetGlobal(logger)
	logger.Info().Str("version", version).Msg("starting grokd")

	ctx := context.Background()

	var tracerProvider *tracing.Provider
	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		tracerProvider, err = tracing.NewProvider(ctx, tracing.Config{
			ServiceName:  "grokd",
			Endpoint:     cfg.Tracing.Endpoint,
			SampleRate:   cfg.Tracing.SampleRate,
			EnableStdout: cfg.Tracing.EnableStdout,
		})
		if err != nil {
			return fmt.Errorf("starting tracer: %w", err)
		}
	} else {
		tracerProvider, err = tracing.NewProvider(ctx, tracing.Config{ServiceName: "grokd"})
		if err != nil {
			return fmt.Errorf("starting no-op tracer: %w", err)
		}
	}

	collector := metrics.NewCollector()
	collector.Start()

	repo, err := buildRepository(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("building pattern repository: %w", err)
	}

	compilerOpts := []grok.CompilerOption{
		grok.WithReservedKeywordRenaming(cfg.Compiler.RenamesReserved()),
		grok.WithExposeAnonymousCaptures(cfg.Compiler.ExposeAnonymous),
		grok.WithLogger(logger),
		grok.WithMetrics(collector),
		grok.WithTracer(tracerProvider.Tracer()),
	}
	if cfg.Catalog.PersistentCachePath != "" {
		compilerOpts = append(compilerOpts, grok.WithPersistentCache(cfg.Catalog.PersistentCachePath))
	}
	compiler := grok.NewCompiler(compilerOpts...)
	defer compiler.Close()

	if err := compiler.RegisterDefaultPatterns(repo); err != nil {
		return fmt.Errorf("registering base patterns: %w", err)
	}
	for _, name := range cfg.Compiler.ExtraPatternFiles {
		if err := compiler.RegisterPatterns(repo, name); err != nil {
			return fmt.Errorf("registering pattern file %q: %w", name, err)
		}
	}

	sink, err := buildExportSink(cfg.Export)
	if err != nil {
		return fmt.Errorf("building export sink: %w", err)
	}

	checker := health.NewChecker(5 * time.Second)
	checker.Register("catalog", func(ctx context.Context) health.ComponentHealth {
		if _, err := repo.GetPatternStatistics(); err != nil {
			return health.ComponentHealth{Status: health.StatusUnhealthy, Message: err.Error(), LastChecked: time.Now()}
		}
		return health.ComponentHealth{Status: health.StatusHealthy, LastChecked: time.Now()}
	})
	checker.Register("export", health.AlwaysHealthy())

	shutdownMgr := shutdown.New(shutdown.Config{Logger: logger, Timeout: 30 * time.Second})

	var profiler *profiling.Profiler
	if cfg.Profiling != nil && cfg.Profiling.Enabled {
		profiler, err = profiling.New(profiling.Config{
			Enabled:            cfg.Profiling.Enabled,
			Address:            cfg.Profiling.Address,
			CPUProfilePath:     cfg.Profiling.CPUProfilePath,
			MemProfilePath:     cfg.Profiling.MemProfilePath,
			BlockProfile:       cfg.Profiling.BlockProfile,
			MutexProfile:       cfg.Profiling.MutexProfile,
			GoroutineThreshold: cfg.Profiling.GoroutineThreshold,
		}, logger)
		if err != nil {
			return fmt.Errorf("starting profiler: %w", err)
		}
		if err := profiler.Start(); err != nil {
			return fmt.Errorf("starting profiler: %w", err)
		}
		shutdownMgr.RegisterFunc("profiler", func(ctx context.Context) error { return profiler.Stop() })
	}

	var srv *server.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled || cfg.Health != nil && cfg.Health.Enabled {
		srvCfg := server.Config{Logger: logger}
		if cfg.Metrics != nil && cfg.Metrics.Enabled {
			srvCfg.MetricsAddress = cfg.Metrics.Address
			srvCfg.MetricsPath = cfg.Metrics.Path
			srvCfg.MetricsRegistry = collector.Registry()
		}
		if cfg.Health != nil && cfg.Health.Enabled {
			srvCfg.HealthAddress = cfg.Health.Address
			srvCfg.LivenessPath = cfg.Health.LivenessPath
			srvCfg.ReadinessPath = cfg.Health.ReadinessPath
			srvCfg.HealthChecker = checker
		}
		if cfg.Security != nil && cfg.Security.ServerTLS.Enabled {
			tlsCfg, err := security.LoadTLSConfig(&security.TLSConfig{
				Enabled:            cfg.Security.ServerTLS.Enabled,
				CertFile:           cfg.Security.ServerTLS.CertFile,
				KeyFile:            cfg.Security.ServerTLS.KeyFile,
				CAFile:             cfg.Security.ServerTLS.CAFile,
				InsecureSkipVerify: cfg.Security.ServerTLS.InsecureSkipVerify,
			})
			if err != nil {
				return fmt.Errorf("loading server TLS config: %w", err)
			}
			srvCfg.TLSConfig = tlsCfg
		}
		srv = server.New(srvCfg)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("starting auxiliary server: %w", err)
		}
		shutdownMgr.RegisterFunc("server", srv.Stop)
	}

	var dlqQueue *dlq.DeadLetterQueue
	if cfg.DeadLetter != nil && cfg.DeadLetter.Enabled {
		dlqQueue, err = dlq.NewDeadLetterQueue(dlq.DLQConfig{
			Dir:           cfg.DeadLetter.Dir,
			MaxSize:       cfg.DeadLetter.MaxSize,
			MaxAge:        cfg.DeadLetter.MaxAge,
			FlushInterval: cfg.DeadLetter.FlushInterval,
		})
		if err != nil {
			return fmt.Errorf("starting dead letter queue: %w", err)
		}
		shutdownMgr.RegisterFunc("dlq", func(ctx context.Context) error { return dlqQueue.Close() })
	}

	if cfg.Stream != nil {
		watcher, err := buildWatcher(cfg, compiler, sink, dlqQueue, logger)
		if err != nil {
			return fmt.Errorf("building stream watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("starting stream watcher: %w", err)
		}
		shutdownMgr.RegisterFunc("watcher", func(ctx context.Context) error {
			watcher.Stop()
			return nil
		})
	}

	shutdownMgr.RegisterFunc("export", func(ctx context.Context) error { return sink.Close() })
	shutdownMgr.RegisterFunc("tracing", tracerProvider.Shutdown)
	shutdownMgr.RegisterFunc("metrics", func(ctx context.Context) error {
		collector.Stop()
		return nil
	})

	shutdownMgr.WaitForSignal(syscall.SIGINT, syscall.SIGTERM)
	logger.Info().Msg("grokd stopped")
	return nil
}

func buildRepository(cfg config.CatalogConfig) (*catalog.Repository, error) {
	switch cfg.Source {
	case "", "embedded":
		return catalog.Default(), nil
	case "dir":
		if cfg.Dir == nil {
			return nil, fmt.Errorf("catalog.dir is required for source %q", cfg.Source)
		}
		src := catalog.NewDirSource(cfg.Dir.Path)
		repo := catalog.NewRepository(catalog.WithSource(src))
		if cfg.Dir.WatchForChange {
			if err := src.Watch(func(name string) {
				repo.ClearCache()
				logging.Global().Info().Str("file", name).Msg("pattern file changed, repository cache will refresh lazily")
			}); err != nil {
				return nil, fmt.Errorf("watching pattern directory: %w", err)
			}
		}
		return repo, nil
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("catalog.s3 is required for source %q", cfg.Source)
		}
		opts := []catalog.S3SourceOption{}
		if cfg.S3.Prefix != "" {
			opts = append(opts, catalog.WithS3Prefix(cfg.S3.Prefix))
		}
		if cfg.S3.Endpoint != "" {
			opts = append(opts, catalog.WithS3Endpoint(cfg.S3.Endpoint))
		}
		src, err := catalog.NewS3Source(context.Background(), cfg.S3.Bucket, cfg.S3.Region, opts...)
		if err != nil {
			return nil, err
		}
		return catalog.NewRepository(catalog.WithSource(src)), nil
	case "configmap":
		if cfg.Kubernetes == nil {
			return nil, fmt.Errorf("catalog.kubernetes is required for source %q", cfg.Source)
		}
		src, err := catalog.NewConfigMapSource(cfg.Kubernetes.Kubeconfig, cfg.Kubernetes.Namespace, cfg.Kubernetes.Name)
		if err != nil {
			return nil, err
		}
		return catalog.NewRepository(catalog.WithSource(src)), nil
	default:
		return nil, fmt.Errorf("unknown catalog source %q", cfg.Source)
	}
}

func buildExportSink(cfg config.ExportConfig) (export.Sink, error) {
	switch cfg.Type {
	case "", "stdout":
		return &stdoutSink{}, nil
	case "kafka":
		if cfg.Kafka == nil {
			return nil, fmt.Errorf("export.kafka is required for type %q", cfg.Type)
		}
		return export.NewKafkaSink(kafkaSinkConfig(cfg.Kafka))
	case "elasticsearch":
		if cfg.Elasticsearch == nil {
			return nil, fmt.Errorf("export.elasticsearch is required for type %q", cfg.Type)
		}
		return export.NewElasticsearchSink(esSinkConfig(cfg.Elasticsearch))
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("export.s3 is required for type %q", cfg.Type)
		}
		return export.NewS3Sink(s3SinkConfig(cfg.S3))
	case "multi":
		if cfg.Multi == nil {
			return nil, fmt.Errorf("export.multi is required for type %q", cfg.Type)
		}
		return buildRouter(cfg.Multi)
	default:
		return nil, fmt.Errorf("unknown export type %q", cfg.Type)
	}
}

func buildRouter(cfg *config.MultiExportConfig) (export.Sink, error) {
	strategy := export.FailureStrategy(cfg.FailureStrategy)
	if strategy == "" {
		strategy = export.FailureBestEffort
	}
	router, err := export.NewRouter(export.RouterConfig{FailureStrategy: strategy, Parallel: cfg.Parallel})
	if err != nil {
		return nil, err
	}
	for _, def := range cfg.Sinks {
		var sink export.Sink
		var err error
		switch def.Type {
		case "kafka":
			sink, err = export.NewKafkaSink(kafkaSinkConfig(def.Kafka))
		case "elasticsearch":
			sink, err = export.NewElasticsearchSink(esSinkConfig(def.Elasticsearch))
		case "s3":
			sink, err = export.NewS3Sink(s3SinkConfig(def.S3))
		default:
			err = fmt.Errorf("unknown sink type %q for %q", def.Type, def.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("building sink %q: %w", def.Name, err)
		}
		router.AddSink(sink)
	}
	return router, nil
}

var secrets = security.NewSecretManager()

// resolveSecret resolves env:/file: indirections in credential fields from
// configuration; a plain value passes through unchanged.
func resolveSecret(value string) string {
	if value == "" {
		return value
	}
	resolved, err := secrets.GetSecret(value)
	if err != nil {
		return value
	}
	return resolved
}

func kafkaSinkConfig(cfg *config.KafkaExportConfig) export.KafkaConfig {
	kc := export.DefaultKafkaConfig()
	kc.Brokers = cfg.Brokers
	kc.Topic = cfg.Topic
	kc.TopicField = cfg.TopicField
	kc.PartitionKey = cfg.PartitionKey
	kc.RequiredAcks = cfg.RequiredAcks
	kc.CompressionCodec = cfg.CompressionCodec
	kc.MaxMessageBytes = cfg.MaxMessageBytes
	kc.BatchSize = cfg.BatchSize
	kc.BatchTimeout = cfg.BatchTimeout
	kc.FlushInterval = cfg.FlushInterval
	kc.SASLEnabled = cfg.SASLEnabled
	kc.SASLMechanism = cfg.SASLMechanism
	kc.SASLUsername = cfg.SASLUsername
	kc.SASLPassword = resolveSecret(cfg.SASLPassword)
	kc.EnableTLS = cfg.EnableTLS
	return kc
}

func esSinkConfig(cfg *config.ElasticsearchExportConfig) export.ElasticsearchConfig {
	ec := export.DefaultElasticsearchConfig()
	ec.Addresses = cfg.Addresses
	ec.Index = cfg.Index
	ec.IndexRotation = cfg.IndexRotation
	ec.Pipeline = cfg.Pipeline
	ec.Username = cfg.Username
	ec.Password = resolveSecret(cfg.Password)
	ec.CloudID = cfg.CloudID
	ec.APIKey = resolveSecret(cfg.APIKey)
	ec.BatchSize = cfg.BatchSize
	ec.BatchTimeout = cfg.BatchTimeout
	ec.FlushInterval = cfg.FlushInterval
	ec.BulkWorkers = cfg.BulkWorkers
	ec.MaxRetries = cfg.MaxRetries
	return ec
}

func s3SinkConfig(cfg *config.S3ExportConfig) export.S3Config {
	sc := export.DefaultS3Config()
	sc.Bucket = cfg.Bucket
	sc.Region = cfg.Region
	sc.Prefix = cfg.Prefix
	sc.KeyTemplate = cfg.KeyTemplate
	sc.StorageClass = cfg.StorageClass
	sc.ServerSideEncryption = cfg.ServerSideEncryption
	sc.ACL = cfg.ACL
	sc.Compression = export.CompressionType(cfg.Compression)
	sc.BatchSize = cfg.BatchSize
	sc.BatchTimeout = cfg.BatchTimeout
	sc.FlushInterval = cfg.FlushInterval
	sc.Endpoint = cfg.Endpoint
	sc.UsePathStyle = cfg.UsePathStyle
	return sc
}

func buildWatcher(cfg *config.Config, compiler *grok.Compiler, sink export.Sink, dlqQueue *dlq.DeadLetterQueue, logger *logging.Logger) (*stream.Watcher, error) {
	g, err := compiler.Compile(cfg.Stream.Template)
	if err != nil {
		return nil, fmt.Errorf("compiling stream template: %w", err)
	}

	var ckptMgr *checkpoint.Manager
	if cfg.Stream.CheckpointPath != "" {
		ckptMgr, err = checkpoint.NewManager(cfg.Stream.CheckpointPath, cfg.Stream.CheckpointInterval)
		if err != nil {
			return nil, fmt.Errorf("creating checkpoint manager: %w", err)
		}
		if err := ckptMgr.Load(); err != nil {
			logger.Warn().Err(err).Msg("failed to load checkpoints, starting fresh")
		}
		ckptMgr.Start()
	}

	records := make(chan types.Record, 1024)
	go forwardRecords(records, sink, logger)

	poolCfg := stream.PoolConfig{}
	if cfg.WorkerPool != nil {
		poolCfg = stream.PoolConfig{
			NumWorkers: cfg.WorkerPool.NumWorkers,
			QueueSize:  cfg.WorkerPool.QueueSize,
			JobTimeout: cfg.WorkerPool.JobTimeout,
		}
	}

	return stream.New(stream.Config{
		Paths:        cfg.Stream.Paths,
		Template:     cfg.Stream.Template,
		Matcher:      g,
		RateLimit:    cfg.Stream.RateLimit,
		Checkpoint:   ckptMgr,
		DLQ:          dlqQueue,
		Pool:         poolCfg,
		Output:       records,
		Logger:       logger,
	})
}

func forwardRecords(records <-chan types.Record, sink export.Sink, logger *logging.Logger) {
	ctx := context.Background()
	for record := range records {
		if err := sink.Publish(ctx, record); err != nil {
			logger.Error().Err(err).Str("source", record.Source).Msg("failed to export matched record")
		}
	}
}

// stdoutSink prints matched records to stdout as JSON, the default
// destination when no export sink is configured.
type stdoutSink struct{}

func (s *stdoutSink) Publish(ctx context.Context, record export.SinkRecord) error {
	out, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	_, err = fmt.Println(string(out))
	return err
}

func (s *stdoutSink) PublishBatch(ctx context.Context, records []export.SinkRecord) error {
	for _, r := range records {
		if err := s.Publish(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *stdoutSink) Close() error { return nil }
func (s *stdoutSink) Name() string { return "stdout" }
func (s *stdoutSink) Metrics() *export.SinkMetrics {
	return &export.SinkMetrics{}
}
