package catalog

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/grokworks/grok/internal/reliability"
)

// S3Source reads pattern files as objects from an S3 bucket/prefix,
// so a fleet can share one operator-curated catalog centrally instead of
// baking custom patterns into every binary. GetObject calls are wrapped in
// the same retry-with-backoff and circuit-breaker policy the export sinks
// use to guard their own S3 writes, since both are a flaky remote
// dependency on the load path.
type S3Source struct {
	client   *s3.Client
	bucket   string
	prefix   string
	endpoint string

	retry   reliability.RetryConfig
	breaker *reliability.CircuitBreaker
}

// S3SourceOption configures an S3Source at construction.
type S3SourceOption func(*S3Source)

// WithS3Prefix scopes object lookups under prefix (e.g. "grok-patterns/").
func WithS3Prefix(prefix string) S3SourceOption {
	return func(s *S3Source) { s.prefix = prefix }
}

// WithS3Endpoint points the client at an S3-compatible endpoint (MinIO and
// similar) using path-style addressing; it must be passed to NewS3Source,
// not applied after the client exists.
func WithS3Endpoint(endpoint string) S3SourceOption {
	return func(s *S3Source) { s.endpoint = endpoint }
}

// NewS3Source loads the default AWS config for region and returns a
// Source backed by bucket. Call sites typically pair this with
// WithS3Prefix to keep the pattern catalog under its own key space.
func NewS3Source(ctx context.Context, bucket, region string, opts ...S3SourceOption) (*S3Source, error) {
	if bucket == "" {
		return nil, fmt.Errorf("catalog: s3 source requires a bucket")
	}

	s := &S3Source{bucket: bucket}
	for _, opt := range opts {
		opt(s)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("catalog: loading AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if s.endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = &s.endpoint
			o.UsePathStyle = true
		})
	}
	s.client = s3.NewFromConfig(cfg, clientOpts...)
	s.retry = reliability.RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
	s.breaker = reliability.NewCircuitBreaker(reliability.CircuitBreakerConfig{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
	})
	return s, nil
}

func (s *S3Source) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + name
}

// Open fetches name as an S3 object under the configured prefix, retrying
// transient failures with backoff and tripping the circuit breaker after
// repeated failures so a down bucket fails fast instead of stalling every
// compiler that needs a fresh catalog load.
func (s *S3Source) Open(name string) (io.ReadCloser, error) {
	ctx := context.Background()
	var body io.ReadCloser

	err := s.breaker.Execute(ctx, func() error {
		return reliability.Retry(ctx, s.retry, func(ctx context.Context) error {
			out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: &s.bucket,
				Key:    awsString(s.key(name)),
			})
			if err != nil {
				if isS3NotFound(err) {
					return nil // not retryable; handled after Execute returns
				}
				return err
			}
			body = out.Body
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: fetching s3://%s/%s: %w", s.bucket, s.key(name), err)
	}
	if body == nil {
		return nil, ErrNotFound
	}
	return body, nil
}

// List enumerates every object under the configured prefix.
func (s *S3Source) List() ([]string, error) {
	ctx := context.Background()
	var names []string

	var continuation *string
	for {
		var out *s3.ListObjectsV2Output
		err := s.breaker.Execute(ctx, func() error {
			return reliability.Retry(ctx, s.retry, func(ctx context.Context) error {
				var err error
				in := &s3.ListObjectsV2Input{Bucket: &s.bucket, ContinuationToken: continuation}
				if s.prefix != "" {
					in.Prefix = awsString(s.prefix)
				}
				out, err = s.client.ListObjectsV2(ctx, in)
				return err
			})
		})
		if err != nil {
			return nil, fmt.Errorf("catalog: listing s3://%s/%s: %w", s.bucket, s.prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			names = append(names, strings.TrimPrefix(*obj.Key, s.prefix))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}

	sort.Strings(names)
	return names, nil
}

func awsString(s string) *string { return &s }

// isS3NotFound reports whether err is S3's NoSuchKey, the only GetObject
// failure we translate to ErrNotFound instead of propagating as a source
// error.
func isS3NotFound(err error) bool {
	return strings.Contains(err.Error(), "NoSuchKey")
}
