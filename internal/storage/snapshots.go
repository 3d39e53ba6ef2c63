package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	apperrors "github.com/mediafetch/backend/internal/errors"
	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/logger"
)

// SnapshotPrefix is the key prefix of every diagnostic snapshot
const SnapshotPrefix = "snapshots/"

// maxSnapshotBytes caps a single stored response
const maxSnapshotBytes = 2 << 20

var ErrNotFound = errors.New("object not found")

var log = logger.WithComponent("storage")

var methodPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Uploader writes one object
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client creates an AWS SDK client for an S3-compatible endpoint
func NewS3Client(cfg *Config) *s3.Client {
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		// MinIO serves buckets by path
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		scheme := "http://"
		if cfg.UseSSL {
			scheme = "https://"
		}
		endpoint := cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = scheme + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}
	return s3.New(opts)
}

// SnapshotKey builds snapshots/<method>/<yyyy-mm-dd>/<uuid>.html
func SnapshotKey(method string, at time.Time, id uuid.UUID) string {
	if !methodPattern.MatchString(method) {
		method = "unknown"
	}
	return path.Join("snapshots", method, at.UTC().Format("2006-01-02"), id.String()+".html")
}

// ValidSnapshotKey reports whether key names a snapshot object
func ValidSnapshotKey(key string) bool {
	return path.Clean(key) == key && len(key) > len(SnapshotPrefix) && strings.HasPrefix(key, SnapshotPrefix)
}

// SnapshotSink uploads unparseable provider responses in the background. It
// implements extractor.DiagnosticSink; upload failures are only logged.
type SnapshotSink struct {
	uploader Uploader
	bucket   string
	timeout  time.Duration
	retry    *apperrors.RetryConfig
	now      func() time.Time

	sem chan struct{}
	wg  sync.WaitGroup
}

var _ extractor.DiagnosticSink = (*SnapshotSink)(nil)

// NewSnapshotSink creates a sink that runs at most concurrency uploads at once
func NewSnapshotSink(uploader Uploader, bucket string, concurrency int) *SnapshotSink {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &SnapshotSink{
		uploader: uploader,
		bucket:   bucket,
		timeout:  30 * time.Second,
		retry:    apperrors.StorageRetryConfig(),
		now:      time.Now,
		sem:      make(chan struct{}, concurrency),
	}
}

// Snapshot queues body for upload. When every upload slot is busy the
// snapshot is dropped.
func (s *SnapshotSink) Snapshot(ctx context.Context, method string, body []byte) {
	if len(body) == 0 {
		return
	}
	if len(body) > maxSnapshotBytes {
		body = body[:maxSnapshotBytes]
	}

	select {
	case s.sem <- struct{}{}:
	default:
		log.Warn(ctx, "snapshot dropped, uploads busy", map[string]any{"method": method})
		return
	}

	key := SnapshotKey(method, s.now(), uuid.New())
	data := bytes.Clone(body)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()

		upCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		if err := s.put(upCtx, key, data); err != nil {
			log.Warn(upCtx, "snapshot upload failed", map[string]any{"key": key, "error": err.Error()})
			return
		}
		log.Info(upCtx, "stored diagnostic snapshot", map[string]any{"key": key, "method": method, "bytes": len(data)})
	}()
}

// put uploads one object, retrying transient failures within ctx
func (s *SnapshotSink) put(ctx context.Context, key string, data []byte) error {
	err := apperrors.Retry(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.uploader.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(http.DetectContentType(data)),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Wait blocks until queued uploads finish or ctx is done
func (s *SnapshotSink) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
