package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	pkgerrors "github.com/arisofia/ocr-backend/internal/pkg/errors"
	"github.com/arisofia/ocr-backend/internal/pkg/httpx"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
)

const (
	processedPrefix = "processed/"
	metadataPrefix  = "recon_meta/"

	putRetryBase = 100 * time.Millisecond
	putRetryCap  = 2 * time.Second

	healthCacheTTL = 60 * time.Second
)

// ErrNotConfigured is returned by write paths when no bucket name was set.
// The service stays up in that state; callers decide whether persistence is
// optional (processor enrichment) or fatal (event pipeline).
var ErrNotConfigured = fmt.Errorf("object storage not configured: %w", pkgerrors.ErrUnavailable)

// UploadTicket is a browser-direct upload grant: POST url with the given
// form fields plus the file part.
type UploadTicket struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

type BucketService interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	PutJSON(ctx context.Context, key string, value any) error
	PutJSONToBucket(ctx context.Context, bucket, key string, value any) error
	UploadBlob(ctx context.Context, filename string, data []byte, contentType string) (string, error)
	UploadMetadata(ctx context.Context, filename string, meta any) (string, error)
	IssueUploadTicket(ctx context.Context, key, contentType string, expires time.Duration) (*UploadTicket, error)
	Health(ctx context.Context) error
	Configured() bool
	Bucket() string
	Close() error
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucket        string
	maxRetries    int

	// Seams for tests; production values set by the constructor.
	write func(ctx context.Context, bucket, key string, body []byte, contentType string) error
	check func(ctx context.Context) error
	sleep func(d time.Duration)

	healthMu      sync.Mutex
	healthChecked time.Time
	healthErr     error
}

// NewBucketService builds the GCS-backed store. An empty bucket name is not
// an error: the adapter comes up in degraded mode and every write reports
// ErrNotConfigured.
func NewBucketService(log *logger.Logger, bucketName string, maxRetries int) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")
	if maxRetries < 1 {
		maxRetries = 1
	}

	bs := &bucketService{
		log:        serviceLog,
		bucket:     strings.TrimSpace(bucketName),
		maxRetries: maxRetries,
		sleep:      time.Sleep,
	}
	bs.write = bs.writeObject
	bs.check = bs.checkBucket

	if bs.bucket == "" {
		serviceLog.Warn("No bucket configured, object storage disabled")
		return bs, nil
	}

	ctx := context.Background()
	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	stClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	bs.storageClient = stClient

	serviceLog.Info("Object storage initialized", "bucket", bs.bucket, "max_retries", maxRetries)
	return bs, nil
}

func (bs *bucketService) Configured() bool { return bs.bucket != "" && bs.storageClient != nil }
func (bs *bucketService) Bucket() string   { return bs.bucket }

func (bs *bucketService) Close() error {
	if bs.storageClient != nil {
		return bs.storageClient.Close()
	}
	return nil
}

func (bs *bucketService) writeObject(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.storageClient.Bucket(bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (bs *bucketService) putToBucket(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	if !bs.Configured() {
		return ErrNotConfigured
	}
	var lastErr error
	for attempt := 1; attempt <= bs.maxRetries; attempt++ {
		lastErr = bs.write(ctx, bucket, key, body, contentType)
		if lastErr == nil {
			return nil
		}
		if !isTransientStoreErr(lastErr) {
			return lastErr
		}
		if attempt < bs.maxRetries {
			delay := httpx.ExpBackoff(attempt, putRetryBase, putRetryCap)
			bs.log.Warn("Object write failed, retrying",
				"bucket", bucket, "key", key, "attempt", attempt, "delay", delay, "error", lastErr)
			bs.sleep(delay)
		}
	}
	return fmt.Errorf("put %s/%s after %d attempts: %w", bucket, key, bs.maxRetries, lastErr)
}

func (bs *bucketService) Put(ctx context.Context, key string, body []byte, contentType string) error {
	return bs.putToBucket(ctx, bs.bucket, key, body, contentType)
}

func (bs *bucketService) PutJSON(ctx context.Context, key string, value any) error {
	return bs.PutJSONToBucket(ctx, bs.bucket, key, value)
}

func (bs *bucketService) PutJSONToBucket(ctx context.Context, bucket, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal object body: %w", err)
	}
	return bs.putToBucket(ctx, bucket, key, body, "application/json")
}

// UploadBlob stores raw document bytes under a collision-free key and
// returns that key.
func (bs *bucketService) UploadBlob(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	key := processedPrefix + uuid.NewString() + "-" + sanitizeFilename(filename)
	if err := bs.Put(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return key, nil
}

func (bs *bucketService) UploadMetadata(ctx context.Context, filename string, meta any) (string, error) {
	key := metadataPrefix + uuid.NewString() + "-" + sanitizeFilename(filename) + ".json"
	if err := bs.PutJSON(ctx, key, meta); err != nil {
		return "", err
	}
	return key, nil
}

func (bs *bucketService) IssueUploadTicket(ctx context.Context, key, contentType string, expires time.Duration) (*UploadTicket, error) {
	if !bs.Configured() {
		return nil, ErrNotConfigured
	}
	if expires <= 0 {
		expires = time.Hour
	}
	opts := &storage.PostPolicyV4Options{
		Expires: time.Now().Add(expires),
		Fields:  &storage.PolicyV4Fields{ContentType: contentType},
		Conditions: []storage.PostPolicyV4Condition{
			storage.ConditionStartsWith("$Content-Type", contentType),
		},
	}
	policy, err := bs.storageClient.Bucket(bs.bucket).GenerateSignedPostPolicyV4(key, opts)
	if err != nil {
		return nil, fmt.Errorf("generate signed post policy: %w", err)
	}
	return &UploadTicket{URL: policy.URL, Fields: policy.Fields}, nil
}

func (bs *bucketService) checkBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := bs.storageClient.Bucket(bs.bucket).Attrs(ctx)
	return err
}

// Health reports reachability of the configured bucket, cached for a
// minute so the endpoint cannot amplify load onto the store.
func (bs *bucketService) Health(ctx context.Context) error {
	if !bs.Configured() {
		return ErrNotConfigured
	}
	bs.healthMu.Lock()
	defer bs.healthMu.Unlock()
	if time.Since(bs.healthChecked) < healthCacheTTL {
		return bs.healthErr
	}
	bs.healthErr = bs.check(ctx)
	bs.healthChecked = time.Now()
	if bs.healthErr != nil {
		bs.log.Warn("Bucket health check failed", "bucket", bs.bucket, "error", bs.healthErr)
	}
	return bs.healthErr
}

func isTransientStoreErr(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return httpx.IsRetryableHTTPStatus(gerr.Code)
	}
	return httpx.IsRetryableError(err)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" {
		name = "upload"
	}
	return name
}
