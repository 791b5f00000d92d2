package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/arisofia/ocr-backend/internal/pkg/httpx"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/platform/ctxutil"
	"github.com/arisofia/ocr-backend/internal/types"
)

const (
	startAsyncMaxAttempts = 3
	pollMaxAttempts       = 30
	pollInterval          = 2 * time.Second

	visionOutputPrefix = "vision_output/"
	visionBatchSize    = 20
)

// VisionService drives long-running document text detection. StartAsync
// returns the operation name; callers hold it as the job id and collect the
// aggregated text later.
type VisionService interface {
	StartAsync(ctx context.Context, bucket, key string) (string, error)
	CollectResults(ctx context.Context, jobID string) (*types.AsyncOCRResult, error)
	Close() error
}

type visionService struct {
	log           *logger.Logger
	client        *vision.ImageAnnotatorClient
	storageClient *storage.Client
	outputBucket  string

	sleep func(d time.Duration)
}

func NewVisionService(log *logger.Logger, outputBucket string) (VisionService, error) {
	slog := log.With("service", "VisionService")
	if strings.TrimSpace(outputBucket) == "" {
		return nil, fmt.Errorf("async detection requires an output bucket")
	}

	ctx := context.Background()
	opts := ClientOptionsFromEnv()
	c, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	st, err := storage.NewClient(ctx, opts...)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("storage client: %w", err)
	}

	slog.Info("Async detection initialized", "output_bucket", outputBucket)

	return &visionService{
		log:           slog,
		client:        c,
		storageClient: st,
		outputBucket:  outputBucket,
		sleep:         time.Sleep,
	}, nil
}

func (s *visionService) Close() error {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.storageClient != nil {
		_ = s.storageClient.Close()
	}
	return nil
}

func (s *visionService) StartAsync(ctx context.Context, bucket, key string) (string, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	dest := fmt.Sprintf("gs://%s/%s%s/", s.outputBucket, visionOutputPrefix, uuid.NewString())
	req := &visionpb.AsyncBatchAnnotateFilesRequest{
		Requests: []*visionpb.AsyncAnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					GcsSource: &visionpb.GcsSource{Uri: fmt.Sprintf("gs://%s/%s", bucket, key)},
					MimeType:  mimeTypeForKey(key),
				},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				OutputConfig: &visionpb.OutputConfig{
					GcsDestination: &visionpb.GcsDestination{Uri: dest},
					BatchSize:      visionBatchSize,
				},
			},
		},
	}

	var lastErr error
	for attempt := 1; attempt <= startAsyncMaxAttempts; attempt++ {
		op, err := s.client.AsyncBatchAnnotateFiles(ctx, req)
		if err == nil {
			s.log.Info("Async detection started",
				"input", fmt.Sprintf("gs://%s/%s", bucket, key), "operation", op.Name())
			return op.Name(), nil
		}
		lastErr = err
		if !httpx.IsRetryableError(err) || attempt == startAsyncMaxAttempts {
			break
		}
		delay := httpx.ExpBackoff(attempt, 500*time.Millisecond, 5*time.Second)
		s.log.Warn("Async detection start failed, retrying",
			"attempt", attempt, "delay", delay, "error", err)
		s.sleep(delay)
	}
	return "", fmt.Errorf("max retry threshold reached: %w", lastErr)
}

// CollectResults polls the named operation and, once it finishes, reads
// every output shard and stitches page text together in order.
func (s *visionService) CollectResults(ctx context.Context, jobID string) (*types.AsyncOCRResult, error) {
	ctx = ctxutil.Default(ctx)

	op := s.client.AsyncBatchAnnotateFilesOperation(jobID)
	var resp *visionpb.AsyncBatchAnnotateFilesResponse
	for attempt := 0; ; attempt++ {
		r, err := op.Poll(ctx)
		if err != nil {
			s.log.Error("Async detection job failed",
				"job_id", jobID, "request_id", ctxutil.RequestID(ctx), "error", err)
			return nil, fmt.Errorf("async detection job failed")
		}
		if op.Done() {
			resp = r
			break
		}
		if attempt+1 >= pollMaxAttempts {
			return nil, fmt.Errorf("async detection job still running after %d polls", pollMaxAttempts)
		}
		s.sleep(pollInterval)
	}
	if resp == nil || len(resp.Responses) == 0 {
		return nil, fmt.Errorf("async detection job produced no output")
	}

	dest := resp.Responses[0].GetOutputConfig().GetGcsDestination().GetUri()
	bucket, prefix, err := splitGCSURI(dest)
	if err != nil {
		return nil, err
	}

	keys, err := s.listShardKeys(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("async detection job produced no output")
	}

	out := &types.AsyncOCRResult{}
	var confSum float64
	var confPages int
	var sb strings.Builder
	for _, k := range keys {
		shard, err := s.readObject(ctx, bucket, k)
		if err != nil {
			return nil, fmt.Errorf("read output shard %s: %w", k, err)
		}
		pages, err := parseShardPages(shard)
		if err != nil {
			return nil, fmt.Errorf("parse output shard %s: %w", k, err)
		}
		for _, p := range pages {
			if p.text == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(p.text)
			out.Pages++
			if p.confidence > 0 {
				confSum += p.confidence
				confPages++
			}
		}
	}
	out.Text = sb.String()
	if confPages > 0 {
		out.AvgConfidence = confSum / float64(confPages)
	}
	return out, nil
}

type shardPage struct {
	text       string
	confidence float64
}

func parseShardPages(data []byte) ([]shardPage, error) {
	var shard struct {
		Responses []struct {
			FullTextAnnotation struct {
				Text  string `json:"text"`
				Pages []struct {
					Confidence float64 `json:"confidence"`
				} `json:"pages"`
			} `json:"fullTextAnnotation"`
		} `json:"responses"`
	}
	if err := json.Unmarshal(data, &shard); err != nil {
		return nil, err
	}
	out := make([]shardPage, 0, len(shard.Responses))
	for _, r := range shard.Responses {
		p := shardPage{text: strings.TrimSpace(r.FullTextAnnotation.Text)}
		if n := len(r.FullTextAnnotation.Pages); n > 0 {
			var sum float64
			for _, pg := range r.FullTextAnnotation.Pages {
				sum += pg.Confidence
			}
			p.confidence = sum / float64(n)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *visionService) listShardKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := s.storageClient.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(strings.ToLower(attrs.Name), ".json") {
			out = append(out, attrs.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *visionService) readObject(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	rc, err := s.storageClient.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func splitGCSURI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	if trimmed == uri || trimmed == "" {
		return "", "", fmt.Errorf("invalid gcs uri: %q", uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key, nil
}
