package services

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/platform/ctxutil"
	"github.com/arisofia/ocr-backend/internal/platform/gcp"
	"github.com/arisofia/ocr-backend/internal/types"
)

const (
	failureCloud    = "cloud_service_failure"
	failurePipeline = "internal_pipeline_failure"
)

// EventService reacts to object-upload notifications: PDFs kick off the
// async detection job, everything else is analyzed synchronously. Each
// record's outcome lands as a JSON document next to the input.
type EventService interface {
	HandleBatch(ctx context.Context, event *types.StorageEvent) *types.BatchResult
}

type eventService struct {
	log          *logger.Logger
	document     gcp.DocumentService
	vision       gcp.VisionService
	bucket       gcp.BucketService
	outputPrefix string
}

func NewEventService(log *logger.Logger, document gcp.DocumentService, vision gcp.VisionService, bucket gcp.BucketService, outputPrefix string) EventService {
	return &eventService{
		log:          log.With("service", "EventService"),
		document:     document,
		vision:       vision,
		bucket:       bucket,
		outputPrefix: outputPrefix,
	}
}

func (es *eventService) HandleBatch(ctx context.Context, event *types.StorageEvent) *types.BatchResult {
	ctx = ctxutil.EnsureRequestID(ctx)
	requestID := ctxutil.RequestID(ctx)

	failed := 0
	for _, rec := range event.Records {
		bucket := rec.S3.Bucket.Name
		key := unescapeKey(rec.S3.Object.Key)
		if bucket == "" || key == "" {
			es.log.Warn("Notification record missing object reference", "request_id", requestID)
			continue
		}

		outKey := strings.TrimSuffix(es.outputPrefix, "/") + "/" + path.Base(key) + ".json"
		if err := es.processRecord(ctx, bucket, key, outKey); err != nil {
			failed++
			es.log.Error("Notification record failed",
				"bucket", bucket, "key", key, "request_id", requestID, "error", err)
			errDoc := map[string]any{
				"error":     classifyFailure(err),
				"message":   err.Error(),
				"requestId": requestID,
				"input":     map[string]string{"bucket": bucket, "key": key},
			}
			if perr := es.bucket.PutJSONToBucket(ctx, bucket, outKey, errDoc); perr != nil {
				es.log.Warn("Error document write failed", "key", outKey, "error", perr)
			}
		}
	}

	if failed > 0 {
		return &types.BatchResult{Status: "partial_failure", Failed: failed}
	}
	return &types.BatchResult{Status: "ok"}
}

type cloudFailure struct{ err error }

func (e *cloudFailure) Error() string { return e.err.Error() }
func (e *cloudFailure) Unwrap() error { return e.err }

func classifyFailure(err error) string {
	if _, ok := err.(*cloudFailure); ok {
		return failureCloud
	}
	return failurePipeline
}

func (es *eventService) processRecord(ctx context.Context, bucket, key, outKey string) error {
	requestID := ctxutil.RequestID(ctx)

	if strings.HasSuffix(strings.ToLower(key), ".pdf") {
		jobID, err := es.vision.StartAsync(ctx, bucket, key)
		if err != nil {
			return &cloudFailure{err: err}
		}
		if jobID == "" {
			return &cloudFailure{err: fmt.Errorf("async detection returned no job id")}
		}
		doc := map[string]any{
			"jobId":     jobID,
			"status":    "STARTED",
			"requestId": requestID,
			"input":     map[string]string{"bucket": bucket, "key": key},
		}
		if err := es.bucket.PutJSONToBucket(ctx, bucket, outKey, doc); err != nil {
			return err
		}
		return nil
	}

	result, err := es.document.AnalyzeSync(ctx, bucket, key, nil)
	if err != nil {
		return &cloudFailure{err: err}
	}
	result.RequestID = requestID
	return es.bucket.PutJSONToBucket(ctx, bucket, outKey, result)
}

// unescapeKey undoes the notification percent-encoding, where "+" stands
// for a space.
func unescapeKey(key string) string {
	if out, err := url.QueryUnescape(key); err == nil {
		return out
	}
	return key
}
