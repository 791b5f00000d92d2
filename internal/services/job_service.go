package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	pkgerrors "github.com/arisofia/ocr-backend/internal/pkg/errors"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/types"
)

const (
	jobKeyPrefix = "job:"
	taskQueue    = "ocr_tasks"

	jobTTL      = 24 * time.Hour
	popTimeout  = 5 * time.Second
	redisOpWait = 5 * time.Second
)

// EnqueueRequest is the submitter-side job payload.
type EnqueueRequest struct {
	ImageURL     string `json:"image_url,omitempty"`
	ImageBytes   string `json:"image_bytes,omitempty"`
	ImagePath    string `json:"image_path,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
}

// JobService owns the durable job records and the task queue. Records live
// at job:<id>; the queue carries ids only, so a record is always readable
// before its task is popped.
type JobService interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*types.JobRecord, error)
	Get(ctx context.Context, id string) (*types.JobRecord, error)
	PopTask(ctx context.Context) (string, error)
	MarkProcessing(ctx context.Context, job *types.JobRecord) error
	Complete(ctx context.Context, job *types.JobRecord, result json.RawMessage) error
	Fail(ctx context.Context, job *types.JobRecord, message string) error
}

type jobService struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewJobService(log *logger.Logger, rdb *goredis.Client) JobService {
	return &jobService{
		log: log.With("service", "JobService"),
		rdb: rdb,
	}
}

func jobKey(id string) string { return jobKeyPrefix + id }

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func (js *jobService) save(ctx context.Context, job *types.JobRecord) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpWait)
	defer cancel()
	if err := js.rdb.Set(ctx, jobKey(job.JobID), data, jobTTL).Err(); err != nil {
		return fmt.Errorf("store job %s: %w", job.JobID, err)
	}
	return nil
}

func (js *jobService) Enqueue(ctx context.Context, req EnqueueRequest) (*types.JobRecord, error) {
	job := &types.JobRecord{
		JobID:        uuid.NewString(),
		Status:       types.JobStatusQueued,
		ImageURL:     req.ImageURL,
		ImageBytes:   req.ImageBytes,
		ImagePath:    req.ImagePath,
		DocumentType: req.DocumentType,
		CreatedAt:    now(),
		UpdatedAt:    now(),
	}
	if err := js.save(ctx, job); err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, redisOpWait)
	defer cancel()
	if err := js.rdb.RPush(pctx, taskQueue, job.JobID).Err(); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.JobID, err)
	}
	js.log.Info("Job queued", "job_id", job.JobID)
	return job, nil
}

func (js *jobService) Get(ctx context.Context, id string) (*types.JobRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpWait)
	defer cancel()
	data, err := js.rdb.Get(ctx, jobKey(id)).Bytes()
	if err == goredis.Nil {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job types.JobRecord
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// PopTask blocks up to the pop timeout. A queue-empty timeout returns
// ("", nil); broker errors propagate so the worker can back off.
func (js *jobService) PopTask(ctx context.Context) (string, error) {
	res, err := js.rdb.BLPop(ctx, popTimeout, taskQueue).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(res) != 2 {
		return "", nil
	}
	return res[1], nil
}

func (js *jobService) MarkProcessing(ctx context.Context, job *types.JobRecord) error {
	job.Status = types.JobStatusProcessing
	job.UpdatedAt = now()
	return js.save(ctx, job)
}

func (js *jobService) Complete(ctx context.Context, job *types.JobRecord, result json.RawMessage) error {
	job.Status = types.JobStatusCompleted
	job.Result = result
	job.UpdatedAt = now()
	job.CompletedAt = now()
	return js.save(ctx, job)
}

func (js *jobService) Fail(ctx context.Context, job *types.JobRecord, message string) error {
	job.Status = types.JobStatusFailed
	job.Error = message
	job.UpdatedAt = now()
	job.FailedAt = now()
	return js.save(ctx, job)
}
