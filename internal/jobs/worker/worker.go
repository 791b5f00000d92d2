package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"time"

	pkgerrors "github.com/arisofia/ocr-backend/internal/pkg/errors"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/services"
	"github.com/arisofia/ocr-backend/internal/types"
)

const brokerBackoff = 5 * time.Second

// Worker drains the task queue one job at a time. At-least-once: a crash
// between pop and completion loses the in-flight status update, not the
// record itself, and horizontal scaling is more instances on the same
// queue.
type Worker struct {
	log      *logger.Logger
	jobs     services.JobService
	engine   services.EngineService
	useRecon bool

	sleep func(d time.Duration)
}

func New(log *logger.Logger, jobs services.JobService, engine services.EngineService, useRecon bool) *Worker {
	return &Worker{
		log:      log.With("service", "Worker"),
		jobs:     jobs,
		engine:   engine,
		useRecon: useRecon,
		sleep:    time.Sleep,
	}
}

// Run loops until the context is canceled. Broker errors back off and
// retry; job-level failures never take the loop down.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Worker started")
	for {
		if ctx.Err() != nil {
			w.log.Info("Worker stopping")
			return nil
		}
		id, err := w.jobs.PopTask(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("Worker stopping")
				return nil
			}
			w.log.Warn("Queue pop failed, backing off", "error", err)
			w.sleep(brokerBackoff)
			continue
		}
		if id == "" {
			continue
		}
		w.handle(ctx, id)
	}
}

func (w *Worker) handle(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panicked", "job_id", id, "panic", r)
		}
	}()

	job, err := w.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			w.log.Warn("Queued job has no record, skipping", "job_id", id)
		} else {
			w.log.Warn("Job load failed, skipping", "job_id", id, "error", err)
		}
		return
	}

	if err := w.jobs.MarkProcessing(ctx, job); err != nil {
		w.log.Warn("Job status update failed", "job_id", id, "error", err)
	}

	data, inputErr := resolveInput(job)
	if inputErr != "" {
		// Terminal for the submitter: the job ran, the input was unusable.
		result, _ := json.Marshal(map[string]string{"error": inputErr})
		if err := w.jobs.Complete(ctx, job, result); err != nil {
			w.log.Warn("Job completion write failed", "job_id", id, "error", err)
		}
		return
	}

	res, err := w.engine.Process(ctx, data, w.useRecon)
	if err != nil {
		w.log.Warn("Job extraction failed", "job_id", id, "error", err)
		if ferr := w.jobs.Fail(ctx, job, err.Error()); ferr != nil {
			w.log.Warn("Job failure write failed", "job_id", id, "error", ferr)
		}
		return
	}

	result, err := json.Marshal(res)
	if err != nil {
		w.log.Error("Job result marshal failed", "job_id", id, "error", err)
		_ = w.jobs.Fail(ctx, job, "result serialization failed")
		return
	}
	if err := w.jobs.Complete(ctx, job, result); err != nil {
		w.log.Warn("Job completion write failed", "job_id", id, "error", err)
		return
	}
	w.log.Info("Job completed", "job_id", id, "confidence", res.Confidence)
}

// resolveInput prefers inline base64 bytes over a local path. The second
// return value is the terminal result error code when no usable input
// exists.
func resolveInput(job *types.JobRecord) ([]byte, string) {
	if job.ImageBytes != "" {
		data, err := base64.StdEncoding.DecodeString(job.ImageBytes)
		if err != nil {
			return nil, "invalid_image_encoding"
		}
		return data, ""
	}
	if job.ImagePath != "" {
		data, err := os.ReadFile(job.ImagePath)
		if err != nil {
			return nil, "missing_input"
		}
		return data, ""
	}
	return nil, "missing_input"
}
