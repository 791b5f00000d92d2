package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	pkgerrors "github.com/arisofia/ocr-backend/internal/pkg/errors"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/types"
)

func newTestJobs(t *testing.T) (JobService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewJobService(logger.NewNop(), rdb), mr
}

func TestEnqueueStoresRecordAndPushesID(t *testing.T) {
	js, mr := newTestJobs(t)

	job, err := js.Enqueue(context.Background(), EnqueueRequest{
		ImageURL:     "https://example.com/scan.png",
		DocumentType: "invoice",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.JobID == "" || job.Status != types.JobStatusQueued {
		t.Fatalf("job record: got=%+v", job)
	}
	if _, err := time.Parse(time.RFC3339, job.CreatedAt); err != nil {
		t.Fatalf("created_at not RFC3339: %q", job.CreatedAt)
	}

	ids, err := mr.List("ocr_tasks")
	if err != nil {
		t.Fatalf("queue read: %v", err)
	}
	if len(ids) != 1 || ids[0] != job.JobID {
		t.Fatalf("queue contents: got=%v", ids)
	}

	stored, err := js.Get(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.DocumentType != "invoice" || stored.Status != types.JobStatusQueued {
		t.Fatalf("stored record: got=%+v", stored)
	}
}

func TestGetMissingJob(t *testing.T) {
	js, _ := newTestJobs(t)
	if _, err := js.Get(context.Background(), "nope"); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("want ErrNotFound got=%v", err)
	}
}

func TestPopTaskReturnsQueuedID(t *testing.T) {
	js, _ := newTestJobs(t)
	job, err := js.Enqueue(context.Background(), EnqueueRequest{ImagePath: "/tmp/x.png"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	id, err := js.PopTask(context.Background())
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if id != job.JobID {
		t.Fatalf("popped id: want=%s got=%s", job.JobID, id)
	}
}

func TestJobLifecycleStamps(t *testing.T) {
	js, _ := newTestJobs(t)
	job, err := js.Enqueue(context.Background(), EnqueueRequest{ImagePath: "/tmp/x.png"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := js.MarkProcessing(context.Background(), job); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	stored, _ := js.Get(context.Background(), job.JobID)
	if stored.Status != types.JobStatusProcessing || stored.UpdatedAt == "" {
		t.Fatalf("processing record: got=%+v", stored)
	}

	result, _ := json.Marshal(map[string]string{"text": "done"})
	if err := js.Complete(context.Background(), job, result); err != nil {
		t.Fatalf("complete: %v", err)
	}
	stored, _ = js.Get(context.Background(), job.JobID)
	if stored.Status != types.JobStatusCompleted || stored.CompletedAt == "" {
		t.Fatalf("completed record: got=%+v", stored)
	}
	var payload map[string]string
	if err := json.Unmarshal(stored.Result, &payload); err != nil || payload["text"] != "done" {
		t.Fatalf("result payload: got=%s err=%v", stored.Result, err)
	}

	if err := js.Fail(context.Background(), job, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	stored, _ = js.Get(context.Background(), job.JobID)
	if stored.Status != types.JobStatusFailed || stored.Error != "boom" || stored.FailedAt == "" {
		t.Fatalf("failed record: got=%+v", stored)
	}
}
