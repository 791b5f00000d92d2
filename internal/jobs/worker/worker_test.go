package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/services"
	"github.com/arisofia/ocr-backend/internal/types"
)

type fakeEngine struct {
	result *types.EngineResult
	err    error
	inputs [][]byte
}

func (f *fakeEngine) Process(ctx context.Context, data []byte, useReconstruction bool) (*types.EngineResult, error) {
	f.inputs = append(f.inputs, data)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeEngine) ProcessAdvanced(ctx context.Context, data []byte, docType string) (*types.EngineResult, error) {
	return f.Process(ctx, data, false)
}

func newTestWorker(t *testing.T, engine *fakeEngine) (*Worker, services.JobService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	jobs := services.NewJobService(logger.NewNop(), rdb)
	w := New(logger.NewNop(), jobs, engine, false)
	w.sleep = func(time.Duration) {}
	return w, jobs, mr
}

func TestHandleCompletesJobWithResult(t *testing.T) {
	engine := &fakeEngine{result: &types.EngineResult{Text: "extracted", Confidence: 0.8, Success: true}}
	w, jobs, _ := newTestWorker(t, engine)

	payload := []byte("png-bytes")
	job, err := jobs.Enqueue(context.Background(), services.EnqueueRequest{
		ImageBytes: base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w.handle(context.Background(), job.JobID)

	stored, err := jobs.Get(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != types.JobStatusCompleted || stored.CompletedAt == "" {
		t.Fatalf("job record: got=%+v", stored)
	}
	var res types.EngineResult
	if err := json.Unmarshal(stored.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Text != "extracted" || res.Confidence != 0.8 {
		t.Fatalf("result: got=%+v", res)
	}
	if len(engine.inputs) != 1 || string(engine.inputs[0]) != string(payload) {
		t.Fatalf("engine input: got=%v", engine.inputs)
	}
}

func TestHandleMissingInputCompletesTerminally(t *testing.T) {
	engine := &fakeEngine{result: &types.EngineResult{}}
	w, jobs, _ := newTestWorker(t, engine)

	job, err := jobs.Enqueue(context.Background(), services.EnqueueRequest{DocumentType: "invoice"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w.handle(context.Background(), job.JobID)

	stored, _ := jobs.Get(context.Background(), job.JobID)
	if stored.Status != types.JobStatusCompleted {
		t.Fatalf("status: want=COMPLETED got=%s", stored.Status)
	}
	var res map[string]string
	if err := json.Unmarshal(stored.Result, &res); err != nil || res["error"] != "missing_input" {
		t.Fatalf("result: got=%s err=%v", stored.Result, err)
	}
	if len(engine.inputs) != 0 {
		t.Fatalf("engine must not run without input")
	}
}

func TestHandleInvalidEncodingCompletesTerminally(t *testing.T) {
	engine := &fakeEngine{result: &types.EngineResult{}}
	w, jobs, _ := newTestWorker(t, engine)

	job, err := jobs.Enqueue(context.Background(), services.EnqueueRequest{ImageBytes: "!!!not-base64!!!"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w.handle(context.Background(), job.JobID)

	stored, _ := jobs.Get(context.Background(), job.JobID)
	if stored.Status != types.JobStatusCompleted {
		t.Fatalf("status: want=COMPLETED got=%s", stored.Status)
	}
	var res map[string]string
	if err := json.Unmarshal(stored.Result, &res); err != nil || res["error"] != "invalid_image_encoding" {
		t.Fatalf("result: got=%s err=%v", stored.Result, err)
	}
}

func TestHandleEngineErrorFailsJob(t *testing.T) {
	engine := &fakeEngine{err: errors.New("Corrupted image data")}
	w, jobs, _ := newTestWorker(t, engine)

	job, err := jobs.Enqueue(context.Background(), services.EnqueueRequest{
		ImageBytes: base64.StdEncoding.EncodeToString([]byte("junk")),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w.handle(context.Background(), job.JobID)

	stored, _ := jobs.Get(context.Background(), job.JobID)
	if stored.Status != types.JobStatusFailed || stored.FailedAt == "" {
		t.Fatalf("job record: got=%+v", stored)
	}
	if stored.Error != "Corrupted image data" {
		t.Fatalf("error message: got=%q", stored.Error)
	}
}

func TestHandleMissingRecordSkips(t *testing.T) {
	engine := &fakeEngine{result: &types.EngineResult{}}
	w, _, _ := newTestWorker(t, engine)

	// Must not panic or call the engine.
	w.handle(context.Background(), "ghost-id")
	if len(engine.inputs) != 0 {
		t.Fatalf("engine must not run for a missing record")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	engine := &fakeEngine{result: &types.EngineResult{}}
	w, _, _ := newTestWorker(t, engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop on cancel")
	}
}
