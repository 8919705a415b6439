package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/knowgraph/knowgraph-backend/internal/logger"
	"github.com/knowgraph/knowgraph-backend/internal/types"
)

func TestSchedulerSweep(t *testing.T) {
	_, jobRepo := newJobService(t, &fakeFinder{})
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Setenv("APPROVAL_TIMEOUT", "1s")
	t.Setenv("COMPLETED_RETENTION", "1s")
	t.Setenv("FAILED_RETENTION", "1s")
	sched := NewScheduler(jobRepo, log)

	mk := func(status string) uuid.UUID {
		job := &types.IngestionJob{
			ID:          uuid.New(),
			JobType:     types.JobTypeIngestDocument,
			Status:      status,
			ContentHash: "sha256:" + uuid.NewString(),
			Ontology:    "physics",
		}
		if _, err := jobRepo.Create(context.Background(), nil, job); err != nil {
			t.Fatalf("seed: %v", err)
		}
		// Age the row past every retention window.
		old := time.Now().Add(-time.Minute)
		if err := jobRepo.UpdateFields(context.Background(), nil, job.ID, map[string]interface{}{
			"created_at": old,
			"updated_at": old,
		}); err != nil {
			t.Fatalf("age: %v", err)
		}
		return job.ID
	}

	awaiting := mk(types.JobStatusAwaitingApproval)
	completed := mk(types.JobStatusCompleted)
	failed := mk(types.JobStatusFailed)
	fresh := mk(types.JobStatusApproved)

	sched.sweep(context.Background())

	job, err := jobRepo.GetByID(context.Background(), nil, awaiting)
	if err != nil {
		t.Fatalf("awaiting job must survive as cancelled: %v", err)
	}
	if job.Status != types.JobStatusCancelled || job.Error != "expired" {
		t.Fatalf("expired job: status=%s error=%q", job.Status, job.Error)
	}

	if _, err := jobRepo.GetByID(context.Background(), nil, completed); err == nil {
		t.Fatalf("completed job past retention must be deleted")
	}
	if _, err := jobRepo.GetByID(context.Background(), nil, failed); err == nil {
		t.Fatalf("failed job past retention must be deleted")
	}
	if _, err := jobRepo.GetByID(context.Background(), nil, fresh); err != nil {
		t.Fatalf("approved job must be untouched: %v", err)
	}
}
