package jobs

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/knowgraph/knowgraph-backend/internal/logger"
	apperr "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
	"github.com/knowgraph/knowgraph-backend/internal/repos"
	"github.com/knowgraph/knowgraph-backend/internal/types"
)

type fakeRunner struct {
	err   error
	panic bool
	ran   []string
}

func (f *fakeRunner) Run(ctx context.Context, job *types.IngestionJob) error {
	f.ran = append(f.ran, job.ID.String())
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return f.err
	}
	// A real run transitions the job itself; mimic that.
	return nil
}

func seedProcessing(t *testing.T, jobRepo repos.IngestionJobRepo) *types.IngestionJob {
	t.Helper()
	job := &types.IngestionJob{
		ID:          uuid.New(),
		JobType:     types.JobTypeIngestDocument,
		Status:      types.JobStatusProcessing,
		ContentHash: "sha256:" + uuid.NewString(),
		Ontology:    "physics",
		JobData:     []byte(`{"resume_from_chunk":-1}`),
	}
	if _, err := jobRepo.Create(context.Background(), nil, job); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return job
}

func newPool(t *testing.T, runner Runner) (*WorkerPool, repos.IngestionJobRepo) {
	t.Helper()
	_, jobRepo := newJobService(t, &fakeFinder{})
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	pool, err := NewWorkerPool(jobRepo, runner, log)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return pool, jobRepo
}

func TestWorkerExecuteMarksFailedOnError(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("graph commit: connection refused")}
	pool, jobRepo := newPool(t, runner)
	job := seedProcessing(t, jobRepo)

	pool.execute(context.Background(), 0, job)

	got, _ := jobRepo.GetByID(context.Background(), nil, job.ID)
	if got.Status != types.JobStatusFailed {
		t.Fatalf("status: want=failed got=%s", got.Status)
	}
	if got.Error == "" || got.CompletedAt == nil {
		t.Fatalf("failure record: %+v", got)
	}
}

func TestWorkerExecuteLeavesProcessingOnParseExhaustion(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("chunk 3 extraction: %w", apperr.ErrLLMParse)}
	pool, jobRepo := newPool(t, runner)
	job := seedProcessing(t, jobRepo)

	pool.execute(context.Background(), 0, job)

	got, _ := jobRepo.GetByID(context.Background(), nil, job.ID)
	if got.Status != types.JobStatusProcessing {
		t.Fatalf("status: want=processing got=%s", got.Status)
	}
	if got.Error == "" {
		t.Fatalf("error note must be recorded")
	}
}

func TestWorkerExecuteRecoversPanic(t *testing.T) {
	runner := &fakeRunner{panic: true}
	pool, jobRepo := newPool(t, runner)
	job := seedProcessing(t, jobRepo)

	pool.execute(context.Background(), 0, job)

	got, _ := jobRepo.GetByID(context.Background(), nil, job.ID)
	if got.Status != types.JobStatusFailed {
		t.Fatalf("status after panic: want=failed got=%s", got.Status)
	}
	if !strings.Contains(got.Error, "panic") {
		t.Fatalf("panic text lost: %q", got.Error)
	}
}

func TestWorkerClaimOrder(t *testing.T) {
	runner := &fakeRunner{}
	pool, jobRepo := newPool(t, runner)

	var ids []string
	for i := 0; i < 3; i++ {
		job := &types.IngestionJob{
			ID:          uuid.New(),
			JobType:     types.JobTypeIngestDocument,
			Status:      types.JobStatusApproved,
			ContentHash: "sha256:" + uuid.NewString(),
			Ontology:    "physics",
			JobData:     []byte(`{"resume_from_chunk":-1}`),
		}
		if _, err := jobRepo.Create(context.Background(), nil, job); err != nil {
			t.Fatalf("seed: %v", err)
		}
		ids = append(ids, job.ID.String())
	}

	for {
		job, err := pool.jobs.ClaimNextApproved(context.Background(), nil)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if job == nil {
			break
		}
		pool.execute(context.Background(), 0, job)
	}

	if len(runner.ran) != 3 {
		t.Fatalf("ran: want=3 got=%d", len(runner.ran))
	}
	for i, id := range ids {
		if runner.ran[i] != id {
			t.Fatalf("FIFO order broken at %d: want=%s got=%s", i, id, runner.ran[i])
		}
	}
}
