package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/knowgraph/knowgraph-backend/internal/graph"
	"github.com/knowgraph/knowgraph-backend/internal/ingestion"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	apperr "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
	"github.com/knowgraph/knowgraph-backend/internal/repos"
	"github.com/knowgraph/knowgraph-backend/internal/types"
)

type fakeFinder struct {
	meta *graph.DocumentMetaRow
}

func (f *fakeFinder) FindDocumentMeta(ctx context.Context, contentHash, ontology string) (*graph.DocumentMetaRow, error) {
	return f.meta, nil
}

type fakePutter struct {
	keys []string
}

func (f *fakePutter) Put(ctx context.Context, ontology, contentHash, ext string, data []byte) (string, error) {
	key := fmt.Sprintf("sources/%s/%s.%s", ontology, strings.TrimPrefix(contentHash, "sha256:")[:32], ext)
	f.keys = append(f.keys, key)
	return key, nil
}

func newJobService(t *testing.T, finder *fakeFinder) (*Service, repos.IngestionJobRepo) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.IngestionJob{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	jobRepo := repos.NewIngestionJobRepo(db, log)
	deduper := ingestion.NewDeduper(jobRepo, finder, log)
	svc, err := NewService(jobRepo, deduper, &fakePutter{}, map[string]any{"model": "gpt-4o-mini"}, log)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, jobRepo
}

func submitReq(content string) SubmitRequest {
	return SubmitRequest{
		Content:  []byte(content),
		Ontology: "physics",
		Filename: "notes.txt",
	}
}

func TestSubmitCreatesAwaitingJob(t *testing.T) {
	svc, jobRepo := newJobService(t, &fakeFinder{})

	res, err := svc.Submit(context.Background(), submitReq("entropy always increases in closed systems"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != types.JobStatusAwaitingApproval || res.JobID == "" {
		t.Fatalf("result: %+v", res)
	}
	if res.Analysis == nil || res.Analysis.FileStats.WordCount != 6 {
		t.Fatalf("analysis: %+v", res.Analysis)
	}

	job, err := jobRepo.GetByID(context.Background(), nil, uuid.MustParse(res.JobID))
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.ExpiresAt == nil {
		t.Fatalf("awaiting job must carry expires_at")
	}
	var jd types.JobData
	if err := json.Unmarshal(job.JobData, &jd); err != nil {
		t.Fatalf("job data: %v", err)
	}
	if jd.ResumeFromChunk != -1 || jd.StorageKey == "" || !strings.HasPrefix(jd.ContentHash, "sha256:") {
		t.Fatalf("job data: %+v", jd)
	}
	// Defaults filled in.
	if jd.Chunking.TargetWords != 1000 || jd.Chunking.OverlapWords != 200 {
		t.Fatalf("chunking defaults: %+v", jd.Chunking)
	}
}

func TestSubmitAutoApprove(t *testing.T) {
	svc, _ := newJobService(t, &fakeFinder{})
	req := submitReq("short doc")
	req.AutoApprove = true

	res, err := svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != types.JobStatusApproved {
		t.Fatalf("status: %s", res.Status)
	}
}

func TestSubmitDuplicateAndForce(t *testing.T) {
	finder := &fakeFinder{meta: &graph.DocumentMetaRow{DocumentID: "sha256:x", Version: 1}}
	svc, _ := newJobService(t, finder)

	res, err := svc.Submit(context.Background(), submitReq("already ingested"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != "duplicate" || res.Duplicate == nil || res.Duplicate.Source != "graph" {
		t.Fatalf("duplicate verdict: %+v", res)
	}

	req := submitReq("already ingested")
	req.Force = true
	res, err = svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("force submit: %v", err)
	}
	if res.Status != types.JobStatusAwaitingApproval {
		t.Fatalf("force must bypass graph dedup: %+v", res)
	}
}

func TestSubmitForcedReingestWarnsAboutActiveJob(t *testing.T) {
	finder := &fakeFinder{meta: &graph.DocumentMetaRow{DocumentID: "sha256:x", Version: 2}}
	svc, jobRepo := newJobService(t, finder)

	content := "forced re-ingest with a live sibling job"
	jd := types.JobData{Ontology: "physics", ChunksTotal: 4}
	raw, _ := json.Marshal(jd)
	seed := &types.IngestionJob{
		ID:          uuid.New(),
		JobType:     types.JobTypeIngestDocument,
		Status:      types.JobStatusProcessing,
		ContentHash: ingestion.ContentHash([]byte(content)),
		Ontology:    "physics",
		JobData:     raw,
	}
	if _, err := jobRepo.Create(context.Background(), nil, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := submitReq(content)
	req.Force = true
	res, err := svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("force submit: %v", err)
	}
	if res.Status != types.JobStatusAwaitingApproval || res.Analysis == nil {
		t.Fatalf("result: %+v", res)
	}
	found := false
	for _, w := range res.Analysis.Warnings {
		if strings.Contains(w, "active job") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v, want an active-job warning", res.Analysis.Warnings)
	}

	// A submission with no live sibling carries no such warning.
	quiet := submitReq("unrelated quiet document")
	quiet.Force = true
	res, err = svc.Submit(context.Background(), quiet)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Analysis == nil {
		t.Fatalf("result: %+v", res)
	}
	for _, w := range res.Analysis.Warnings {
		if strings.Contains(w, "active job") {
			t.Fatalf("unexpected warning: %v", res.Analysis.Warnings)
		}
	}
}

func TestSubmitForceCannotPreemptActiveJob(t *testing.T) {
	svc, _ := newJobService(t, &fakeFinder{})

	if _, err := svc.Submit(context.Background(), submitReq("contended content")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	req := submitReq("contended content")
	req.Force = true
	_, err := svc.Submit(context.Background(), req)
	if !errors.Is(err, apperr.ErrJobConflict) {
		t.Fatalf("want ErrJobConflict, got %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := newJobService(t, &fakeFinder{})
	if _, err := svc.Submit(context.Background(), SubmitRequest{Ontology: "physics"}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("empty content: %v", err)
	}
	if _, err := svc.Submit(context.Background(), SubmitRequest{Content: []byte("x")}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("empty ontology: %v", err)
	}
}

func TestApproveAndCancelQueued(t *testing.T) {
	svc, _ := newJobService(t, &fakeFinder{})
	res, err := svc.Submit(context.Background(), submitReq("doc one"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := uuid.MustParse(res.JobID)

	job, err := svc.Approve(context.Background(), id)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if job.Status != types.JobStatusApproved || job.ApprovedAt == nil {
		t.Fatalf("approved job: %+v", job)
	}

	// Double approve conflicts.
	if _, err := svc.Approve(context.Background(), id); !errors.Is(err, apperr.ErrJobConflict) {
		t.Fatalf("double approve: %v", err)
	}

	job, err = svc.Cancel(context.Background(), id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if job.Status != types.JobStatusCancelled {
		t.Fatalf("cancelled job: %+v", job)
	}

	// Cancel on terminal conflicts.
	if _, err := svc.Cancel(context.Background(), id); !errors.Is(err, apperr.ErrJobConflict) {
		t.Fatalf("cancel terminal: %v", err)
	}
}

func TestCancelProcessingIsAdvisory(t *testing.T) {
	svc, jobRepo := newJobService(t, &fakeFinder{})
	res, err := svc.Submit(context.Background(), submitReq("doc two"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := uuid.MustParse(res.JobID)
	if err := jobRepo.UpdateFields(context.Background(), nil, id, map[string]interface{}{
		"status": types.JobStatusProcessing,
	}); err != nil {
		t.Fatalf("force processing: %v", err)
	}

	job, err := svc.Cancel(context.Background(), id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if job.Status != types.JobStatusProcessing || !job.CancelRequested {
		t.Fatalf("advisory cancel: status=%s flag=%v", job.Status, job.CancelRequested)
	}
}

func TestRecoverOnBoot(t *testing.T) {
	svc, jobRepo := newJobService(t, &fakeFinder{})

	mkProcessing := func(resume, total int) uuid.UUID {
		jd := types.JobData{Ontology: "physics", ResumeFromChunk: resume, ChunksTotal: total}
		raw, _ := json.Marshal(jd)
		job := &types.IngestionJob{
			ID:          uuid.New(),
			JobType:     types.JobTypeIngestDocument,
			Status:      types.JobStatusProcessing,
			ContentHash: "sha256:" + uuid.NewString(),
			Ontology:    "physics",
			JobData:     raw,
		}
		if _, err := jobRepo.Create(context.Background(), nil, job); err != nil {
			t.Fatalf("seed: %v", err)
		}
		return job.ID
	}

	resumable := mkProcessing(2, 10)
	finished := mkProcessing(9, 10)

	if err := svc.RecoverOnBoot(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	job, _ := jobRepo.GetByID(context.Background(), nil, resumable)
	if job.Status != types.JobStatusApproved {
		t.Fatalf("resumable: want=approved got=%s", job.Status)
	}
	job, _ = jobRepo.GetByID(context.Background(), nil, finished)
	if job.Status != types.JobStatusCompleted || job.CompletedAt == nil {
		t.Fatalf("finished: want=completed got=%s", job.Status)
	}
}
