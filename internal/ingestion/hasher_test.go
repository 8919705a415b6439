package ingestion

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/knowgraph/knowgraph-backend/internal/graph"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	"github.com/knowgraph/knowgraph-backend/internal/repos"
	"github.com/knowgraph/knowgraph-backend/internal/types"
)

type fakeFinder struct {
	meta *graph.DocumentMetaRow
}

func (f *fakeFinder) FindDocumentMeta(ctx context.Context, contentHash, ontology string) (*graph.DocumentMetaRow, error) {
	return f.meta, nil
}

func newDeduper(t *testing.T, finder DocumentFinder) (*Deduper, repos.IngestionJobRepo) {
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
	return NewDeduper(jobRepo, finder, log), jobRepo
}

func TestDeduperGraphHit(t *testing.T) {
	d, _ := newDeduper(t, &fakeFinder{meta: &graph.DocumentMetaRow{
		DocumentID: "sha256:abc", Version: 2,
	}})

	res, err := d.Check(context.Background(), "sha256:abc", "physics")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Duplicate || res.Source != "graph" || res.Version != 2 {
		t.Fatalf("graph hit: %+v", res)
	}
}

func TestDeduperActiveJobHit(t *testing.T) {
	d, jobRepo := newDeduper(t, &fakeFinder{})

	job := &types.IngestionJob{
		ID:          uuid.New(),
		JobType:     types.JobTypeIngestDocument,
		Status:      types.JobStatusAwaitingApproval,
		ContentHash: "sha256:abc",
		Ontology:    "physics",
	}
	if _, err := jobRepo.Create(context.Background(), nil, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	res, err := d.Check(context.Background(), "sha256:abc", "physics")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Duplicate || res.Source != "jobs" || res.JobID != job.ID.String() {
		t.Fatalf("jobs hit: %+v", res)
	}

	// Terminal jobs do not count.
	if err := jobRepo.UpdateFields(context.Background(), nil, job.ID, map[string]interface{}{
		"status": types.JobStatusCompleted,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	res, err = d.Check(context.Background(), "sha256:abc", "physics")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("completed job must not block: %+v", res)
	}
}

func TestDeduperMiss(t *testing.T) {
	d, _ := newDeduper(t, &fakeFinder{})
	res, err := d.Check(context.Background(), "sha256:new", "physics")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("miss: %+v", res)
	}
}
