package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/knowgraph/knowgraph-backend/internal/graph"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	"github.com/knowgraph/knowgraph-backend/internal/repos"
)

// ContentHash is the dedup key for a document's raw bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// DuplicateCheck is the result of a dedup probe. Source is "graph" when
// the document is already ingested, "jobs" when an active job holds it.
type DuplicateCheck struct {
	Duplicate  bool   `json:"duplicate"`
	Source     string `json:"source,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Version    int    `json:"version,omitempty"`
}

// DocumentFinder is the slice of the graph store dedup needs.
type DocumentFinder interface {
	FindDocumentMeta(ctx context.Context, contentHash, ontology string) (*graph.DocumentMetaRow, error)
}

type Deduper struct {
	jobs   repos.IngestionJobRepo
	finder DocumentFinder
	log    *logger.Logger
}

func NewDeduper(jobs repos.IngestionJobRepo, finder DocumentFinder, log *logger.Logger) *Deduper {
	return &Deduper{jobs: jobs, finder: finder, log: log.With("service", "Deduper")}
}

// Check probes the graph first, then active jobs. force=true at
// submission bypasses this entirely.
func (d *Deduper) Check(ctx context.Context, contentHash, ontology string) (*DuplicateCheck, error) {
	if d.finder != nil {
		meta, err := d.finder.FindDocumentMeta(ctx, contentHash, ontology)
		if err != nil {
			return nil, err
		}
		if meta != nil {
			return &DuplicateCheck{
				Duplicate:  true,
				Source:     "graph",
				DocumentID: meta.DocumentID,
				Version:    meta.Version,
			}, nil
		}
	}

	job, err := d.jobs.FindActiveByContent(ctx, nil, contentHash, ontology)
	if err != nil {
		return nil, err
	}
	if job != nil {
		return &DuplicateCheck{
			Duplicate: true,
			Source:    "jobs",
			JobID:     job.ID.String(),
		}, nil
	}
	return &DuplicateCheck{}, nil
}

// ActiveJob reports whether a live job currently holds this content.
// Check short-circuits on a graph hit, so forced re-ingests use this to
// surface the analysis warning.
func (d *Deduper) ActiveJob(ctx context.Context, contentHash, ontology string) (bool, error) {
	job, err := d.jobs.FindActiveByContent(ctx, nil, contentHash, ontology)
	if err != nil {
		return false, err
	}
	return job != nil, nil
}
