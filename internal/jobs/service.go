package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/knowgraph/knowgraph-backend/internal/chunker"
	"github.com/knowgraph/knowgraph-backend/internal/ingestion"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	apperr "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
	"github.com/knowgraph/knowgraph-backend/internal/repos"
	"github.com/knowgraph/knowgraph-backend/internal/types"
	"github.com/knowgraph/knowgraph-backend/internal/utils"
)

// ContentPutter is the slice of the content store submission needs.
type ContentPutter interface {
	Put(ctx context.Context, ontology, contentHash, ext string, data []byte) (string, error)
}

// SubmitRequest is one document offered for ingestion.
type SubmitRequest struct {
	Content        []byte
	Ontology       string
	Filename       string
	Force          bool
	AutoApprove    bool
	ProcessingMode string
	SourceType     string
	SourcePath     string
	SourceHostname string
	Chunking       types.ChunkingParams
}

// SubmitResult is either a created job or a duplicate verdict.
type SubmitResult struct {
	JobID     string                    `json:"job_id,omitempty"`
	Status    string                    `json:"status"`
	Duplicate *ingestion.DuplicateCheck `json:"duplicate,omitempty"`
	Analysis  *types.JobAnalysis        `json:"analysis,omitempty"`
}

// Service owns the job lifecycle up to the worker handoff: submission
// with dedup and analysis, the approval gate, cancellation, and crash
// recovery on boot.
type Service struct {
	jobs    repos.IngestionJobRepo
	deduper *ingestion.Deduper
	content ContentPutter
	rates   ingestion.AnalyzerRates
	log     *logger.Logger

	approvalTimeout time.Duration
	configSnapshot  map[string]any
}

func NewService(jobRepo repos.IngestionJobRepo, deduper *ingestion.Deduper, content ContentPutter, configSnapshot map[string]any, log *logger.Logger) (*Service, error) {
	if jobRepo == nil || deduper == nil || content == nil {
		return nil, fmt.Errorf("jobs: missing service dependency")
	}
	lg := log.With("service", "JobService")
	return &Service{
		jobs:            jobRepo,
		deduper:         deduper,
		content:         content,
		rates:           ingestion.RatesFromEnv(lg),
		log:             lg,
		approvalTimeout: utils.GetEnvAsDuration("APPROVAL_TIMEOUT", 24*time.Hour, lg),
		configSnapshot:  configSnapshot,
	}, nil
}

// Submit hashes, dedups, stores and analyzes one document, leaving the
// job awaiting approval (or approved when auto_approve is set).
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if len(req.Content) == 0 {
		return nil, fmt.Errorf("%w: empty content", apperr.ErrInvalidArgument)
	}
	if req.Ontology == "" {
		return nil, fmt.Errorf("%w: ontology required", apperr.ErrInvalidArgument)
	}
	if req.Filename == "" {
		req.Filename = "document.txt"
	}

	contentHash := ingestion.ContentHash(req.Content)

	dup, err := s.deduper.Check(ctx, contentHash, req.Ontology)
	if err != nil {
		return nil, err
	}
	if dup.Duplicate && !req.Force {
		s.log.Info("submission rejected as duplicate",
			"content_hash", contentHash, "ontology", req.Ontology, "source", dup.Source)
		return &SubmitResult{Status: "duplicate", Duplicate: dup}, nil
	}
	if dup.Duplicate && dup.Source == "jobs" {
		// Force cannot pre-empt a live job on the same content.
		return nil, fmt.Errorf("%w: job %s already active for this content", apperr.ErrJobConflict, dup.JobID)
	}

	key, err := s.content.Put(ctx, req.Ontology, contentHash, "txt", req.Content)
	if err != nil {
		return nil, fmt.Errorf("content store: %w", err)
	}

	params := chunker.Params{
		TargetWords:  req.Chunking.TargetWords,
		MinWords:     req.Chunking.MinWords,
		MaxWords:     req.Chunking.MaxWords,
		OverlapWords: req.Chunking.OverlapWords,
	}.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidArgument, err)
	}

	activeJob, err := s.deduper.ActiveJob(ctx, contentHash, req.Ontology)
	if err != nil {
		return nil, err
	}

	analysis := ingestion.Analyze(req.Content, params, s.rates, activeJob, s.configSnapshot)
	analysisRaw, err := json.Marshal(analysis)
	if err != nil {
		return nil, err
	}

	jd := types.JobData{
		Ontology:       req.Ontology,
		Filename:       req.Filename,
		ContentHash:    contentHash,
		StorageKey:     key,
		Force:          req.Force,
		AutoApprove:    req.AutoApprove,
		ProcessingMode: req.ProcessingMode,
		SourceType:     req.SourceType,
		SourcePath:     req.SourcePath,
		SourceHostname: req.SourceHostname,
		Chunking: types.ChunkingParams{
			TargetWords:  params.TargetWords,
			MinWords:     params.MinWords,
			MaxWords:     params.MaxWords,
			OverlapWords: params.OverlapWords,
		},
		WordCount:       analysis.FileStats.WordCount,
		ResumeFromChunk: -1,
	}
	jdRaw, err := json.Marshal(jd)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &types.IngestionJob{
		ID:          uuid.New(),
		JobType:     types.JobTypeIngestDocument,
		Status:      types.JobStatusAwaitingApproval,
		ContentHash: contentHash,
		Ontology:    req.Ontology,
		Filename:    req.Filename,
		JobData:     jdRaw,
		Analysis:    analysisRaw,
	}
	if req.AutoApprove {
		job.Status = types.JobStatusApproved
		job.ApprovedAt = &now
	} else {
		expires := now.Add(s.approvalTimeout)
		job.ExpiresAt = &expires
	}

	if _, err := s.jobs.Create(ctx, nil, job); err != nil {
		return nil, err
	}
	s.log.Info("job submitted",
		"job_id", job.ID.String(), "ontology", req.Ontology, "status", job.Status,
		"words", analysis.FileStats.WordCount, "est_chunks", analysis.FileStats.EstimatedChunks)

	return &SubmitResult{JobID: job.ID.String(), Status: job.Status, Analysis: &analysis}, nil
}

// Approve moves an awaiting job into the worker queue.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*types.IngestionJob, error) {
	now := time.Now()
	err := s.jobs.Transition(ctx, nil, id, []string{types.JobStatusAwaitingApproval}, map[string]interface{}{
		"status":      types.JobStatusApproved,
		"approved_at": &now,
		"expires_at":  nil,
		"updated_at":  now,
	})
	if err != nil {
		return nil, err
	}
	return s.jobs.GetByID(ctx, nil, id)
}

// Cancel is immediate for queued states and advisory for processing:
// the engine finishes the current chunk to its checkpoint first.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*types.IngestionJob, error) {
	job, err := s.jobs.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	switch job.Status {
	case types.JobStatusPending, types.JobStatusAwaitingApproval, types.JobStatusApproved:
		err = s.jobs.Transition(ctx, nil, id, []string{job.Status}, map[string]interface{}{
			"status":       types.JobStatusCancelled,
			"completed_at": &now,
			"updated_at":   now,
		})
	case types.JobStatusProcessing:
		err = s.jobs.UpdateFields(ctx, nil, id, map[string]interface{}{
			"cancel_requested": true,
			"updated_at":       now,
		})
	default:
		return nil, fmt.Errorf("%w: job is %s", apperr.ErrJobConflict, job.Status)
	}
	if err != nil {
		return nil, err
	}
	return s.jobs.GetByID(ctx, nil, id)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*types.IngestionJob, error) {
	return s.jobs.GetByID(ctx, nil, id)
}

func (s *Service) List(ctx context.Context, statusFilter string, limit, offset int) ([]*types.IngestionJob, error) {
	return s.jobs.List(ctx, nil, statusFilter, limit, offset)
}

// RecoverOnBoot re-derives state for jobs a previous process left in
// processing: resumable ones go back to approved, finished ones to
// completed. Durable checkpoints make this safe.
func (s *Service) RecoverOnBoot(ctx context.Context) error {
	stuck, err := s.jobs.ListByStatus(ctx, nil, types.JobStatusProcessing)
	if err != nil {
		return err
	}
	for _, job := range stuck {
		var jd types.JobData
		if err := json.Unmarshal(job.JobData, &jd); err != nil {
			s.log.Error("recovery: undecodable job data", "job_id", job.ID.String(), "error", err)
			continue
		}
		now := time.Now()
		if jd.ChunksTotal > 0 && jd.ResumeFromChunk >= jd.ChunksTotal-1 {
			err = s.jobs.Transition(ctx, nil, job.ID, []string{types.JobStatusProcessing}, map[string]interface{}{
				"status":       types.JobStatusCompleted,
				"completed_at": &now,
				"updated_at":   now,
			})
		} else {
			err = s.jobs.Transition(ctx, nil, job.ID, []string{types.JobStatusProcessing}, map[string]interface{}{
				"status":     types.JobStatusApproved,
				"updated_at": now,
			})
		}
		if err != nil {
			s.log.Error("recovery transition failed", "job_id", job.ID.String(), "error", err)
			continue
		}
		s.log.Info("job recovered", "job_id", job.ID.String(),
			"resume_from_chunk", jd.ResumeFromChunk, "chunks_total", jd.ChunksTotal)
	}
	return nil
}
