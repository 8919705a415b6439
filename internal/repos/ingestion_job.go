package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pkgerrors "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	"github.com/knowgraph/knowgraph-backend/internal/types"
)

type IngestionJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.IngestionJob) (*types.IngestionJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IngestionJob, error)
	List(ctx context.Context, tx *gorm.DB, statusFilter string, limit, offset int) ([]*types.IngestionJob, error)
	ListByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.IngestionJob, error)
	FindActiveByContent(ctx context.Context, tx *gorm.DB, contentHash, ontology string) (*types.IngestionJob, error)
	ClaimNextApproved(ctx context.Context, tx *gorm.DB) (*types.IngestionJob, error)
	Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromStatuses []string, updates map[string]interface{}) error
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Checkpoint(ctx context.Context, tx *gorm.DB, id uuid.UUID, jobData []byte) error
	ExpireAwaitingApproval(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	DeleteTerminalOlderThan(ctx context.Context, tx *gorm.DB, statuses []string, cutoff time.Time) (int64, error)
}

type ingestionJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIngestionJobRepo(db *gorm.DB, baseLog *logger.Logger) IngestionJobRepo {
	return &ingestionJobRepo{
		db:  db,
		log: baseLog.With("repo", "IngestionJobRepo"),
	}
}

func (r *ingestionJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.IngestionJob) (*types.IngestionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, nil
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *ingestionJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IngestionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, pkgerrors.ErrNotFound
	}
	var job types.IngestionJob
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, pkgerrors.ErrNotFound
	}
	return &job, nil
}

func (r *ingestionJobRepo) List(ctx context.Context, tx *gorm.DB, statusFilter string, limit, offset int) ([]*types.IngestionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := transaction.WithContext(ctx).Model(&types.IngestionJob{})
	if statusFilter != "" {
		q = q.Where("status = ?", statusFilter)
	}
	var out []*types.IngestionJob
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ingestionJobRepo) ListByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.IngestionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.IngestionJob
	if err := transaction.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ingestionJobRepo) FindActiveByContent(ctx context.Context, tx *gorm.DB, contentHash, ontology string) (*types.IngestionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if contentHash == "" || ontology == "" {
		return nil, nil
	}
	var job types.IngestionJob
	err := transaction.WithContext(ctx).
		Where("content_hash = ? AND ontology = ? AND status IN ?", contentHash, ontology, types.ActiveJobStatuses).
		Order("created_at ASC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// ClaimNextApproved takes the oldest approved job and moves it to
// processing. SKIP LOCKED keeps concurrent workers off the same row.
func (r *ingestionJobRepo) ClaimNextApproved(ctx context.Context, tx *gorm.DB) (*types.IngestionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	var claimed *types.IngestionJob
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var job types.IngestionJob
		q := txx.Where("status = ?", types.JobStatusApproved).Order("created_at ASC")
		if txx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.IngestionJob{}).
			Where("id = ? AND status = ?", job.ID, types.JobStatusApproved).
			Updates(map[string]interface{}{
				"status":     types.JobStatusProcessing,
				"updated_at": now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = types.JobStatusProcessing
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Transition applies updates only when the job is in one of fromStatuses.
// A zero-row update means the state machine forbids the move.
func (r *ingestionJobRepo) Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromStatuses []string, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return pkgerrors.ErrNotFound
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(ctx).
		Model(&types.IngestionJob{}).
		Where("id = ? AND status IN ?", id, fromStatuses).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrJobConflict
	}
	return nil
}

func (r *ingestionJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.IngestionJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Checkpoint persists job_data for a processing job. The write must land
// before the next chunk starts; callers treat an error as fatal.
func (r *ingestionJobRepo) Checkpoint(ctx context.Context, tx *gorm.DB, id uuid.UUID, jobData []byte) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return pkgerrors.ErrNotFound
	}
	res := transaction.WithContext(ctx).
		Model(&types.IngestionJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusProcessing).
		Updates(map[string]interface{}{
			"job_data":   jobData,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrJobConflict
	}
	return nil
}

func (r *ingestionJobRepo) ExpireAwaitingApproval(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	res := transaction.WithContext(ctx).
		Model(&types.IngestionJob{}).
		Where("status = ? AND created_at < ?", types.JobStatusAwaitingApproval, cutoff).
		Updates(map[string]interface{}{
			"status":       types.JobStatusCancelled,
			"error":        "expired",
			"completed_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

func (r *ingestionJobRepo) DeleteTerminalOlderThan(ctx context.Context, tx *gorm.DB, statuses []string, cutoff time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(statuses) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, cutoff).
		Delete(&types.IngestionJob{})
	return res.RowsAffected, res.Error
}
