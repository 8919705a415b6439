package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/knowgraph/knowgraph-backend/internal/logger"
	pkgerrors "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
	"github.com/knowgraph/knowgraph-backend/internal/types"
)

type EmbeddingConfigRepo interface {
	GetActive(ctx context.Context, tx *gorm.DB) (*types.EmbeddingConfig, error)
	// SetActive deactivates the current row and inserts the new one in a
	// single transaction. The replaced row must be unprotected first.
	SetActive(ctx context.Context, tx *gorm.DB, cfg *types.EmbeddingConfig) (*types.EmbeddingConfig, error)
	Unprotect(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type embeddingConfigRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmbeddingConfigRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingConfigRepo {
	return &embeddingConfigRepo{
		db:  db,
		log: baseLog.With("repo", "EmbeddingConfigRepo"),
	}
}

func (r *embeddingConfigRepo) GetActive(ctx context.Context, tx *gorm.DB) (*types.EmbeddingConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var cfg types.EmbeddingConfig
	err := transaction.WithContext(ctx).
		Where("active = ?", true).
		Limit(1).
		Find(&cfg).Error
	if err != nil {
		return nil, err
	}
	if cfg.ID == uuid.Nil {
		return nil, pkgerrors.ErrNotFound
	}
	return &cfg, nil
}

func (r *embeddingConfigRepo) SetActive(ctx context.Context, tx *gorm.DB, cfg *types.EmbeddingConfig) (*types.EmbeddingConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cfg == nil {
		return nil, pkgerrors.ErrInvalidArgument
	}
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var current types.EmbeddingConfig
		if err := txx.Where("active = ?", true).Limit(1).Find(&current).Error; err != nil {
			return err
		}
		if current.ID != uuid.Nil {
			if current.ChangeProtected {
				return pkgerrors.ErrConfigProtected
			}
			if err := txx.Model(&types.EmbeddingConfig{}).
				Where("id = ?", current.ID).
				Updates(map[string]interface{}{"active": false, "updated_at": time.Now()}).Error; err != nil {
				return err
			}
		}
		if cfg.ID == uuid.Nil {
			cfg.ID = uuid.New()
		}
		cfg.Active = true
		// The fresh active row is protected until explicitly unprotected.
		cfg.ChangeProtected = true
		cfg.DeleteProtected = true
		return txx.Create(cfg).Error
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *embeddingConfigRepo) Unprotect(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return pkgerrors.ErrNotFound
	}
	res := transaction.WithContext(ctx).
		Model(&types.EmbeddingConfig{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"change_protected": false,
			"delete_protected": false,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}
