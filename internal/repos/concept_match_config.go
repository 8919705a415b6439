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

type ConceptMatchConfigRepo interface {
	// GetActive returns the active row, inserting the defaults when the
	// table is empty.
	GetActive(ctx context.Context, tx *gorm.DB) (*types.ConceptMatchConfig, error)
	SetActive(ctx context.Context, tx *gorm.DB, cfg *types.ConceptMatchConfig) (*types.ConceptMatchConfig, error)
}

type conceptMatchConfigRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConceptMatchConfigRepo(db *gorm.DB, baseLog *logger.Logger) ConceptMatchConfigRepo {
	return &conceptMatchConfigRepo{
		db:  db,
		log: baseLog.With("repo", "ConceptMatchConfigRepo"),
	}
}

func (r *conceptMatchConfigRepo) GetActive(ctx context.Context, tx *gorm.DB) (*types.ConceptMatchConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var cfg types.ConceptMatchConfig
	err := transaction.WithContext(ctx).
		Where("active = ?", true).
		Limit(1).
		Find(&cfg).Error
	if err != nil {
		return nil, err
	}
	if cfg.ID == uuid.Nil {
		defaults := types.DefaultConceptMatchConfig()
		if err := transaction.WithContext(ctx).Create(&defaults).Error; err != nil {
			return nil, err
		}
		r.log.Info("Inserted default concept match config", "strategy", defaults.Strategy)
		return &defaults, nil
	}
	return &cfg, nil
}

func (r *conceptMatchConfigRepo) SetActive(ctx context.Context, tx *gorm.DB, cfg *types.ConceptMatchConfig) (*types.ConceptMatchConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cfg == nil {
		return nil, pkgerrors.ErrInvalidArgument
	}
	switch cfg.Strategy {
	case types.MatchStrategyExhaustive, types.MatchStrategyDegreeOnly, types.MatchStrategyDegreeBiased:
	default:
		return nil, pkgerrors.ErrInvalidArgument
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 || cfg.TopK <= 0 ||
		cfg.DegreePercentile < 0 || cfg.DegreePercentile >= 1 {
		return nil, pkgerrors.ErrInvalidArgument
	}
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Model(&types.ConceptMatchConfig{}).
			Where("active = ?", true).
			Updates(map[string]interface{}{"active": false, "updated_at": time.Now()}).Error; err != nil {
			return err
		}
		if cfg.ID == uuid.Nil {
			cfg.ID = uuid.New()
		}
		cfg.Active = true
		return txx.Create(cfg).Error
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
