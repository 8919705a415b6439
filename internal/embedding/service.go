package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"gorm.io/gorm"

	"github.com/knowgraph/knowgraph-backend/internal/logger"
	apperr "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
	"github.com/knowgraph/knowgraph-backend/internal/platform/openai"
	"github.com/knowgraph/knowgraph-backend/internal/repos"
	"github.com/knowgraph/knowgraph-backend/internal/types"
)

// Embedder turns text into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, int, error)
	Dimension() int
	Model() string
}

// Service is the active-config-aware embedder. The active configuration
// is loaded once and swapped atomically when an admin activates a new
// one, so in-flight chunk work keeps the config it started with.
type Service struct {
	client openai.Client
	repo   repos.EmbeddingConfigRepo
	log    *logger.Logger

	active atomic.Pointer[types.EmbeddingConfig]
}

func NewService(ctx context.Context, client openai.Client, repo repos.EmbeddingConfigRepo, log *logger.Logger) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("embedding: openai client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("embedding: config repo required")
	}
	s := &Service{
		client: client,
		repo:   repo,
		log:    log.With("service", "EmbeddingService"),
	}
	cfg, err := repo.GetActive(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("embedding: no active config: %w", err)
	}
	s.active.Store(cfg)
	s.log.Info("active embedding config loaded",
		"provider", cfg.Provider, "model", cfg.Model, "dimension", cfg.Dimension)
	return s, nil
}

// ActiveConfig returns the configuration all new embeds will use.
func (s *Service) ActiveConfig() *types.EmbeddingConfig {
	return s.active.Load()
}

func (s *Service) Dimension() int {
	return s.active.Load().Dimension
}

func (s *Service) Model() string {
	return s.active.Load().Model
}

// Embed embeds the texts under the active config and validates every
// returned vector against its dimension. Returns total embedding tokens.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}
	cfg := s.active.Load()
	vecs, usage, err := s.client.Embed(ctx, texts)
	if err != nil {
		return nil, 0, err
	}
	for i, v := range vecs {
		if len(v) != cfg.Dimension {
			return nil, usage.Total(), fmt.Errorf("%w: embedding %d has %d dims, active config wants %d",
				apperr.ErrDimensionMismatch, i, len(v), cfg.Dimension)
		}
	}
	return vecs, usage.Total(), nil
}

// Activate installs a new embedding configuration. The previous active
// row must already be unprotected, or ErrConfigProtected surfaces from
// the repo. On success the in-memory pointer is swapped.
func (s *Service) Activate(ctx context.Context, tx *gorm.DB, cfg *types.EmbeddingConfig) (*types.EmbeddingConfig, error) {
	if cfg == nil || cfg.Provider == "" || cfg.Model == "" || cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: provider, model and dimension required", apperr.ErrInvalidArgument)
	}
	saved, err := s.repo.SetActive(ctx, tx, cfg)
	if err != nil {
		return nil, err
	}
	s.active.Store(saved)
	s.log.Info("embedding config activated",
		"provider", saved.Provider, "model", saved.Model, "dimension", saved.Dimension)
	return saved, nil
}
