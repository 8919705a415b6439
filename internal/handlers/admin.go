package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/knowgraph/knowgraph-backend/internal/embedding"
	"github.com/knowgraph/knowgraph-backend/internal/repos"
	"github.com/knowgraph/knowgraph-backend/internal/types"
)

// DocumentDeleter removes an ingested document and everything only it owns.
type DocumentDeleter interface {
	DeleteDocument(ctx context.Context, contentHash, ontology string) error
}

type AdminHandler struct {
	embedding     *embedding.Service
	embeddingCfgs repos.EmbeddingConfigRepo
	matchCfgs     repos.ConceptMatchConfigRepo
	documents     DocumentDeleter
}

func NewAdminHandler(embeddingService *embedding.Service, embeddingCfgs repos.EmbeddingConfigRepo, matchCfgs repos.ConceptMatchConfigRepo, documents DocumentDeleter) *AdminHandler {
	return &AdminHandler{
		embedding:     embeddingService,
		embeddingCfgs: embeddingCfgs,
		matchCfgs:     matchCfgs,
		documents:     documents,
	}
}

// DELETE /api/admin/documents?content_hash=&ontology=
func (h *AdminHandler) DeleteDocument(c *gin.Context) {
	contentHash, ontology := c.Query("content_hash"), c.Query("ontology")
	if contentHash == "" || ontology == "" {
		RespondError(c, http.StatusBadRequest, "missing_params", errors.New("content_hash and ontology are required"))
		return
	}
	if err := h.documents.DeleteDocument(c.Request.Context(), contentHash, ontology); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": contentHash, "ontology": ontology})
}

// GET /api/admin/embedding-config
func (h *AdminHandler) GetEmbeddingConfig(c *gin.Context) {
	RespondOK(c, gin.H{"config": h.embedding.ActiveConfig()})
}

type embeddingConfigRequest struct {
	Provider  string         `json:"provider" binding:"required"`
	Model     string         `json:"model" binding:"required"`
	Dimension int            `json:"dimension" binding:"required"`
	Extras    map[string]any `json:"extras"`
}

// PUT /api/admin/embedding-config
func (h *AdminHandler) PutEmbeddingConfig(c *gin.Context) {
	var req embeddingConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	cfg := &types.EmbeddingConfig{
		Provider:  req.Provider,
		Model:     req.Model,
		Dimension: req.Dimension,
	}
	if req.Extras != nil {
		raw, err := json.Marshal(req.Extras)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_extras", err)
			return
		}
		cfg.Extras = raw
	}
	saved, err := h.embedding.Activate(c.Request.Context(), nil, cfg)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"config": saved})
}

// POST /api/admin/embedding-config/:id/unprotect
func (h *AdminHandler) UnprotectEmbeddingConfig(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_config_id", err)
		return
	}
	if err := h.embeddingCfgs.Unprotect(c.Request.Context(), nil, id); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"unprotected": id.String()})
}

// GET /api/admin/match-config
func (h *AdminHandler) GetMatchConfig(c *gin.Context) {
	cfg, err := h.matchCfgs.GetActive(c.Request.Context(), nil)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"config": cfg})
}

type matchConfigRequest struct {
	Strategy            string  `json:"strategy" binding:"required"`
	SimilarityThreshold float64 `json:"similarity_threshold" binding:"required"`
	TopK                int     `json:"top_k" binding:"required"`
	DegreePercentile    float64 `json:"degree_percentile"`
}

// PUT /api/admin/match-config
func (h *AdminHandler) PutMatchConfig(c *gin.Context) {
	var req matchConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	saved, err := h.matchCfgs.SetActive(c.Request.Context(), nil, &types.ConceptMatchConfig{
		Strategy:            req.Strategy,
		SimilarityThreshold: req.SimilarityThreshold,
		TopK:                req.TopK,
		DegreePercentile:    req.DegreePercentile,
	})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"config": saved})
}
