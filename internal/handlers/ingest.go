package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/knowgraph/knowgraph-backend/internal/jobs"
	"github.com/knowgraph/knowgraph-backend/internal/types"
)

type IngestHandler struct {
	jobs *jobs.Service
}

func NewIngestHandler(jobService *jobs.Service) *IngestHandler {
	return &IngestHandler{jobs: jobService}
}

type ingestRequest struct {
	Content        string               `json:"content" binding:"required"`
	Ontology       string               `json:"ontology" binding:"required"`
	Filename       string               `json:"filename"`
	Force          bool                 `json:"force"`
	AutoApprove    bool                 `json:"auto_approve"`
	ProcessingMode string               `json:"processing_mode"`
	SourceType     string               `json:"source_type"`
	SourcePath     string               `json:"source_path"`
	SourceHostname string               `json:"source_hostname"`
	Chunking       types.ChunkingParams `json:"chunking"`
}

// POST /api/ingest
func (h *IngestHandler) Submit(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.jobs.Submit(c.Request.Context(), jobs.SubmitRequest{
		Content:        []byte(req.Content),
		Ontology:       req.Ontology,
		Filename:       req.Filename,
		Force:          req.Force,
		AutoApprove:    req.AutoApprove,
		ProcessingMode: req.ProcessingMode,
		SourceType:     req.SourceType,
		SourcePath:     req.SourcePath,
		SourceHostname: req.SourceHostname,
		Chunking:       req.Chunking,
	})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	if res.Status == "duplicate" {
		c.JSON(http.StatusConflict, res)
		return
	}
	c.JSON(http.StatusAccepted, res)
}
