package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/knowgraph/knowgraph-backend/internal/query"
)

type QueryHandler struct {
	query *query.Service
}

func NewQueryHandler(queryService *query.Service) *QueryHandler {
	return &QueryHandler{query: queryService}
}

// GET /api/query/concepts?q=&limit=&min_similarity=
func (h *QueryHandler) SearchConcepts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	minSim, err := strconv.ParseFloat(c.DefaultQuery("min_similarity", "0"), 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_min_similarity", err)
		return
	}
	hits, err := h.query.SearchConcepts(c.Request.Context(), c.Query("q"), limit, minSim)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"concepts": hits, "count": len(hits)})
}

// GET /api/query/concepts/:id
func (h *QueryHandler) ConceptDetails(c *gin.Context) {
	details, err := h.query.ConceptDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"concept": details})
}

// GET /api/query/connection?from=&to=&max_hops= or ?from_text=&to_text=
func (h *QueryHandler) FindConnection(c *gin.Context) {
	maxHops, _ := strconv.Atoi(c.DefaultQuery("max_hops", "5"))

	fromText, toText := c.Query("from_text"), c.Query("to_text")
	if fromText != "" || toText != "" {
		path, err := h.query.FindConnectionByQuery(c.Request.Context(), fromText, toText, maxHops)
		if err != nil {
			RespondAppError(c, err)
			return
		}
		RespondOK(c, gin.H{"path": path})
		return
	}

	path, err := h.query.FindConnection(c.Request.Context(), c.Query("from"), c.Query("to"), maxHops)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"path": path})
}

// GET /api/query/concepts/:id/related?max_depth=
func (h *QueryHandler) RelatedConcepts(c *gin.Context) {
	maxDepth, _ := strconv.Atoi(c.DefaultQuery("max_depth", "2"))
	related, err := h.query.RelatedConcepts(c.Request.Context(), c.Param("id"), maxDepth)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"related": related, "count": len(related)})
}

// GET /api/query/match?pattern=&case_insensitive=&limit=
func (h *QueryHandler) SubstringMatch(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
	caseInsensitive := c.DefaultQuery("case_insensitive", "true") == "true"
	concepts, err := h.query.SubstringMatch(c.Request.Context(), c.Query("pattern"), caseInsensitive, limit)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"concepts": concepts, "count": len(concepts)})
}
