package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/knowgraph/knowgraph-backend/internal/sse"
)

type ProgressHandler struct {
	hub *sse.ProgressHub
}

func NewProgressHandler(hub *sse.ProgressHub) *ProgressHandler {
	return &ProgressHandler{hub: hub}
}

// GET /api/progress/stream?job_id=
// SSE stream of ingestion progress; omit job_id for all jobs.
func (h *ProgressHandler) Stream(c *gin.Context) {
	client := h.hub.NewClient(c.Query("job_id"))
	defer h.hub.CloseClient(client)
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
