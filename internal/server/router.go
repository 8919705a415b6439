package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/knowgraph/knowgraph-backend/internal/handlers"
)

type RouterConfig struct {
	IngestHandler   *handlers.IngestHandler
	JobsHandler     *handlers.JobsHandler
	QueryHandler    *handlers.QueryHandler
	AdminHandler    *handlers.AdminHandler
	ProgressHandler *handlers.ProgressHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// No-op unless a real tracer provider was installed at startup.
	router.Use(otelgin.Middleware("knowgraph-backend"))

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Ingestion
		api.POST("/ingest", cfg.IngestHandler.Submit)

		// Jobs
		api.GET("/jobs", cfg.JobsHandler.ListJobs)
		api.GET("/jobs/:id", cfg.JobsHandler.GetJobByID)
		api.POST("/jobs/:id/approve", cfg.JobsHandler.ApproveJob)
		api.POST("/jobs/:id/cancel", cfg.JobsHandler.CancelJob)
		api.GET("/progress/stream", cfg.ProgressHandler.Stream)

		// Query
		api.GET("/query/concepts", cfg.QueryHandler.SearchConcepts)
		api.GET("/query/concepts/:id", cfg.QueryHandler.ConceptDetails)
		api.GET("/query/concepts/:id/related", cfg.QueryHandler.RelatedConcepts)
		api.GET("/query/connection", cfg.QueryHandler.FindConnection)
		api.GET("/query/match", cfg.QueryHandler.SubstringMatch)

		// Admin
		api.GET("/admin/embedding-config", cfg.AdminHandler.GetEmbeddingConfig)
		api.PUT("/admin/embedding-config", cfg.AdminHandler.PutEmbeddingConfig)
		api.POST("/admin/embedding-config/:id/unprotect", cfg.AdminHandler.UnprotectEmbeddingConfig)
		api.GET("/admin/match-config", cfg.AdminHandler.GetMatchConfig)
		api.PUT("/admin/match-config", cfg.AdminHandler.PutMatchConfig)
		api.DELETE("/admin/documents", cfg.AdminHandler.DeleteDocument)
	}

	return router
}
