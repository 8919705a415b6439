package main

import (
	"context"
	"fmt"
	"os"

	"github.com/knowgraph/knowgraph-backend/internal/clients/redis"
	"github.com/knowgraph/knowgraph-backend/internal/contentstore"
	"github.com/knowgraph/knowgraph-backend/internal/db"
	"github.com/knowgraph/knowgraph-backend/internal/embedding"
	"github.com/knowgraph/knowgraph-backend/internal/extraction"
	"github.com/knowgraph/knowgraph-backend/internal/graph"
	"github.com/knowgraph/knowgraph-backend/internal/handlers"
	"github.com/knowgraph/knowgraph-backend/internal/ingestion"
	"github.com/knowgraph/knowgraph-backend/internal/jobs"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	"github.com/knowgraph/knowgraph-backend/internal/observability"
	"github.com/knowgraph/knowgraph-backend/internal/platform/neo4jdb"
	"github.com/knowgraph/knowgraph-backend/internal/platform/openai"
	"github.com/knowgraph/knowgraph-backend/internal/query"
	"github.com/knowgraph/knowgraph-backend/internal/repos"
	"github.com/knowgraph/knowgraph-backend/internal/server"
	"github.com/knowgraph/knowgraph-backend/internal/sse"
	"github.com/knowgraph/knowgraph-backend/internal/types"
	"github.com/knowgraph/knowgraph-backend/internal/utils"
	"github.com/knowgraph/knowgraph-backend/internal/vocab"
)

func main() {
	ctx := context.Background()

	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing (no-op unless OTEL_ENABLED)
	if shutdown := observability.InitTracing(ctx, log, observability.TracingConfig{
		ServiceName: "knowgraph-backend",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	}); shutdown != nil {
		defer shutdown(ctx)
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Neo4j
	neo4jClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Error("Neo4j init failed", "error", err)
		os.Exit(1)
	}
	if neo4jClient == nil {
		log.Error("NEO4J_URI is required")
		os.Exit(1)
	}
	defer neo4jClient.Close(ctx)

	// OpenAI
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}

	// Repos
	log.Info("Setting up repos from main...")
	jobRepo := repos.NewIngestionJobRepo(thePG, log)
	embeddingCfgRepo := repos.NewEmbeddingConfigRepo(thePG, log)
	matchCfgRepo := repos.NewConceptMatchConfigRepo(thePG, log)

	// Seed the embedding config on first boot.
	if _, err := embeddingCfgRepo.GetActive(ctx, nil); err != nil {
		dim := utils.GetEnvAsInt("EMBEDDING_DIMENSION", 1536, log)
		if _, err := embeddingCfgRepo.SetActive(ctx, nil, &types.EmbeddingConfig{
			Provider:  "openai",
			Model:     openaiClient.EmbedModel(),
			Dimension: dim,
		}); err != nil {
			log.Error("Could not seed embedding config", "error", err)
			os.Exit(1)
		}
	}

	// Services
	log.Info("Setting up services from main...")
	embeddingService, err := embedding.NewService(ctx, openaiClient, embeddingCfgRepo, log)
	if err != nil {
		log.Error("Could not init EmbeddingService", "error", err)
		os.Exit(1)
	}

	graphStore, err := graph.NewStore(neo4jClient, log)
	if err != nil {
		log.Error("Could not init GraphStore", "error", err)
		os.Exit(1)
	}
	if err := graphStore.InitSchema(ctx, embeddingService.Dimension()); err != nil {
		log.Warn("Graph schema init failed", "error", err)
	}

	// Vocabulary
	snap := vocab.Default()
	if path := utils.GetEnv("VOCAB_SEED_FILE", "", log); path != "" {
		if loaded, err := vocab.LoadFile(path); err != nil {
			log.Warn("Vocab seed load failed, using built-in", "error", err)
		} else {
			snap = loaded
		}
	}
	if err := graphStore.RegisterVocabTypes(ctx, snap); err != nil {
		log.Warn("Vocab registration failed", "error", err)
	}

	contentStore := contentstore.NewStore(log)

	progressBus, err := redis.NewProgressBus(log)
	if err != nil {
		log.Warn("Could not init progress bus", "error", err)
	}
	if progressBus != nil {
		defer progressBus.Close()
	}

	progressHub := sse.NewProgressHub(log)
	if progressBus != nil {
		if err := progressBus.StartForwarder(ctx, progressHub.Broadcast); err != nil {
			log.Warn("Could not start progress forwarder", "error", err)
		}
	}

	extractor, err := extraction.NewExtractor(openaiClient, log)
	if err != nil {
		log.Error("Could not init Extractor", "error", err)
		os.Exit(1)
	}

	engine, err := ingestion.NewEngine(jobRepo, graphStore, extractor, embeddingService,
		matchCfgRepo, contentStore, progressBus, snap, log)
	if err != nil {
		log.Error("Could not init IngestionEngine", "error", err)
		os.Exit(1)
	}

	deduper := ingestion.NewDeduper(jobRepo, graphStore, log)
	jobService, err := jobs.NewService(jobRepo, deduper, contentStore, map[string]any{
		"model":       openaiClient.Model(),
		"embed_model": openaiClient.EmbedModel(),
		"dimension":   embeddingService.Dimension(),
	}, log)
	if err != nil {
		log.Error("Could not init JobService", "error", err)
		os.Exit(1)
	}

	// Crash recovery before workers start claiming.
	if err := jobService.RecoverOnBoot(ctx); err != nil {
		log.Error("Job recovery failed", "error", err)
		os.Exit(1)
	}

	workerPool, err := jobs.NewWorkerPool(jobRepo, engine, log)
	if err != nil {
		log.Error("Could not init WorkerPool", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := workerPool.Start(ctx); err != nil {
			log.Error("Worker pool stopped", "error", err)
		}
	}()
	go jobs.NewScheduler(jobRepo, log).Start(ctx)

	queryService, err := query.NewService(graphStore, embeddingService, log)
	if err != nil {
		log.Error("Could not init QueryService", "error", err)
		os.Exit(1)
	}

	// Handlers
	log.Info("Setting up handlers from main...")
	router := server.NewRouter(server.RouterConfig{
		IngestHandler:   handlers.NewIngestHandler(jobService),
		JobsHandler:     handlers.NewJobsHandler(jobService),
		QueryHandler:    handlers.NewQueryHandler(queryService),
		AdminHandler:    handlers.NewAdminHandler(embeddingService, embeddingCfgRepo, matchCfgRepo, graphStore),
		ProgressHandler: handlers.NewProgressHandler(progressHub),
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
