package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/knowgraph/knowgraph-backend/internal/chunker"
	redisclient "github.com/knowgraph/knowgraph-backend/internal/clients/redis"
	"github.com/knowgraph/knowgraph-backend/internal/extraction"
	"github.com/knowgraph/knowgraph-backend/internal/graph"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	"github.com/knowgraph/knowgraph-backend/internal/matcher"
	apperr "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
	"github.com/knowgraph/knowgraph-backend/internal/repos"
	"github.com/knowgraph/knowgraph-backend/internal/types"
	"github.com/knowgraph/knowgraph-backend/internal/utils"
	"github.com/knowgraph/knowgraph-backend/internal/vocab"
)

const recentConceptLimit = 50

var tracer = otel.Tracer("github.com/knowgraph/knowgraph-backend/internal/ingestion")

// GraphStore is the slice of the graph adapter the engine drives.
type GraphStore interface {
	RecentConcepts(ctx context.Context, ontology string, limit int) ([]graph.ConceptContext, error)
	UpsertChunk(ctx context.Context, up graph.ChunkUpsert) error
	StoredEmbeddingDimension(ctx context.Context) (int, error)
	CreateDocumentMeta(ctx context.Context, meta graph.DocumentMetaRow) error
	ConceptExists(ctx context.Context, conceptID string) (bool, error)
	Search(ctx context.Context, embedding []float32, p graph.SearchParams) ([]graph.Match, error)
}

// Embedder is the slice of the embedding service the engine needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, int, error)
	Dimension() int
}

// ContentGetter fetches stored document bytes by storage key.
type ContentGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Engine runs approved ingestion jobs chunk by chunk. Within one job
// chunks are strictly serial; every chunk checkpoints durably before the
// next starts, so a crash resumes instead of re-paying LLM calls.
type Engine struct {
	jobs      repos.IngestionJobRepo
	store     GraphStore
	extractor extraction.Extractor
	embedder  Embedder
	matchCfgs repos.ConceptMatchConfigRepo
	content   ContentGetter
	bus       redisclient.ProgressBus
	vocab     vocab.Snapshot
	log       *logger.Logger

	fuzzyThreshold float64
}

func NewEngine(
	jobs repos.IngestionJobRepo,
	store GraphStore,
	ex extraction.Extractor,
	embedder Embedder,
	matchCfgs repos.ConceptMatchConfigRepo,
	content ContentGetter,
	bus redisclient.ProgressBus,
	snap vocab.Snapshot,
	log *logger.Logger,
) (*Engine, error) {
	if jobs == nil || store == nil || ex == nil || embedder == nil || matchCfgs == nil || content == nil {
		return nil, fmt.Errorf("ingestion: missing engine dependency")
	}
	lg := log.With("service", "IngestionEngine")
	return &Engine{
		jobs:           jobs,
		store:          store,
		extractor:      ex,
		embedder:       embedder,
		matchCfgs:      matchCfgs,
		content:        content,
		bus:            bus,
		vocab:          snap,
		log:            lg,
		fuzzyThreshold: utils.GetEnvAsFloat("FUZZY_MATCH_THRESHOLD", 0.8, lg),
	}, nil
}

// Run processes one claimed job to a terminal state. The job must
// already be in processing. A nil return means the job reached
// completed or cancelled; an error means the caller should fail it,
// except ErrLLMParse which leaves the job processing for a restart.
func (e *Engine) Run(ctx context.Context, job *types.IngestionJob) error {
	log := e.log.With("job_id", job.ID.String())

	var jd types.JobData
	if err := json.Unmarshal(job.JobData, &jd); err != nil {
		return fmt.Errorf("job data decode: %w", err)
	}

	raw, err := e.content.Get(ctx, jd.StorageKey)
	if err != nil {
		return fmt.Errorf("content fetch: %w", err)
	}

	params := chunker.Params{
		TargetWords:  jd.Chunking.TargetWords,
		MinWords:     jd.Chunking.MinWords,
		MaxWords:     jd.Chunking.MaxWords,
		OverlapWords: jd.Chunking.OverlapWords,
	}.WithDefaults()
	chunks, err := chunker.Split(string(raw), params)
	if err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	jd.ChunksTotal = len(chunks)

	if err := e.checkDimension(ctx); err != nil {
		return err
	}

	matchCfg, err := e.matchCfgs.GetActive(ctx, nil)
	if err != nil {
		return fmt.Errorf("match config: %w", err)
	}
	m, err := matcher.New(e.store, e.embedder, *matchCfg, e.log)
	if err != nil {
		return err
	}

	vocabNames := e.vocab.Names()
	for i, chunk := range chunks {
		if i <= jd.ResumeFromChunk {
			continue
		}

		cancelled, err := e.cancelRequested(ctx, job.ID.String())
		if err != nil {
			return err
		}
		if cancelled {
			log.Info("cancel observed between chunks", "chunk", i)
			return e.finish(ctx, job, &jd, types.JobStatusCancelled, "cancelled by request")
		}

		if err := e.runChunk(ctx, job, &jd, m, vocabNames, chunk, i); err != nil {
			return err
		}
		log.Debug("chunk checkpointed", "chunk", i, "of", jd.ChunksTotal)
	}

	if err := e.store.CreateDocumentMeta(ctx, graph.DocumentMetaRow{
		DocumentID:  jd.ContentHash,
		ContentHash: jd.ContentHash,
		Ontology:    jd.Ontology,
		Filename:    jd.Filename,
		SourceType:  jd.SourceType,
		SourcePath:  jd.SourcePath,
		Hostname:    jd.SourceHostname,
		IngestedBy:  ingestedBy(),
		JobID:       job.ID.String(),
		SourceCount: jd.ChunksTotal,
	}); err != nil {
		return fmt.Errorf("document meta: %w", err)
	}

	return e.finish(ctx, job, &jd, types.JobStatusCompleted, "")
}

// runChunk traces one chunk through extract, assemble, commit and
// checkpoint.
func (e *Engine) runChunk(ctx context.Context, job *types.IngestionJob, jd *types.JobData, m *matcher.Matcher, vocabNames []string, chunk chunker.Chunk, i int) error {
	ctx, span := tracer.Start(ctx, "ingest.chunk", trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.Int("chunk.index", i),
		attribute.Int("chunk.total", jd.ChunksTotal),
	))
	defer span.End()

	if err := e.processChunk(ctx, job, jd, m, vocabNames, chunk, i); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "chunk failed")
		return err
	}
	return nil
}

func (e *Engine) processChunk(ctx context.Context, job *types.IngestionJob, jd *types.JobData, m *matcher.Matcher, vocabNames []string, chunk chunker.Chunk, i int) error {
	recent, err := e.store.RecentConcepts(ctx, jd.Ontology, recentConceptLimit)
	if err != nil {
		return fmt.Errorf("recent concepts: %w", err)
	}

	result, usage, retries, err := e.extractor.ExtractChunk(ctx, chunk.Text, recent, vocabNames)
	if err != nil {
		jd.Stats.RetriesConsumed += retries
		jd.Stats.ExtractionTokens += usage.Total()
		return fmt.Errorf("chunk %d extraction: %w", i, err)
	}

	up, chunkStats, err := e.assembleChunk(ctx, m, jd, chunk, i, result)
	if err != nil {
		return fmt.Errorf("chunk %d assembly: %w", i, err)
	}
	chunkStats.RetriesConsumed = retries
	chunkStats.ExtractionTokens = usage.Total()

	if err := e.store.UpsertChunk(ctx, *up); err != nil {
		return fmt.Errorf("chunk %d graph commit: %w", i, err)
	}

	jd.Stats.Add(chunkStats)
	jd.ResumeFromChunk = i
	jd.RecentConceptIDs = appendBounded(jd.RecentConceptIDs, up.AppearsIn, recentConceptLimit)
	if err := e.checkpoint(ctx, job.ID, jd); err != nil {
		return fmt.Errorf("chunk %d checkpoint: %w", i, err)
	}
	e.publish(ctx, job.ID.String(), types.JobStatusProcessing, i, jd.ChunksTotal, jd.Stats, "")
	return nil
}

func (e *Engine) checkDimension(ctx context.Context) error {
	stored, err := e.store.StoredEmbeddingDimension(ctx)
	if err != nil {
		return fmt.Errorf("stored dimension: %w", err)
	}
	if stored != 0 && stored != e.embedder.Dimension() {
		return fmt.Errorf("%w: graph holds %d-dim embeddings, active config wants %d",
			apperr.ErrDimensionMismatch, stored, e.embedder.Dimension())
	}
	return nil
}

// assembleChunk resolves concepts, verifies evidence and normalizes
// relationships into one atomic ChunkUpsert.
func (e *Engine) assembleChunk(ctx context.Context, m *matcher.Matcher, jd *types.JobData, chunk chunker.Chunk, index int, result *extraction.ExtractionResult) (*graph.ChunkUpsert, types.IngestStats, error) {
	var stats types.IngestStats

	sourceID := SourceID(jd.Filename, index)
	up := &graph.ChunkUpsert{
		Source: graph.SourceRow{
			ID:              sourceID,
			Document:        jd.Ontology,
			FilePath:        jd.SourcePath,
			FullText:        chunk.Text,
			Paragraph:       index,
			ChunkIndex:      index,
			CharOffsetStart: chunk.CharOffsetStart,
			CharOffsetEnd:   chunk.CharOffsetEnd,
			LineStart:       chunk.LineStart,
			LineEnd:         chunk.LineEnd,
			OverlapChars:    chunk.OverlapChars,
			ChunkMethod:     chunker.ChunkMethod,
			ContentHash:     jd.ContentHash,
			StorageKey:      jd.StorageKey,
		},
	}
	stats.SourcesCreated++

	// local extraction ids to graph concept ids
	resolved := make(map[string]string, len(result.Concepts))
	for _, c := range result.Concepts {
		decision, err := m.MatchOrCreate(ctx, sourceID, c.Label, c.SearchTerms)
		if err != nil {
			return nil, stats, err
		}
		stats.EmbeddingTokens += decision.EmbeddingTokens
		resolved[c.LocalID] = decision.ConceptID
		up.AppearsIn = append(up.AppearsIn, decision.ConceptID)
		if decision.Created {
			stats.ConceptsCreated++
			up.NewConcepts = append(up.NewConcepts, graph.ConceptRow{
				ID:          decision.ConceptID,
				Label:       c.Label,
				SearchTerms: c.SearchTerms,
				Embedding:   decision.Embedding,
			})
		} else {
			stats.ConceptsLinked++
			up.LinkedConcepts = append(up.LinkedConcepts, graph.ConceptLink{
				ConceptID:   decision.ConceptID,
				SearchTerms: c.SearchTerms,
			})
		}
	}

	for _, ev := range result.Evidence {
		if !strings.Contains(chunk.Text, ev.Quote) {
			stats.EvidenceDropped++
			e.log.Warn("evidence dropped: quote not verbatim", "quote_id", ev.QuoteID, "source_id", sourceID)
			continue
		}
		conceptID, ok := resolved[ev.ConceptLocalID]
		if !ok {
			stats.EvidenceDropped++
			continue
		}
		up.Instances = append(up.Instances, graph.InstanceRow{
			ID:        uuid.NewString(),
			Quote:     ev.Quote,
			ConceptID: conceptID,
			SourceID:  sourceID,
		})
		stats.InstancesCreated++
	}

	for _, rel := range result.Relationships {
		match, ok := e.vocab.Normalize(rel.Type, e.fuzzyThreshold)
		if !ok {
			stats.TypesRejected++
			stats.EdgesDropped++
			e.log.Warn("relationship type rejected", "type", rel.Type, "source_id", sourceID)
			continue
		}
		fromID, err := e.resolveEndpoint(ctx, resolved, rel.From)
		if err != nil {
			return nil, stats, err
		}
		toID, err := e.resolveEndpoint(ctx, resolved, rel.To)
		if err != nil {
			return nil, stats, err
		}
		if fromID == "" || toID == "" {
			stats.EdgesDropped++
			e.log.Warn("relationship dropped: unresolved endpoint", "from", rel.From, "to", rel.To, "source_id", sourceID)
			continue
		}
		up.Edges = append(up.Edges, graph.EdgeRow{
			FromID:     fromID,
			ToID:       toID,
			Type:       match.Type,
			Category:   match.Category,
			Confidence: rel.Confidence,
		})
		stats.RelationshipsCreated++
	}

	stats.ChunksProcessed++
	return up, stats, nil
}

// resolveEndpoint maps a relationship endpoint to a concept id: first
// this chunk's extraction, then the graph. Empty means unresolvable.
func (e *Engine) resolveEndpoint(ctx context.Context, local map[string]string, ref string) (string, error) {
	if id, ok := local[ref]; ok {
		return id, nil
	}
	exists, err := e.store.ConceptExists(ctx, ref)
	if err != nil {
		return "", err
	}
	if exists {
		return ref, nil
	}
	return "", nil
}

func (e *Engine) cancelRequested(ctx context.Context, jobID string) (bool, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return false, err
	}
	fresh, err := e.jobs.GetByID(ctx, nil, id)
	if err != nil {
		return false, err
	}
	return fresh.CancelRequested, nil
}

func (e *Engine) checkpoint(ctx context.Context, id uuid.UUID, jd *types.JobData) error {
	raw, err := json.Marshal(jd)
	if err != nil {
		return err
	}
	return e.jobs.Checkpoint(ctx, nil, id, raw)
}

func (e *Engine) finish(ctx context.Context, job *types.IngestionJob, jd *types.JobData, status, errText string) error {
	raw, err := json.Marshal(jd)
	if err != nil {
		return err
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":       status,
		"job_data":     raw,
		"completed_at": &now,
		"updated_at":   now,
	}
	if errText != "" {
		updates["error"] = errText
	}
	if err := e.jobs.Transition(ctx, nil, job.ID, []string{types.JobStatusProcessing}, updates); err != nil {
		return err
	}
	e.publish(ctx, job.ID.String(), status, jd.ResumeFromChunk, jd.ChunksTotal, jd.Stats, errText)
	return nil
}

func (e *Engine) publish(ctx context.Context, jobID, status string, chunkIndex, chunksTotal int, stats types.IngestStats, errText string) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, redisclient.ProgressEvent{
		JobID:       jobID,
		Status:      status,
		ChunkIndex:  chunkIndex,
		ChunksTotal: chunksTotal,
		Stats:       stats,
		Error:       errText,
		At:          time.Now().UTC(),
	}); err != nil {
		e.log.Warn("progress publish failed", "error", err)
	}
}

// SourceID is the stable chunk identifier.
func SourceID(filename string, chunkIndex int) string {
	return fmt.Sprintf("%s_chunk%d", filename, chunkIndex)
}

func appendBounded(ids, add []string, limit int) []string {
	out := append(ids, add...)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func ingestedBy() string {
	host, err := os.Hostname()
	if err != nil {
		return "knowgraph"
	}
	return host
}
