package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/knowgraph/knowgraph-backend/internal/graph"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	"github.com/knowgraph/knowgraph-backend/internal/types"
)

// Searcher is the slice of the graph store the matcher needs.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, p graph.SearchParams) ([]graph.Match, error)
}

// Embedder is the slice of the embedding service the matcher needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, int, error)
}

// Decision records how one extracted concept resolved.
type Decision struct {
	// ConceptID is the resolved graph id, existing or new.
	ConceptID string
	// Created is true when no stored concept cleared the threshold.
	Created bool
	// Similarity of the winning match when Created is false.
	Similarity float64
	// Embedding of the concept text; stored only for created concepts.
	Embedding []float32
	// EmbeddingTokens consumed resolving this concept.
	EmbeddingTokens int
}

// Matcher resolves extracted concepts against stored ones. The matching
// configuration is read once at construction and holds for the job.
type Matcher struct {
	searcher Searcher
	embedder Embedder
	cfg      types.ConceptMatchConfig
	log      *logger.Logger
}

func New(searcher Searcher, embedder Embedder, cfg types.ConceptMatchConfig, log *logger.Logger) (*Matcher, error) {
	if searcher == nil || embedder == nil {
		return nil, fmt.Errorf("matcher: searcher and embedder required")
	}
	return &Matcher{
		searcher: searcher,
		embedder: embedder,
		cfg:      cfg,
		log:      log.With("service", "ConceptMatcher"),
	}, nil
}

// EmbedText is the canonical text embedded for a concept.
func EmbedText(label string, searchTerms []string) string {
	if len(searchTerms) == 0 {
		return label
	}
	return label + " " + strings.Join(searchTerms, " ")
}

// NewConceptID mints an id for an unmatched concept, scoped to the
// source chunk it first appeared in.
func NewConceptID(sourceID string) string {
	return sourceID + "_" + uuid.NewString()[:8]
}

// MatchOrCreate embeds the concept text and either links the best match
// at or above the similarity threshold, or decides to create a new
// concept carrying the fresh embedding.
func (m *Matcher) MatchOrCreate(ctx context.Context, sourceID, label string, searchTerms []string) (*Decision, error) {
	vecs, tokens, err := m.embedder.Embed(ctx, []string{EmbedText(label, searchTerms)})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("matcher: expected 1 embedding, got %d", len(vecs))
	}

	matches, err := m.searcher.Search(ctx, vecs[0], graph.SearchParams{
		Strategy:         m.cfg.Strategy,
		TopK:             m.cfg.TopK,
		Threshold:        m.cfg.SimilarityThreshold,
		DegreePercentile: m.cfg.DegreePercentile,
	})
	if err != nil {
		return nil, err
	}

	if len(matches) > 0 {
		top := matches[0]
		m.log.Debug("concept linked", "label", label, "concept_id", top.ConceptID, "similarity", top.Similarity)
		return &Decision{
			ConceptID:       top.ConceptID,
			Similarity:      top.Similarity,
			Embedding:       vecs[0],
			EmbeddingTokens: tokens,
		}, nil
	}

	id := NewConceptID(sourceID)
	m.log.Debug("concept created", "label", label, "concept_id", id)
	return &Decision{
		ConceptID:       id,
		Created:         true,
		Embedding:       vecs[0],
		EmbeddingTokens: tokens,
	}, nil
}
