package query

import (
	"context"
	"fmt"

	"github.com/knowgraph/knowgraph-backend/internal/graph"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	apperr "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
	"github.com/knowgraph/knowgraph-backend/internal/types"
	"github.com/knowgraph/knowgraph-backend/internal/utils"
)

// GraphReader is the read slice of the graph store the facade wraps.
type GraphReader interface {
	Search(ctx context.Context, embedding []float32, p graph.SearchParams) ([]graph.Match, error)
	ConceptSummaries(ctx context.Context, ids []string) (map[string]graph.ConceptSummary, error)
	ConceptDetails(ctx context.Context, conceptID string) (*graph.ConceptDetails, error)
	FindConnection(ctx context.Context, fromID, toID string, maxHops int) (*graph.PathResult, error)
	RelatedConcepts(ctx context.Context, conceptID string, maxDistance int) ([]graph.RelatedConcept, error)
	SubstringMatch(ctx context.Context, fragment string, caseSensitive bool, limit int) ([]graph.ConceptContext, error)
}

// Embedder embeds query text for semantic search.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, int, error)
}

// ConceptHit is one semantic search result.
type ConceptHit struct {
	ConceptID   string   `json:"concept_id"`
	Label       string   `json:"label"`
	Similarity  float64  `json:"similarity"`
	OntologySet []string `json:"ontology_set"`
}

// Service is the read-side facade over the graph. It never exposes raw
// storage records; every operation returns structured results.
type Service struct {
	store    GraphReader
	embedder Embedder
	log      *logger.Logger

	resolveThreshold float64
}

func NewService(store GraphReader, embedder Embedder, log *logger.Logger) (*Service, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("query: store and embedder required")
	}
	lg := log.With("service", "QueryService")
	return &Service{
		store:            store,
		embedder:         embedder,
		log:              lg,
		resolveThreshold: utils.GetEnvAsFloat("QUERY_RESOLVE_THRESHOLD", 0.85, lg),
	}, nil
}

// SearchConcepts embeds the query text and runs an exhaustive vector
// search at the caller's similarity floor.
func (s *Service) SearchConcepts(ctx context.Context, queryText string, limit int, minSimilarity float64) ([]ConceptHit, error) {
	if queryText == "" {
		return nil, fmt.Errorf("%w: query text required", apperr.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = 10
	}
	matches, err := s.search(ctx, queryText, limit, minSimilarity)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ConceptID)
	}
	summaries, err := s.store.ConceptSummaries(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]ConceptHit, 0, len(matches))
	for _, m := range matches {
		sum := summaries[m.ConceptID]
		out = append(out, ConceptHit{
			ConceptID:   m.ConceptID,
			Label:       sum.Label,
			Similarity:  m.Similarity,
			OntologySet: sum.OntologySet,
		})
	}
	return out, nil
}

func (s *Service) ConceptDetails(ctx context.Context, conceptID string) (*graph.ConceptDetails, error) {
	return s.store.ConceptDetails(ctx, conceptID)
}

// FindConnection returns the best path between two known concepts. A
// result with no nodes means no path within maxHops, which is not an
// error.
func (s *Service) FindConnection(ctx context.Context, fromID, toID string, maxHops int) (*graph.PathResult, error) {
	path, err := s.store.FindConnection(ctx, fromID, toID, maxHops)
	if err != nil {
		return nil, err
	}
	if path == nil {
		return &graph.PathResult{}, nil
	}
	return path, nil
}

// FindConnectionByQuery resolves both endpoint texts to their best
// concept match before pathfinding. An endpoint with no match at or
// above the resolve threshold is ErrNotResolvable.
func (s *Service) FindConnectionByQuery(ctx context.Context, fromText, toText string, maxHops int) (*graph.PathResult, error) {
	fromID, err := s.resolveEndpoint(ctx, fromText)
	if err != nil {
		return nil, err
	}
	toID, err := s.resolveEndpoint(ctx, toText)
	if err != nil {
		return nil, err
	}
	return s.FindConnection(ctx, fromID, toID, maxHops)
}

func (s *Service) RelatedConcepts(ctx context.Context, conceptID string, maxDepth int) ([]graph.RelatedConcept, error) {
	return s.store.RelatedConcepts(ctx, conceptID, maxDepth)
}

func (s *Service) SubstringMatch(ctx context.Context, pattern string, caseInsensitive bool, limit int) ([]graph.ConceptContext, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: pattern required", apperr.ErrInvalidArgument)
	}
	return s.store.SubstringMatch(ctx, pattern, !caseInsensitive, limit)
}

func (s *Service) search(ctx context.Context, text string, limit int, threshold float64) ([]graph.Match, error) {
	vecs, _, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("query: expected 1 embedding, got %d", len(vecs))
	}
	return s.store.Search(ctx, vecs[0], graph.SearchParams{
		Strategy:  types.MatchStrategyExhaustive,
		TopK:      limit,
		Threshold: threshold,
	})
}

func (s *Service) resolveEndpoint(ctx context.Context, text string) (string, error) {
	matches, err := s.search(ctx, text, 1, s.resolveThreshold)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no concept matches %q", apperr.ErrNotResolvable, text)
	}
	return matches[0].ConceptID, nil
}
