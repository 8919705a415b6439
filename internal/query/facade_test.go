package query

import (
	"context"
	"errors"
	"testing"

	"github.com/knowgraph/knowgraph-backend/internal/graph"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	apperr "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
)

type fakeReader struct {
	matches   []graph.Match
	summaries map[string]graph.ConceptSummary
	path      *graph.PathResult
	details   *graph.ConceptDetails

	lastParams graph.SearchParams
	pathCalls  [][2]string
}

func (f *fakeReader) Search(ctx context.Context, embedding []float32, p graph.SearchParams) ([]graph.Match, error) {
	f.lastParams = p
	var out []graph.Match
	for _, m := range f.matches {
		if m.Similarity >= p.Threshold {
			out = append(out, m)
		}
	}
	if len(out) > p.TopK {
		out = out[:p.TopK]
	}
	return out, nil
}

func (f *fakeReader) ConceptSummaries(ctx context.Context, ids []string) (map[string]graph.ConceptSummary, error) {
	return f.summaries, nil
}

func (f *fakeReader) ConceptDetails(ctx context.Context, conceptID string) (*graph.ConceptDetails, error) {
	if f.details == nil {
		return nil, apperr.ErrNotFound
	}
	return f.details, nil
}

func (f *fakeReader) FindConnection(ctx context.Context, fromID, toID string, maxHops int) (*graph.PathResult, error) {
	f.pathCalls = append(f.pathCalls, [2]string{fromID, toID})
	return f.path, nil
}

func (f *fakeReader) RelatedConcepts(ctx context.Context, conceptID string, maxDistance int) ([]graph.RelatedConcept, error) {
	return nil, nil
}

func (f *fakeReader) SubstringMatch(ctx context.Context, fragment string, caseSensitive bool, limit int) ([]graph.ConceptContext, error) {
	return nil, nil
}

type fakeQueryEmbedder struct{}

func (fakeQueryEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, 4 * len(texts), nil
}

func newFacade(t *testing.T, reader *fakeReader) *Service {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	svc, err := NewService(reader, fakeQueryEmbedder{}, log)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	return svc
}

func TestSearchConceptsJoinsSummaries(t *testing.T) {
	reader := &fakeReader{
		matches: []graph.Match{
			{ConceptID: "a", Similarity: 0.92},
			{ConceptID: "b", Similarity: 0.88},
		},
		summaries: map[string]graph.ConceptSummary{
			"a": {ConceptID: "a", Label: "entropy", OntologySet: []string{"physics"}},
			"b": {ConceptID: "b", Label: "disorder", OntologySet: []string{"physics", "chemistry"}},
		},
	}
	svc := newFacade(t, reader)

	hits, err := svc.SearchConcepts(context.Background(), "entropy", 5, 0.85)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits: %d", len(hits))
	}
	if hits[0].Label != "entropy" || hits[0].Similarity != 0.92 {
		t.Fatalf("hit[0]: %+v", hits[0])
	}
	if len(hits[1].OntologySet) != 2 {
		t.Fatalf("ontology set lost: %+v", hits[1])
	}
	if reader.lastParams.Threshold != 0.85 || reader.lastParams.TopK != 5 {
		t.Fatalf("params: %+v", reader.lastParams)
	}
}

func TestSearchConceptsValidates(t *testing.T) {
	svc := newFacade(t, &fakeReader{})
	if _, err := svc.SearchConcepts(context.Background(), "", 5, 0.8); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
}

func TestFindConnectionEmptyPathIsNotError(t *testing.T) {
	svc := newFacade(t, &fakeReader{path: nil})
	path, err := svc.FindConnection(context.Background(), "a", "b", 5)
	if err != nil {
		t.Fatalf("find connection: %v", err)
	}
	if path == nil || len(path.Nodes) != 0 {
		t.Fatalf("no-path must be an empty result: %+v", path)
	}
}

func TestFindConnectionByQueryResolvesEndpoints(t *testing.T) {
	reader := &fakeReader{
		matches: []graph.Match{{ConceptID: "best", Similarity: 0.9}},
		path: &graph.PathResult{
			Nodes:     []graph.PathNode{{ConceptID: "best"}, {ConceptID: "best"}},
			EdgeTypes: []string{"CAUSES"},
		},
	}
	svc := newFacade(t, reader)

	path, err := svc.FindConnectionByQuery(context.Background(), "entropy", "heat death", 5)
	if err != nil {
		t.Fatalf("by query: %v", err)
	}
	if len(path.EdgeTypes) != 1 {
		t.Fatalf("path: %+v", path)
	}
	if len(reader.pathCalls) != 1 || reader.pathCalls[0] != [2]string{"best", "best"} {
		t.Fatalf("endpoint resolution: %+v", reader.pathCalls)
	}
	// Endpoint resolution asks for exactly the top match.
	if reader.lastParams.TopK != 1 {
		t.Fatalf("resolve TopK: %+v", reader.lastParams)
	}
}

func TestFindConnectionByQueryNotResolvable(t *testing.T) {
	reader := &fakeReader{
		matches: []graph.Match{{ConceptID: "weak", Similarity: 0.5}},
	}
	svc := newFacade(t, reader)

	_, err := svc.FindConnectionByQuery(context.Background(), "nonsense", "gibberish", 5)
	if !errors.Is(err, apperr.ErrNotResolvable) {
		t.Fatalf("want ErrNotResolvable, got %v", err)
	}
}
