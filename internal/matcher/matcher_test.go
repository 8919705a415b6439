package matcher

import (
	"context"
	"strings"
	"testing"

	"github.com/knowgraph/knowgraph-backend/internal/graph"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	"github.com/knowgraph/knowgraph-backend/internal/types"
)

type fakeSearcher struct {
	matches []graph.Match
	gotP    graph.SearchParams
}

func (f *fakeSearcher) Search(ctx context.Context, embedding []float32, p graph.SearchParams) ([]graph.Match, error) {
	f.gotP = p
	return f.matches, nil
}

type fakeEmbedder struct {
	gotTexts []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	f.gotTexts = texts
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, 8 * len(texts), nil
}

func newMatcher(t *testing.T, s Searcher) (*Matcher, *fakeEmbedder) {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	emb := &fakeEmbedder{}
	m, err := New(s, emb, types.DefaultConceptMatchConfig(), log)
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}
	return m, emb
}

func TestEmbedText(t *testing.T) {
	if got := EmbedText("entropy", []string{"disorder", "second law"}); got != "entropy disorder second law" {
		t.Fatalf("embed text: got %q", got)
	}
	if got := EmbedText("entropy", nil); got != "entropy" {
		t.Fatalf("embed text without terms: got %q", got)
	}
}

func TestMatchOrCreateLinksTopMatch(t *testing.T) {
	s := &fakeSearcher{matches: []graph.Match{
		{ConceptID: "phys_aaa", Similarity: 0.93, Degree: 4},
		{ConceptID: "phys_bbb", Similarity: 0.88, Degree: 9},
	}}
	m, emb := newMatcher(t, s)

	d, err := m.MatchOrCreate(context.Background(), "physics_0", "entropy", []string{"disorder"})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if d.Created {
		t.Fatalf("must link, not create: %+v", d)
	}
	if d.ConceptID != "phys_aaa" || d.Similarity != 0.93 {
		t.Fatalf("top match not taken: %+v", d)
	}
	if d.EmbeddingTokens != 8 {
		t.Fatalf("tokens: want=8 got=%d", d.EmbeddingTokens)
	}
	if emb.gotTexts[0] != "entropy disorder" {
		t.Fatalf("embedded text: got %q", emb.gotTexts[0])
	}

	// Active config flows into the search.
	cfg := types.DefaultConceptMatchConfig()
	if s.gotP.Strategy != cfg.Strategy || s.gotP.TopK != cfg.TopK ||
		s.gotP.Threshold != cfg.SimilarityThreshold || s.gotP.DegreePercentile != cfg.DegreePercentile {
		t.Fatalf("search params: got %+v", s.gotP)
	}
}

func TestMatchOrCreateCreatesWhenNoMatch(t *testing.T) {
	m, _ := newMatcher(t, &fakeSearcher{})

	d, err := m.MatchOrCreate(context.Background(), "physics_3", "qualia", nil)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !d.Created {
		t.Fatalf("must create: %+v", d)
	}
	if !strings.HasPrefix(d.ConceptID, "physics_3_") {
		t.Fatalf("concept id not scoped to source: %q", d.ConceptID)
	}
	if suffix := strings.TrimPrefix(d.ConceptID, "physics_3_"); len(suffix) != 8 {
		t.Fatalf("id suffix length: got %q", suffix)
	}
	if len(d.Embedding) != 3 {
		t.Fatalf("created concept must carry its embedding")
	}
}
