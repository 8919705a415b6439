package graph

import "testing"

func TestRankMatchesOrdering(t *testing.T) {
	ms := []Match{
		{ConceptID: "c", Similarity: 0.90, Degree: 2},
		{ConceptID: "b", Similarity: 0.95, Degree: 1},
		{ConceptID: "a", Similarity: 0.90, Degree: 5},
		{ConceptID: "d", Similarity: 0.90, Degree: 5},
	}
	rankMatches(ms)

	wantOrder := []string{"b", "a", "d", "c"}
	for i, want := range wantOrder {
		if ms[i].ConceptID != want {
			t.Fatalf("rank[%d]: want=%s got=%s", i, want, ms[i].ConceptID)
		}
	}
}

func TestMergeMatchesDedupesKeepingMaxSimilarity(t *testing.T) {
	filtered := []Match{
		{ConceptID: "a", Similarity: 0.88, Degree: 4},
		{ConceptID: "b", Similarity: 0.86, Degree: 3},
	}
	exhaustive := []Match{
		{ConceptID: "a", Similarity: 0.91, Degree: 4},
		{ConceptID: "c", Similarity: 0.87, Degree: 0},
	}

	got := mergeMatches(filtered, exhaustive, 5)
	if len(got) != 3 {
		t.Fatalf("merged length: want=3 got=%d", len(got))
	}
	if got[0].ConceptID != "a" || got[0].Similarity != 0.91 {
		t.Fatalf("max similarity not kept: got %+v", got[0])
	}
	if got[1].ConceptID != "c" || got[2].ConceptID != "b" {
		t.Fatalf("merge order wrong: got %+v", got)
	}
}

func TestMergeMatchesTruncatesToTopK(t *testing.T) {
	a := []Match{
		{ConceptID: "a", Similarity: 0.99},
		{ConceptID: "b", Similarity: 0.98},
	}
	b := []Match{
		{ConceptID: "c", Similarity: 0.97},
		{ConceptID: "d", Similarity: 0.96},
	}
	got := mergeMatches(a, b, 3)
	if len(got) != 3 {
		t.Fatalf("topK truncation: want=3 got=%d", len(got))
	}
	if got[2].ConceptID != "c" {
		t.Fatalf("truncation kept wrong tail: got %+v", got)
	}
}

func TestGroupEdgesByTypeValidatesLabels(t *testing.T) {
	if _, err := groupEdgesByType([]EdgeRow{{FromID: "a", ToID: "b", Type: "CAUSES"}}); err != nil {
		t.Fatalf("valid label rejected: %v", err)
	}
	bad := []string{"causes", "1BAD", "DROP INDEX", "A-B", ""}
	for _, typ := range bad {
		if _, err := groupEdgesByType([]EdgeRow{{Type: typ}}); err == nil {
			t.Fatalf("label %q must be rejected", typ)
		}
	}
}
