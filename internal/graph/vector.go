package graph

import (
	"context"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/knowgraph/knowgraph-backend/internal/types"
)

// SearchParams carries the active matching configuration into one search.
type SearchParams struct {
	Strategy         string
	TopK             int
	Threshold        float64
	DegreePercentile float64
}

// degreeBiasedProbeRate is how often a degree_biased search also consults
// the unfiltered index.
const degreeBiasedProbeRate = 0.2

// Search runs one vector similarity search under the given strategy.
// Results are ordered by similarity desc, then degree desc, then id asc.
func (s *Store) Search(ctx context.Context, embedding []float32, p SearchParams) ([]Match, error) {
	if p.TopK <= 0 {
		p.TopK = 5
	}
	switch p.Strategy {
	case types.MatchStrategyDegreeOnly:
		return s.searchDegreeFiltered(ctx, embedding, p)
	case types.MatchStrategyDegreeBiased:
		filtered, err := s.searchDegreeFiltered(ctx, embedding, p)
		if err != nil {
			return nil, err
		}
		if s.probe() >= degreeBiasedProbeRate {
			return filtered, nil
		}
		exhaustive, err := s.searchExhaustive(ctx, embedding, p)
		if err != nil {
			return nil, err
		}
		return mergeMatches(filtered, exhaustive, p.TopK), nil
	default:
		return s.searchExhaustive(ctx, embedding, p)
	}
}

func (s *Store) searchExhaustive(ctx context.Context, embedding []float32, p SearchParams) ([]Match, error) {
	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx, `
CALL db.index.vector.queryNodes('concept_embedding', $k, $embedding)
YIELD node, score
WHERE score >= $threshold
WITH node, score, COUNT { (node)--() } AS degree
RETURN node.id AS id, score AS similarity, degree
ORDER BY similarity DESC, degree DESC, id ASC
`, map[string]any{
		"k":         p.TopK,
		"embedding": embeddingParam(embedding),
		"threshold": p.Threshold,
	})
	if err != nil {
		return nil, err
	}
	return collectMatches(ctx, res)
}

// searchDegreeFiltered restricts candidates to concepts at or above the
// degree percentile cutoff, computed inline over the current graph, then
// scores the survivors directly with the index's cosine function.
func (s *Store) searchDegreeFiltered(ctx context.Context, embedding []float32, p SearchParams) ([]Match, error) {
	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx, `
MATCH (c:Concept)
WHERE c.embedding IS NOT NULL
WITH c, COUNT { (c)--() } AS degree
WITH collect({c: c, degree: degree}) AS rows, percentileCont(degree, $pct) AS cutoff
UNWIND rows AS row
WITH row.c AS c, row.degree AS degree, cutoff
WHERE degree >= cutoff
WITH c, degree, vector.similarity.cosine(c.embedding, $embedding) AS similarity
WHERE similarity >= $threshold
RETURN c.id AS id, similarity, degree
ORDER BY similarity DESC, degree DESC, id ASC
LIMIT $k
`, map[string]any{
		"pct":       p.DegreePercentile,
		"embedding": embeddingParam(embedding),
		"threshold": p.Threshold,
		"k":         p.TopK,
	})
	if err != nil {
		return nil, err
	}
	return collectMatches(ctx, res)
}

func collectMatches(ctx context.Context, res neo4j.ResultWithContext) ([]Match, error) {
	var out []Match
	for res.Next(ctx) {
		m := res.Record().AsMap()
		out = append(out, Match{
			ConceptID:  asString(m["id"]),
			Similarity: asFloat(m["similarity"]),
			Degree:     int(asInt64(m["degree"])),
		})
	}
	return out, res.Err()
}

// mergeMatches combines two result sets, keeping the higher similarity
// per concept, then re-ranks and truncates to topK.
func mergeMatches(a, b []Match, topK int) []Match {
	byID := make(map[string]Match, len(a)+len(b))
	for _, m := range append(append([]Match{}, a...), b...) {
		prev, seen := byID[m.ConceptID]
		if !seen || m.Similarity > prev.Similarity {
			byID[m.ConceptID] = m
		}
	}
	merged := make([]Match, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, m)
	}
	rankMatches(merged)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

func rankMatches(ms []Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Similarity != ms[j].Similarity {
			return ms[i].Similarity > ms[j].Similarity
		}
		if ms[i].Degree != ms[j].Degree {
			return ms[i].Degree > ms[j].Degree
		}
		return ms[i].ConceptID < ms[j].ConceptID
	})
}
