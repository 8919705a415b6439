package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	apperr "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
)

// ConceptExists reports whether a concept id is present in the graph.
func (s *Store) ConceptExists(ctx context.Context, conceptID string) (bool, error) {
	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx, `
MATCH (c:Concept {id: $id}) RETURN c.id LIMIT 1
`, map[string]any{"id": conceptID})
	if err != nil {
		return false, err
	}
	if res.Next(ctx) {
		return true, nil
	}
	return false, res.Err()
}

// ConceptSummary is the lightweight projection search results carry.
type ConceptSummary struct {
	ConceptID   string   `json:"concept_id"`
	Label       string   `json:"label"`
	OntologySet []string `json:"ontology_set"`
}

// ConceptSummaries resolves labels and ontology sets for a batch of ids.
func (s *Store) ConceptSummaries(ctx context.Context, ids []string) (map[string]ConceptSummary, error) {
	if len(ids) == 0 {
		return map[string]ConceptSummary{}, nil
	}
	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx, `
UNWIND $ids AS cid
MATCH (c:Concept {id: cid})
OPTIONAL MATCH (c)-[:APPEARS_IN]->(src:Source)
WITH c, collect(DISTINCT src.document) AS ontologies
RETURN c.id AS id, c.label AS label, ontologies
`, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}

	out := make(map[string]ConceptSummary, len(ids))
	for res.Next(ctx) {
		m := res.Record().AsMap()
		id := asString(m["id"])
		out[id] = ConceptSummary{
			ConceptID:   id,
			Label:       asString(m["label"]),
			OntologySet: asStringList(m["ontologies"]),
		}
	}
	return out, res.Err()
}

// ConceptDetails returns the full record for one concept: its semantic
// edges in both directions, its evidence quotes with source references,
// and the set of ontologies it appears in.
func (s *Store) ConceptDetails(ctx context.Context, conceptID string) (*ConceptDetails, error) {
	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx, `
MATCH (c:Concept {id: $id})
RETURN c.label AS label, c.search_terms AS search_terms
LIMIT 1
`, map[string]any{"id": conceptID})
	if err != nil {
		return nil, err
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return nil, err
		}
		return nil, apperr.ErrNotFound
	}
	head := res.Record().AsMap()
	details := &ConceptDetails{
		ConceptID:   conceptID,
		Label:       asString(head["label"]),
		SearchTerms: asStringList(head["search_terms"]),
	}

	res, err = session.Run(ctx, `
MATCH (c:Concept {id: $id})-[r]-(o:Concept)
WHERE NOT type(r) IN $structural
RETURN type(r) AS type, r.category AS category, r.confidence AS confidence,
       o.id AS other_id, o.label AS other_label,
       CASE WHEN startNode(r) = c THEN 'out' ELSE 'in' END AS direction
ORDER BY confidence DESC, type ASC, other_id ASC
`, map[string]any{"id": conceptID, "structural": structuralEdgeTypes})
	if err != nil {
		return nil, err
	}
	for res.Next(ctx) {
		m := res.Record().AsMap()
		details.Edges = append(details.Edges, SemanticEdge{
			Direction:  asString(m["direction"]),
			Type:       asString(m["type"]),
			Category:   asString(m["category"]),
			OtherID:    asString(m["other_id"]),
			OtherLabel: asString(m["other_label"]),
			Confidence: asFloat(m["confidence"]),
		})
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	res, err = session.Run(ctx, `
MATCH (c:Concept {id: $id})-[:EVIDENCED_BY]->(i:Instance)-[:FROM_SOURCE]->(s:Source)
RETURN i.id AS instance_id, i.quote AS quote, s.id AS source_id,
       s.document AS document, s.file_path AS file_path, s.chunk_index AS chunk_index
ORDER BY s.document ASC, s.chunk_index ASC, i.id ASC
`, map[string]any{"id": conceptID})
	if err != nil {
		return nil, err
	}
	for res.Next(ctx) {
		m := res.Record().AsMap()
		details.Evidence = append(details.Evidence, Evidence{
			InstanceID: asString(m["instance_id"]),
			Quote:      asString(m["quote"]),
			SourceID:   asString(m["source_id"]),
			Document:   asString(m["document"]),
			FilePath:   asString(m["file_path"]),
			ChunkIndex: int(asInt64(m["chunk_index"])),
		})
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	res, err = session.Run(ctx, `
MATCH (c:Concept {id: $id})-[:APPEARS_IN]->(s:Source)
RETURN DISTINCT s.document AS document
ORDER BY document ASC
`, map[string]any{"id": conceptID})
	if err != nil {
		return nil, err
	}
	for res.Next(ctx) {
		details.OntologySet = append(details.OntologySet, asString(res.Record().AsMap()["document"]))
	}
	return details, res.Err()
}

// FindConnection returns the best semantic path between two concepts
// within maxHops: shortest first, then highest summed confidence. A nil
// result with nil error means both concepts exist but no path does.
func (s *Store) FindConnection(ctx context.Context, fromID, toID string, maxHops int) (*PathResult, error) {
	if maxHops <= 0 {
		maxHops = 5
	}
	for _, id := range []string{fromID, toID} {
		ok, err := s.ConceptExists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: concept %s", apperr.ErrNotFound, id)
		}
	}

	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	// Hop bounds cannot be parameterized.
	stmt := fmt.Sprintf(`
MATCH (a:Concept {id: $from}), (b:Concept {id: $to})
MATCH p = allShortestPaths((a)-[*..%d]-(b))
WHERE ALL(r IN relationships(p) WHERE NOT type(r) IN $structural)
WITH p, reduce(total = 0.0, r IN relationships(p) | total + coalesce(r.confidence, 0.0)) AS total_confidence
RETURN [n IN nodes(p) | {id: n.id, label: n.label}] AS nodes,
       [r IN relationships(p) | type(r)] AS edge_types,
       total_confidence
ORDER BY length(p) ASC, total_confidence DESC
LIMIT 1
`, maxHops)
	res, err := session.Run(ctx, stmt, map[string]any{
		"from":       fromID,
		"to":         toID,
		"structural": structuralEdgeTypes,
	})
	if err != nil {
		return nil, err
	}
	if !res.Next(ctx) {
		return nil, res.Err()
	}
	m := res.Record().AsMap()

	out := &PathResult{
		EdgeTypes:       asStringList(m["edge_types"]),
		TotalConfidence: asFloat(m["total_confidence"]),
	}
	if nodes, ok := m["nodes"].([]any); ok {
		for _, n := range nodes {
			nm, _ := n.(map[string]any)
			out.Nodes = append(out.Nodes, PathNode{
				ConceptID: asString(nm["id"]),
				Label:     asString(nm["label"]),
			})
		}
	}
	return out, nil
}

// RelatedConcepts returns every concept within maxDistance semantic hops,
// each at its minimum distance, nearest first.
func (s *Store) RelatedConcepts(ctx context.Context, conceptID string, maxDistance int) ([]RelatedConcept, error) {
	if maxDistance <= 0 {
		maxDistance = 2
	}
	ok, err := s.ConceptExists(ctx, conceptID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrNotFound
	}

	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	stmt := fmt.Sprintf(`
MATCH p = (c:Concept {id: $id})-[*1..%d]-(o:Concept)
WHERE o.id <> $id
  AND ALL(r IN relationships(p) WHERE NOT type(r) IN $structural)
WITH o, min(length(p)) AS distance
RETURN o.id AS id, o.label AS label, distance
ORDER BY distance ASC, id ASC
`, maxDistance)
	res, err := session.Run(ctx, stmt, map[string]any{
		"id":         conceptID,
		"structural": structuralEdgeTypes,
	})
	if err != nil {
		return nil, err
	}

	var out []RelatedConcept
	for res.Next(ctx) {
		m := res.Record().AsMap()
		out = append(out, RelatedConcept{
			ConceptID: asString(m["id"]),
			Label:     asString(m["label"]),
			Distance:  int(asInt64(m["distance"])),
		})
	}
	return out, res.Err()
}

// SubstringMatch finds concepts whose label contains the fragment.
func (s *Store) SubstringMatch(ctx context.Context, fragment string, caseSensitive bool, limit int) ([]ConceptContext, error) {
	if limit <= 0 {
		limit = 25
	}
	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	stmt := `
MATCH (c:Concept)
WHERE toLower(c.label) CONTAINS toLower($fragment)
RETURN c.id AS id, c.label AS label, c.search_terms AS search_terms
ORDER BY c.label ASC
LIMIT $limit
`
	if caseSensitive {
		stmt = `
MATCH (c:Concept)
WHERE c.label CONTAINS $fragment
RETURN c.id AS id, c.label AS label, c.search_terms AS search_terms
ORDER BY c.label ASC
LIMIT $limit
`
	}
	res, err := session.Run(ctx, stmt, map[string]any{"fragment": fragment, "limit": limit})
	if err != nil {
		return nil, err
	}

	var out []ConceptContext
	for res.Next(ctx) {
		m := res.Record().AsMap()
		out = append(out, ConceptContext{
			ConceptID:   asString(m["id"]),
			Label:       asString(m["label"]),
			SearchTerms: asStringList(m["search_terms"]),
		})
	}
	return out, res.Err()
}
