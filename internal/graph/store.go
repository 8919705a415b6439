package graph

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/knowgraph/knowgraph-backend/internal/logger"
	"github.com/knowgraph/knowgraph-backend/internal/platform/neo4jdb"
)

// Store is the property-graph adapter. All writes for one chunk go
// through a single ExecuteWrite; reads use read sessions.
type Store struct {
	client *neo4jdb.Client
	log    *logger.Logger

	// probe decides when a degree_biased search also consults the full
	// set. Swappable for tests.
	probe func() float64
}

func NewStore(client *neo4jdb.Client, log *logger.Logger) (*Store, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("graph: neo4j client required")
	}
	if log == nil {
		return nil, fmt.Errorf("graph: logger required")
	}
	return &Store{
		client: client,
		log:    log.With("service", "GraphStore"),
		probe:  rand.Float64,
	}, nil
}

// InitSchema creates uniqueness constraints and the cosine vector index.
// Best-effort: restricted users may lack schema privileges, so failures
// are logged and ingestion proceeds against whatever schema exists.
func (s *Store) InitSchema(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("graph: vector dimension required")
	}
	session := s.client.Session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT concept_id_unique IF NOT EXISTS FOR (c:Concept) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT source_id_unique IF NOT EXISTS FOR (s:Source) REQUIRE s.id IS UNIQUE`,
		`CREATE CONSTRAINT instance_id_unique IF NOT EXISTS FOR (i:Instance) REQUIRE i.id IS UNIQUE`,
		`CREATE CONSTRAINT vocab_type_name_unique IF NOT EXISTS FOR (v:VocabType) REQUIRE v.name IS UNIQUE`,
		`CREATE CONSTRAINT document_meta_key IF NOT EXISTS FOR (d:DocumentMeta) REQUIRE (d.content_hash, d.ontology) IS UNIQUE`,
		fmt.Sprintf(`CREATE VECTOR INDEX concept_embedding IF NOT EXISTS
FOR (c:Concept) ON (c.embedding)
OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`, dimension),
	}
	for _, stmt := range stmts {
		if res, err := session.Run(ctx, stmt, nil); err != nil {
			s.log.Warn("neo4j schema init failed (continuing)", "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
	return nil
}

// StoredEmbeddingDimension returns the dimension of any stored concept
// embedding, or 0 when the graph holds none yet.
func (s *Store) StoredEmbeddingDimension(ctx context.Context) (int, error) {
	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx, `
MATCH (c:Concept)
WHERE c.embedding IS NOT NULL
RETURN size(c.embedding) AS dim
LIMIT 1
`, nil)
	if err != nil {
		return 0, err
	}
	rec, err := res.Single(ctx)
	if err != nil {
		// No rows: nothing embedded yet.
		return 0, nil
	}
	return int(asInt64(rec.AsMap()["dim"])), nil
}

// RecentConcepts returns the most recently touched concepts of an
// ontology, newest first, bounded to limit.
func (s *Store) RecentConcepts(ctx context.Context, ontology string, limit int) ([]ConceptContext, error) {
	if limit <= 0 {
		limit = 50
	}
	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx, `
MATCH (c:Concept)-[:APPEARS_IN]->(:Source {document: $ontology})
WITH DISTINCT c
RETURN c.id AS id, c.label AS label, c.search_terms AS search_terms
ORDER BY c.updated_at DESC
LIMIT $limit
`, map[string]any{"ontology": ontology, "limit": limit})
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

// ---- record decoding helpers ----

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringList(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

// embeddingParam converts to []any for the driver.
func embeddingParam(vec []float32) []any {
	out := make([]any, len(vec))
	for i, f := range vec {
		out[i] = float64(f)
	}
	return out
}
