package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/knowgraph/knowgraph-backend/internal/vocab"
)

// RegisterVocabTypes upserts the relationship-type vocabulary as
// VocabType nodes. The node's category and synonyms are authoritative;
// edge properties only carry a denormalized category copy.
func (s *Store) RegisterVocabTypes(ctx context.Context, snap vocab.Snapshot) error {
	rows := make([]map[string]any, 0, len(snap.Types))
	for _, t := range snap.Types {
		rows = append(rows, map[string]any{
			"name":     t.Name,
			"category": t.Category,
			"synonyms": t.Synonyms,
		})
	}

	session := s.client.Session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runConsume(ctx, tx, `
UNWIND $rows AS row
MERGE (v:VocabType {name: row.name})
SET v.category = row.category,
    v.synonyms = row.synonyms
`, map[string]any{"rows": rows})
	})
	return err
}

// VocabTypes reads the registered vocabulary back out of the graph.
func (s *Store) VocabTypes(ctx context.Context) (vocab.Snapshot, error) {
	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx, `
MATCH (v:VocabType)
RETURN v.name AS name, v.category AS category, v.synonyms AS synonyms
ORDER BY name ASC
`, nil)
	if err != nil {
		return vocab.Snapshot{}, err
	}

	var snap vocab.Snapshot
	for res.Next(ctx) {
		m := res.Record().AsMap()
		snap.Types = append(snap.Types, vocab.Type{
			Name:     asString(m["name"]),
			Category: asString(m["category"]),
			Synonyms: asStringList(m["synonyms"]),
		})
	}
	return snap, res.Err()
}
