package graph

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var typeLabelPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// UpsertChunk commits one chunk's source, concepts, evidence and semantic
// edges in a single write transaction. A failure leaves no partial chunk
// state in the graph.
func (s *Store) UpsertChunk(ctx context.Context, up ChunkUpsert) error {
	if up.Source.ID == "" {
		return fmt.Errorf("graph: chunk upsert requires a source")
	}
	edgesByType, err := groupEdgesByType(up.Edges)
	if err != nil {
		return err
	}

	session := s.client.Session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := runConsume(ctx, tx, `
MERGE (s:Source {id: $id})
SET s.document = $document,
    s.file_path = $file_path,
    s.full_text = $full_text,
    s.paragraph = $paragraph,
    s.chunk_index = $chunk_index,
    s.char_offset_start = $char_offset_start,
    s.char_offset_end = $char_offset_end,
    s.line_start = $line_start,
    s.line_end = $line_end,
    s.overlap_chars = $overlap_chars,
    s.chunk_method = $chunk_method,
    s.content_hash = $content_hash,
    s.storage_key = $storage_key
`, map[string]any{
			"id":                up.Source.ID,
			"document":          up.Source.Document,
			"file_path":         up.Source.FilePath,
			"full_text":         up.Source.FullText,
			"paragraph":         int64(up.Source.Paragraph),
			"chunk_index":       int64(up.Source.ChunkIndex),
			"char_offset_start": int64(up.Source.CharOffsetStart),
			"char_offset_end":   int64(up.Source.CharOffsetEnd),
			"line_start":        int64(up.Source.LineStart),
			"line_end":          int64(up.Source.LineEnd),
			"overlap_chars":     int64(up.Source.OverlapChars),
			"chunk_method":      up.Source.ChunkMethod,
			"content_hash":      up.Source.ContentHash,
			"storage_key":       up.Source.StorageKey,
		}); err != nil {
			return nil, err
		}

		if len(up.NewConcepts) > 0 {
			rows := make([]map[string]any, 0, len(up.NewConcepts))
			for _, c := range up.NewConcepts {
				rows = append(rows, map[string]any{
					"id":           c.ID,
					"label":        c.Label,
					"search_terms": c.SearchTerms,
					"embedding":    embeddingParam(c.Embedding),
				})
			}
			if err := runConsume(ctx, tx, `
UNWIND $rows AS row
MERGE (c:Concept {id: row.id})
ON CREATE SET c.created_at = timestamp()
SET c.label = row.label,
    c.search_terms = row.search_terms,
    c.embedding = row.embedding,
    c.updated_at = timestamp()
`, map[string]any{"rows": rows}); err != nil {
				return nil, err
			}
		}

		if len(up.LinkedConcepts) > 0 {
			rows := make([]map[string]any, 0, len(up.LinkedConcepts))
			for _, l := range up.LinkedConcepts {
				rows = append(rows, map[string]any{
					"id":    l.ConceptID,
					"terms": l.SearchTerms,
				})
			}
			// Set union, order preserved: existing terms first.
			if err := runConsume(ctx, tx, `
UNWIND $rows AS row
MATCH (c:Concept {id: row.id})
SET c.search_terms = coalesce(c.search_terms, []) +
      [t IN row.terms WHERE NOT t IN coalesce(c.search_terms, [])],
    c.updated_at = timestamp()
`, map[string]any{"rows": rows}); err != nil {
				return nil, err
			}
		}

		if len(up.AppearsIn) > 0 {
			if err := runConsume(ctx, tx, `
UNWIND $ids AS cid
MATCH (c:Concept {id: cid})
MATCH (s:Source {id: $source_id})
MERGE (c)-[:APPEARS_IN]->(s)
`, map[string]any{"ids": up.AppearsIn, "source_id": up.Source.ID}); err != nil {
				return nil, err
			}
		}

		if len(up.Instances) > 0 {
			rows := make([]map[string]any, 0, len(up.Instances))
			for _, inst := range up.Instances {
				rows = append(rows, map[string]any{
					"id":         inst.ID,
					"quote":      inst.Quote,
					"concept_id": inst.ConceptID,
					"source_id":  inst.SourceID,
				})
			}
			if err := runConsume(ctx, tx, `
UNWIND $rows AS row
MATCH (c:Concept {id: row.concept_id})
MATCH (s:Source {id: row.source_id})
MERGE (i:Instance {id: row.id})
SET i.quote = row.quote
MERGE (c)-[:EVIDENCED_BY]->(i)
MERGE (i)-[:FROM_SOURCE]->(s)
`, map[string]any{"rows": rows}); err != nil {
				return nil, err
			}
		}

		// The relationship type is the edge label; Cypher cannot
		// parameterize labels, so edges run one statement per type.
		for typeName, rows := range edgesByType {
			stmt := fmt.Sprintf(`
UNWIND $rows AS row
MATCH (a:Concept {id: row.from_id})
MATCH (b:Concept {id: row.to_id})
MERGE (a)-[r:%s]->(b)
ON CREATE SET r.confidence = row.confidence, r.category = row.category
ON MATCH SET r.confidence = CASE WHEN row.confidence > r.confidence THEN row.confidence ELSE r.confidence END
`, typeName)
			if err := runConsume(ctx, tx, stmt, map[string]any{"rows": rows}); err != nil {
				return nil, err
			}
		}

		return nil, nil
	})
	return err
}

func groupEdgesByType(edges []EdgeRow) (map[string][]map[string]any, error) {
	out := make(map[string][]map[string]any)
	for _, e := range edges {
		if !typeLabelPattern.MatchString(e.Type) {
			return nil, fmt.Errorf("graph: invalid relationship type label %q", e.Type)
		}
		out[e.Type] = append(out[e.Type], map[string]any{
			"from_id":    e.FromID,
			"to_id":      e.ToID,
			"confidence": e.Confidence,
			"category":   e.Category,
		})
	}
	return out, nil
}

func runConsume(ctx context.Context, tx neo4j.ManagedTransaction, stmt string, params map[string]any) error {
	res, err := tx.Run(ctx, stmt, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// FindDocumentMeta looks a document up by its dedup key.
func (s *Store) FindDocumentMeta(ctx context.Context, contentHash, ontology string) (*DocumentMetaRow, error) {
	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx, `
MATCH (d:DocumentMeta {content_hash: $hash, ontology: $ontology})
RETURN d.document_id AS document_id, d.filename AS filename, d.source_type AS source_type,
       d.source_path AS source_path, d.hostname AS hostname, d.ingested_at AS ingested_at,
       d.ingested_by AS ingested_by, d.job_id AS job_id, d.source_count AS source_count,
       d.version AS version, d.supersedes AS supersedes
LIMIT 1
`, map[string]any{"hash": contentHash, "ontology": ontology})
	if err != nil {
		return nil, err
	}
	if !res.Next(ctx) {
		return nil, res.Err()
	}
	m := res.Record().AsMap()
	return &DocumentMetaRow{
		DocumentID:  asString(m["document_id"]),
		ContentHash: contentHash,
		Ontology:    ontology,
		Filename:    asString(m["filename"]),
		SourceType:  asString(m["source_type"]),
		SourcePath:  asString(m["source_path"]),
		Hostname:    asString(m["hostname"]),
		IngestedAt:  asString(m["ingested_at"]),
		IngestedBy:  asString(m["ingested_by"]),
		JobID:       asString(m["job_id"]),
		SourceCount: int(asInt64(m["source_count"])),
		Version:     int(asInt64(m["version"])),
		Supersedes:  asString(m["supersedes"]),
	}, nil
}

// CreateDocumentMeta writes the per-document record after a successful
// ingest and links HAS_SOURCE to every Source of the document. Re-ingest
// of the same (content_hash, ontology) bumps the version on the same node
// and records the superseded job id; the dedup key stays unique.
func (s *Store) CreateDocumentMeta(ctx context.Context, meta DocumentMetaRow) error {
	if meta.ContentHash == "" || meta.Ontology == "" {
		return fmt.Errorf("graph: document meta requires content_hash and ontology")
	}
	if meta.IngestedAt == "" {
		meta.IngestedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	session := s.client.Session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := runConsume(ctx, tx, `
MERGE (d:DocumentMeta {content_hash: $hash, ontology: $ontology})
ON CREATE SET d.version = 1
ON MATCH SET d.supersedes = d.job_id,
             d.version = coalesce(d.version, 1) + 1
SET d.document_id = $hash,
    d.filename = $filename,
    d.source_type = $source_type,
    d.source_path = $source_path,
    d.hostname = $hostname,
    d.ingested_at = $ingested_at,
    d.ingested_by = $ingested_by,
    d.job_id = $job_id,
    d.source_count = $source_count
`, map[string]any{
			"hash":         meta.ContentHash,
			"ontology":     meta.Ontology,
			"filename":     meta.Filename,
			"source_type":  meta.SourceType,
			"source_path":  meta.SourcePath,
			"hostname":     meta.Hostname,
			"ingested_at":  meta.IngestedAt,
			"ingested_by":  meta.IngestedBy,
			"job_id":       meta.JobID,
			"source_count": int64(meta.SourceCount),
		}); err != nil {
			return nil, err
		}

		return nil, runConsume(ctx, tx, `
MATCH (d:DocumentMeta {content_hash: $hash, ontology: $ontology})
MATCH (s:Source {content_hash: $hash, document: $ontology})
MERGE (d)-[:HAS_SOURCE]->(s)
`, map[string]any{"hash": meta.ContentHash, "ontology": meta.Ontology})
	})
	return err
}

// DeleteDocument runs the ownership cascade: the document's Sources and
// their Instances go, then any Concept left without an APPEARS_IN edge.
func (s *Store) DeleteDocument(ctx context.Context, contentHash, ontology string) error {
	session := s.client.Session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := runConsume(ctx, tx, `
MATCH (d:DocumentMeta {content_hash: $hash, ontology: $ontology})
OPTIONAL MATCH (d)-[:HAS_SOURCE]->(s:Source)
OPTIONAL MATCH (i:Instance)-[:FROM_SOURCE]->(s)
DETACH DELETE i, s, d
`, map[string]any{"hash": contentHash, "ontology": ontology}); err != nil {
			return nil, err
		}

		// Orphan-concept GC.
		return nil, runConsume(ctx, tx, `
MATCH (c:Concept)
WHERE NOT (c)-[:APPEARS_IN]->(:Source)
DETACH DELETE c
`, nil)
	})
	return err
}
