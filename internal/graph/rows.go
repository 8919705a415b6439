package graph

// Typed rows for everything that crosses the Neo4j boundary. Driver
// records are mapped into these at the adapter; untyped maps never leave
// this package.

// ConceptRow is a Concept node. Embedding length must equal the active
// embedding configuration's dimension.
type ConceptRow struct {
	ID          string
	Label       string
	SearchTerms []string
	Embedding   []float32
}

// ConceptLink merges extracted search terms into an existing Concept.
type ConceptLink struct {
	ConceptID   string
	SearchTerms []string
}

// SourceRow is one chunk of a document.
type SourceRow struct {
	ID              string
	Document        string
	FilePath        string
	FullText        string
	Paragraph       int
	ChunkIndex      int
	CharOffsetStart int
	CharOffsetEnd   int
	LineStart       int
	LineEnd         int
	OverlapChars    int
	ChunkMethod     string
	ContentHash     string
	StorageKey      string
}

// InstanceRow is a verbatim quote binding a concept to a source.
type InstanceRow struct {
	ID        string
	Quote     string
	ConceptID string
	SourceID  string
}

// EdgeRow is a semantic edge between two concepts. Type must be a
// registered VocabType name. Category is a denormalized copy; the
// VocabType node stays authoritative.
type EdgeRow struct {
	FromID     string
	ToID       string
	Type       string
	Category   string
	Confidence float64
}

// ChunkUpsert is everything one chunk commits atomically.
type ChunkUpsert struct {
	Source         SourceRow
	NewConcepts    []ConceptRow
	LinkedConcepts []ConceptLink
	AppearsIn      []string
	Instances      []InstanceRow
	Edges          []EdgeRow
}

// DocumentMetaRow anchors dedup and owns Sources.
type DocumentMetaRow struct {
	DocumentID   string
	ContentHash  string
	Ontology     string
	Filename     string
	SourceType   string
	SourcePath   string
	Hostname     string
	IngestedAt   string
	IngestedBy   string
	JobID        string
	SourceCount  int
	Version      int
	Supersedes   string
	SupersededBy string
}

// Match is one vector-search hit.
type Match struct {
	ConceptID  string
	Similarity float64
	Degree     int
}

// ConceptContext is the recent-concept context injected into extraction.
type ConceptContext struct {
	ConceptID   string   `json:"concept_id"`
	Label       string   `json:"label"`
	SearchTerms []string `json:"search_terms"`
}

// SemanticEdge is one typed edge in a concept-details result.
type SemanticEdge struct {
	Direction  string  `json:"direction"`
	Type       string  `json:"type"`
	Category   string  `json:"category,omitempty"`
	OtherID    string  `json:"other_id"`
	OtherLabel string  `json:"other_label"`
	Confidence float64 `json:"confidence"`
}

// Evidence is one quote with its source reference.
type Evidence struct {
	InstanceID string `json:"instance_id"`
	Quote      string `json:"quote"`
	SourceID   string `json:"source_id"`
	Document   string `json:"document"`
	FilePath   string `json:"file_path"`
	ChunkIndex int    `json:"chunk_index"`
}

// ConceptDetails is the full record for one concept.
type ConceptDetails struct {
	ConceptID   string         `json:"concept_id"`
	Label       string         `json:"label"`
	SearchTerms []string       `json:"search_terms"`
	Edges       []SemanticEdge `json:"edges"`
	Evidence    []Evidence     `json:"evidence"`
	OntologySet []string       `json:"ontology_set"`
}

// PathResult is a find-connection result. Empty NodeIDs means no path
// within the hop bound.
type PathResult struct {
	Nodes           []PathNode `json:"nodes"`
	EdgeTypes       []string   `json:"edge_types"`
	TotalConfidence float64    `json:"total_confidence"`
}

type PathNode struct {
	ConceptID string `json:"concept_id"`
	Label     string `json:"label"`
}

// RelatedConcept is one BFS neighbour grouped by minimum distance.
type RelatedConcept struct {
	ConceptID string `json:"concept_id"`
	Label     string `json:"label"`
	Distance  int    `json:"distance"`
}

// structuralEdgeTypes are the provenance-chain edges; traversal and
// degree-for-matching treat everything else as semantic.
var structuralEdgeTypes = []string{"APPEARS_IN", "EVIDENCED_BY", "FROM_SOURCE", "HAS_SOURCE"}
