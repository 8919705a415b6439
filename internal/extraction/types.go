package extraction

// ExtractedConcept is one concept the model found in a chunk. LocalID is
// scoped to the chunk and only used to wire relationships and evidence.
type ExtractedConcept struct {
	LocalID     string   `json:"local_id"`
	Label       string   `json:"label"`
	SearchTerms []string `json:"search_terms"`
	QuoteIDs    []string `json:"quote_ids"`
}

// ExtractedRelationship is one directed edge between local or known
// concept ids. Type is free text here; the vocabulary normalizes it.
type ExtractedRelationship struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// ExtractedEvidence is a quote the model claims appears verbatim in the
// chunk. The engine re-verifies with a substring check before storing.
type ExtractedEvidence struct {
	QuoteID        string `json:"quote_id"`
	Quote          string `json:"quote"`
	ConceptLocalID string `json:"concept_local_id"`
}

// ExtractionResult is the full structured output for one chunk.
type ExtractionResult struct {
	Concepts      []ExtractedConcept      `json:"concepts"`
	Relationships []ExtractedRelationship `json:"relationships"`
	Evidence      []ExtractedEvidence     `json:"evidence"`
}
