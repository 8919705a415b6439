package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knowgraph/knowgraph-backend/internal/graph"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	apperr "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
	"github.com/knowgraph/knowgraph-backend/internal/platform/openai"
	"github.com/knowgraph/knowgraph-backend/internal/utils"
)

// Extractor decomposes one chunk of text into concepts, relationships
// and evidence quotes.
type Extractor interface {
	// ExtractChunk returns the parsed result, total token usage across
	// attempts, and the number of retries consumed.
	ExtractChunk(ctx context.Context, chunkText string, recent []graph.ConceptContext, vocabNames []string) (*ExtractionResult, openai.Usage, int, error)
}

type extractor struct {
	client     openai.Client
	log        *logger.Logger
	maxRetries int
}

func NewExtractor(client openai.Client, log *logger.Logger) (Extractor, error) {
	if client == nil {
		return nil, fmt.Errorf("extraction: openai client required")
	}
	lg := log.With("service", "Extractor")
	return &extractor{
		client:     client,
		log:        lg,
		maxRetries: utils.GetEnvAsInt("MAX_LLM_RETRIES", 3, lg),
	}, nil
}

func (e *extractor) ExtractChunk(ctx context.Context, chunkText string, recent []graph.ConceptContext, vocabNames []string) (*ExtractionResult, openai.Usage, int, error) {
	user := buildUserPrompt(chunkText, recent)
	var total openai.Usage

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		system := buildSystemPrompt(vocabNames, attempt, lastErr)
		raw, usage, err := e.client.GenerateJSON(ctx, system, user, "chunk_extraction", resultSchema())
		total.InputTokens += usage.InputTokens
		total.OutputTokens += usage.OutputTokens
		if err != nil {
			// Transport errors are not parse failures; the caller's
			// retry budget handles those.
			return nil, total, attempt, err
		}

		result, err := parseResult(raw)
		if err == nil {
			return result, total, attempt, nil
		}
		lastErr = err
		e.log.Warn("extraction output rejected", "attempt", attempt, "error", err)
	}
	return nil, total, e.maxRetries, fmt.Errorf("%w: %v", apperr.ErrLLMParse, lastErr)
}

func buildSystemPrompt(vocabNames []string, attempt int, lastErr error) string {
	var b strings.Builder
	b.WriteString("You decompose a document chunk into a knowledge graph fragment. ")
	b.WriteString("Extract the distinct concepts the text discusses, the directed relationships between them, and verbatim supporting quotes.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Give every concept a short local_id unique within this response.\n")
	b.WriteString("- search_terms are alternative phrasings a reader might use for the concept.\n")
	b.WriteString("- Quotes must be copied verbatim from the chunk text, unmodified.\n")
	b.WriteString("- Relationship endpoints are local_ids from this response, or concept_id values from the known-concepts list.\n")
	b.WriteString("- Prefer relationship types from this vocabulary: ")
	b.WriteString(strings.Join(vocabNames, ", "))
	b.WriteString(".\n- confidence is your belief in the relationship, between 0 and 1.\n")

	if attempt > 0 {
		b.WriteString("\nYour previous response was invalid")
		if lastErr != nil {
			b.WriteString(": ")
			b.WriteString(lastErr.Error())
		}
		b.WriteString(". Respond with ONLY a JSON object that satisfies the schema exactly. Every quote_id in evidence must be referenced by a concept, every relationship endpoint must resolve, and all required fields must be present.")
	}
	if attempt > 1 {
		b.WriteString(" If you are unsure about a concept or relationship, omit it entirely rather than emitting partial fields.")
	}
	return b.String()
}

func buildUserPrompt(chunkText string, recent []graph.ConceptContext) string {
	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("Known concepts from earlier in this document (reuse their concept_id as a relationship endpoint when the chunk refers to them):\n")
		ctxJSON, _ := json.Marshal(recent)
		b.Write(ctxJSON)
		b.WriteString("\n\n")
	}
	b.WriteString("Chunk text:\n")
	b.WriteString(chunkText)
	return b.String()
}

func resultSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"concepts", "relationships", "evidence"},
		"properties": map[string]any{
			"concepts": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"local_id", "label", "search_terms", "quote_ids"},
					"properties": map[string]any{
						"local_id":     map[string]any{"type": "string"},
						"label":        map[string]any{"type": "string"},
						"search_terms": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"quote_ids":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
			},
			"relationships": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"from", "to", "type", "confidence"},
					"properties": map[string]any{
						"from":       map[string]any{"type": "string"},
						"to":         map[string]any{"type": "string"},
						"type":       map[string]any{"type": "string"},
						"confidence": map[string]any{"type": "number"},
					},
				},
			},
			"evidence": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"quote_id", "quote", "concept_local_id"},
					"properties": map[string]any{
						"quote_id":         map[string]any{"type": "string"},
						"quote":            map[string]any{"type": "string"},
						"concept_local_id": map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

// parseResult decodes and validates one model response. Validation is
// local and structural; verbatim-quote and endpoint-resolution checks
// belong to the engine, which has the chunk and the graph.
func parseResult(raw []byte) (*ExtractionResult, error) {
	var res ExtractionResult
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	localIDs := make(map[string]bool, len(res.Concepts))
	for i, c := range res.Concepts {
		if strings.TrimSpace(c.LocalID) == "" {
			return nil, fmt.Errorf("concept %d missing local_id", i)
		}
		if strings.TrimSpace(c.Label) == "" {
			return nil, fmt.Errorf("concept %q missing label", c.LocalID)
		}
		if localIDs[c.LocalID] {
			return nil, fmt.Errorf("duplicate local_id %q", c.LocalID)
		}
		localIDs[c.LocalID] = true
	}

	quoteIDs := make(map[string]bool, len(res.Evidence))
	for i, ev := range res.Evidence {
		if strings.TrimSpace(ev.QuoteID) == "" {
			return nil, fmt.Errorf("evidence %d missing quote_id", i)
		}
		if quoteIDs[ev.QuoteID] {
			return nil, fmt.Errorf("duplicate quote_id %q", ev.QuoteID)
		}
		if strings.TrimSpace(ev.Quote) == "" {
			return nil, fmt.Errorf("evidence %q has empty quote", ev.QuoteID)
		}
		if !localIDs[ev.ConceptLocalID] {
			return nil, fmt.Errorf("evidence %q references unknown concept %q", ev.QuoteID, ev.ConceptLocalID)
		}
		quoteIDs[ev.QuoteID] = true
	}

	for _, c := range res.Concepts {
		for _, qid := range c.QuoteIDs {
			if !quoteIDs[qid] {
				return nil, fmt.Errorf("concept %q references unknown quote_id %q", c.LocalID, qid)
			}
		}
	}

	for i, r := range res.Relationships {
		if strings.TrimSpace(r.From) == "" || strings.TrimSpace(r.To) == "" {
			return nil, fmt.Errorf("relationship %d missing endpoint", i)
		}
		if strings.TrimSpace(r.Type) == "" {
			return nil, fmt.Errorf("relationship %d missing type", i)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("relationship %d confidence %v out of range", i, r.Confidence)
		}
	}
	return &res, nil
}
