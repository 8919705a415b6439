package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/knowgraph/knowgraph-backend/internal/graph"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	apperr "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
	"github.com/knowgraph/knowgraph-backend/internal/platform/openai"
)

type scriptedClient struct {
	responses [][]byte
	systems   []string
	call      int
}

func (s *scriptedClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) ([]byte, openai.Usage, error) {
	s.systems = append(s.systems, system)
	if s.call >= len(s.responses) {
		return nil, openai.Usage{}, errors.New("script exhausted")
	}
	raw := s.responses[s.call]
	s.call++
	return raw, openai.Usage{InputTokens: 100, OutputTokens: 50}, nil
}

func (s *scriptedClient) Embed(ctx context.Context, inputs []string) ([][]float32, openai.Usage, error) {
	return nil, openai.Usage{}, errors.New("not used")
}
func (s *scriptedClient) EmbedModel() string { return "text-embedding-3-small" }
func (s *scriptedClient) Model() string      { return "gpt-4o-mini" }

const validResponse = `{
  "concepts": [
    {"local_id": "c1", "label": "entropy", "search_terms": ["disorder"], "quote_ids": ["q1"]},
    {"local_id": "c2", "label": "heat death", "search_terms": [], "quote_ids": []}
  ],
  "relationships": [
    {"from": "c1", "to": "c2", "type": "CAUSES", "confidence": 0.9}
  ],
  "evidence": [
    {"quote_id": "q1", "quote": "entropy always increases", "concept_local_id": "c1"}
  ]
}`

func newExtractor(t *testing.T, client openai.Client) Extractor {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Setenv("MAX_LLM_RETRIES", "2")
	ex, err := NewExtractor(client, log)
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	return ex
}

func TestExtractChunkParsesValidResponse(t *testing.T) {
	client := &scriptedClient{responses: [][]byte{[]byte(validResponse)}}
	ex := newExtractor(t, client)

	res, usage, retries, err := ex.ExtractChunk(context.Background(), "entropy always increases", nil, []string{"CAUSES"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if retries != 0 {
		t.Fatalf("retries: want=0 got=%d", retries)
	}
	if usage.Total() != 150 {
		t.Fatalf("usage: want=150 got=%d", usage.Total())
	}
	if len(res.Concepts) != 2 || res.Concepts[0].Label != "entropy" {
		t.Fatalf("concepts: got %+v", res.Concepts)
	}
	if len(res.Relationships) != 1 || res.Relationships[0].Type != "CAUSES" {
		t.Fatalf("relationships: got %+v", res.Relationships)
	}
}

func TestExtractChunkRetriesOnInvalidThenSucceeds(t *testing.T) {
	client := &scriptedClient{responses: [][]byte{
		[]byte(`{"concepts": [{"local_id": "", "label": "x", "search_terms": [], "quote_ids": []}], "relationships": [], "evidence": []}`),
		[]byte(validResponse),
	}}
	ex := newExtractor(t, client)

	res, usage, retries, err := ex.ExtractChunk(context.Background(), "text", nil, []string{"CAUSES"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if retries != 1 {
		t.Fatalf("retries: want=1 got=%d", retries)
	}
	if usage.Total() != 300 {
		t.Fatalf("usage accumulates across attempts: want=300 got=%d", usage.Total())
	}
	if len(res.Concepts) != 2 {
		t.Fatalf("concepts: got %+v", res.Concepts)
	}
	// Retry prompts escalate strictness.
	if len(client.systems) != 2 || client.systems[0] == client.systems[1] {
		t.Fatalf("retry must use a stricter system prompt")
	}
}

func TestExtractChunkExhaustsRetries(t *testing.T) {
	bad := []byte(`not json at all`)
	client := &scriptedClient{responses: [][]byte{bad, bad, bad}}
	ex := newExtractor(t, client)

	_, _, retries, err := ex.ExtractChunk(context.Background(), "text", nil, nil)
	if !errors.Is(err, apperr.ErrLLMParse) {
		t.Fatalf("want ErrLLMParse, got %v", err)
	}
	if retries != 2 {
		t.Fatalf("retries: want=2 got=%d", retries)
	}
}

func TestParseResultValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"duplicate local_id", `{"concepts":[{"local_id":"a","label":"x","search_terms":[],"quote_ids":[]},{"local_id":"a","label":"y","search_terms":[],"quote_ids":[]}],"relationships":[],"evidence":[]}`},
		{"evidence unknown concept", `{"concepts":[],"relationships":[],"evidence":[{"quote_id":"q1","quote":"z","concept_local_id":"missing"}]}`},
		{"concept unknown quote", `{"concepts":[{"local_id":"a","label":"x","search_terms":[],"quote_ids":["nope"]}],"relationships":[],"evidence":[]}`},
		{"confidence out of range", `{"concepts":[{"local_id":"a","label":"x","search_terms":[],"quote_ids":[]}],"relationships":[{"from":"a","to":"a","type":"CAUSES","confidence":1.5}],"evidence":[]}`},
		{"unknown field", `{"concepts":[],"relationships":[],"evidence":[],"extra":1}`},
	}
	for _, c := range cases {
		if _, err := parseResult([]byte(c.raw)); err == nil {
			t.Fatalf("%s: must be rejected", c.name)
		}
	}

	if _, err := parseResult([]byte(validResponse)); err != nil {
		t.Fatalf("valid response rejected: %v", err)
	}
}

func TestBuildUserPromptIncludesRecentConcepts(t *testing.T) {
	recent := []graph.ConceptContext{{ConceptID: "phys_abc123", Label: "entropy"}}
	p := buildUserPrompt("chunk body", recent)
	for _, want := range []string{"phys_abc123", "entropy", "chunk body"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}
