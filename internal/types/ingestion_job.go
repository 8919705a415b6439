package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job status values. Terminal states are completed, failed, cancelled.
const (
	JobStatusPending          = "pending"
	JobStatusAwaitingApproval = "awaiting_approval"
	JobStatusApproved         = "approved"
	JobStatusProcessing       = "processing"
	JobStatusCompleted        = "completed"
	JobStatusFailed           = "failed"
	JobStatusCancelled        = "cancelled"
)

const JobTypeIngestDocument = "ingest_document"

// ActiveJobStatuses are the states that count for content-hash dedup.
var ActiveJobStatuses = []string{
	JobStatusPending,
	JobStatusAwaitingApproval,
	JobStatusApproved,
	JobStatusProcessing,
}

type IngestionJob struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobType         string         `gorm:"type:text;not null" json:"job_type"`
	Status          string         `gorm:"type:text;not null;index:idx_jobs_status_created,priority:1;index:idx_jobs_dedup,priority:3" json:"status"`
	ContentHash     string         `gorm:"type:text;not null;index:idx_jobs_dedup,priority:1" json:"content_hash"`
	Ontology        string         `gorm:"type:text;not null;index:idx_jobs_dedup,priority:2" json:"ontology"`
	Filename        string         `gorm:"type:text" json:"filename"`
	JobData         datatypes.JSON `gorm:"type:jsonb" json:"job_data"`
	Analysis        datatypes.JSON `gorm:"type:jsonb" json:"analysis,omitempty"`
	CancelRequested bool           `gorm:"not null;default:false" json:"cancel_requested"`
	Error           string         `gorm:"type:text" json:"error,omitempty"`
	CreatedAt       time.Time      `gorm:"index:idx_jobs_status_created,priority:2" json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

func (IngestionJob) TableName() string { return "ingestion_jobs" }

// ChunkingParams are the word-window knobs a submission may override.
type ChunkingParams struct {
	TargetWords        int `json:"target_words"`
	MinWords           int `json:"min_words"`
	MaxWords           int `json:"max_words"`
	OverlapWords       int `json:"overlap_words"`
	CheckpointInterval int `json:"checkpoint_interval"`
}

// IngestStats accumulates across chunks and is checkpointed with the job.
type IngestStats struct {
	ChunksProcessed      int `json:"chunks_processed"`
	SourcesCreated       int `json:"sources_created"`
	ConceptsCreated      int `json:"concepts_created"`
	ConceptsLinked       int `json:"concepts_linked"`
	InstancesCreated     int `json:"instances_created"`
	RelationshipsCreated int `json:"relationships_created"`
	EvidenceDropped      int `json:"evidence_dropped"`
	EdgesDropped         int `json:"edges_dropped"`
	TypesRejected        int `json:"types_rejected"`
	RetriesConsumed      int `json:"retries_consumed"`
	ExtractionTokens     int `json:"extraction_tokens"`
	EmbeddingTokens      int `json:"embedding_tokens"`
}

func (s *IngestStats) Add(other IngestStats) {
	s.ChunksProcessed += other.ChunksProcessed
	s.SourcesCreated += other.SourcesCreated
	s.ConceptsCreated += other.ConceptsCreated
	s.ConceptsLinked += other.ConceptsLinked
	s.InstancesCreated += other.InstancesCreated
	s.RelationshipsCreated += other.RelationshipsCreated
	s.EvidenceDropped += other.EvidenceDropped
	s.EdgesDropped += other.EdgesDropped
	s.TypesRejected += other.TypesRejected
	s.RetriesConsumed += other.RetriesConsumed
	s.ExtractionTokens += other.ExtractionTokens
	s.EmbeddingTokens += other.EmbeddingTokens
}

// JobData is the durable per-job payload. ResumeFromChunk is the index of
// the last checkpointed chunk, -1 before any chunk committed.
type JobData struct {
	Ontology         string         `json:"ontology"`
	Filename         string         `json:"filename"`
	ContentHash      string         `json:"content_hash"`
	StorageKey       string         `json:"storage_key"`
	Force            bool           `json:"force"`
	AutoApprove      bool           `json:"auto_approve"`
	ProcessingMode   string         `json:"processing_mode"`
	SourceType       string         `json:"source_type,omitempty"`
	SourcePath       string         `json:"source_path,omitempty"`
	SourceHostname   string         `json:"source_hostname,omitempty"`
	Chunking         ChunkingParams `json:"chunking"`
	WordCount        int            `json:"word_count"`
	ChunksTotal      int            `json:"chunks_total"`
	ResumeFromChunk  int            `json:"resume_from_chunk"`
	Stats            IngestStats    `json:"stats"`
	RecentConceptIDs []string       `json:"recent_concept_ids,omitempty"`
}

// JobAnalysis is the analyzer output stored on the job before approval.
type JobAnalysis struct {
	FileStats      FileStats      `json:"file_stats"`
	CostEstimate   CostEstimate   `json:"cost_estimate"`
	ConfigSnapshot map[string]any `json:"config_snapshot"`
	Warnings       []string       `json:"warnings"`
	AnalyzedAt     time.Time      `json:"analyzed_at"`
}

type FileStats struct {
	SizeBytes         int     `json:"size_bytes"`
	WordCount         int     `json:"word_count"`
	EstimatedChunks   int     `json:"estimated_chunks"`
	EstimatedConcepts [2]int  `json:"estimated_concepts"`
	EstimatedMinutes  float64 `json:"estimated_minutes"`
}

type CostEstimate struct {
	ExtractionTokens [2]int     `json:"extraction_tokens"`
	EmbeddingTokens  int        `json:"embedding_tokens"`
	ExtractionUSD    [2]float64 `json:"extraction_usd"`
	EmbeddingUSD     float64    `json:"embedding_usd"`
	TotalUSD         [2]float64 `json:"total_usd"`
}
