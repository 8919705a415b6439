package types

import (
	"time"

	"github.com/google/uuid"
)

// Matching strategies for the concept vector search.
const (
	MatchStrategyExhaustive   = "exhaustive"
	MatchStrategyDegreeOnly   = "degree_only"
	MatchStrategyDegreeBiased = "degree_biased"
)

// ConceptMatchConfig drives merge-vs-create decisions. One active row;
// an ingestion job caches it for its whole run.
type ConceptMatchConfig struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Strategy            string    `gorm:"type:text;not null" json:"strategy"`
	SimilarityThreshold float64   `gorm:"not null" json:"similarity_threshold"`
	TopK                int       `gorm:"not null" json:"top_k"`
	DegreePercentile    float64   `gorm:"not null" json:"degree_percentile"`
	Active              bool      `gorm:"not null;default:false;index" json:"active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (ConceptMatchConfig) TableName() string { return "concept_match_configs" }

// DefaultConceptMatchConfig matches the documented defaults.
func DefaultConceptMatchConfig() ConceptMatchConfig {
	return ConceptMatchConfig{
		ID:                  uuid.New(),
		Strategy:            MatchStrategyExhaustive,
		SimilarityThreshold: 0.85,
		TopK:                5,
		DegreePercentile:    0.75,
		Active:              true,
	}
}
