package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EmbeddingConfig is the vector-space registration. Exactly one row is
// active at a time; the active row is protected after every change.
type EmbeddingConfig struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Provider        string         `gorm:"type:text;not null" json:"provider"`
	Model           string         `gorm:"type:text;not null" json:"model"`
	Dimension       int            `gorm:"not null" json:"dimension"`
	Extras          datatypes.JSON `gorm:"type:jsonb" json:"extras,omitempty"`
	Active          bool           `gorm:"not null;default:false;index" json:"active"`
	ChangeProtected bool           `gorm:"not null;default:false" json:"change_protected"`
	DeleteProtected bool           `gorm:"not null;default:false" json:"delete_protected"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (EmbeddingConfig) TableName() string { return "embedding_configs" }
