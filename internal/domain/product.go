package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// EmbeddingDim is the fixed output dimension of the embedding model
// (text-embedding-3-small). The vector column and every gateway response
// are checked against it.
const EmbeddingDim = 1536

// Product is one catalog entry from one platform, reduced to the
// platform-agnostic shape the matching core operates on. Everything
// platform-specific rides along opaquely in PlatformAttributes.
type Product struct {
	ID                uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Platform          Platform  `gorm:"column:platform;type:text;not null;uniqueIndex:ux_product_platform_native,priority:1" json:"platform"`
	PlatformProductID string    `gorm:"column:platform_product_id;not null;uniqueIndex:ux_product_platform_native,priority:2" json:"platform_product_id"`

	DisplayName         string  `gorm:"column:display_name;type:text;not null" json:"display_name"`
	NameNormalized      string  `gorm:"column:name_normalized;type:text;not null;index" json:"name_normalized"`
	StyleCodeRaw        *string `gorm:"column:style_code_raw" json:"style_code_raw,omitempty"`
	StyleCodeNormalized *string `gorm:"column:style_code_normalized;index" json:"style_code_normalized,omitempty"`

	PlatformAttributes datatypes.JSON `gorm:"column:platform_attributes;type:jsonb" json:"platform_attributes,omitempty"`

	// Embedding and EmbeddingSourceText are written together, atomically:
	// the vector is only ever valid for the exact text that produced it.
	Embedding           *pgvector.Vector `gorm:"column:embedding;type:vector(1536)" json:"-"`
	EmbeddingSourceText *string          `gorm:"column:embedding_source_text;type:text" json:"embedding_source_text,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Product) TableName() string { return "product" }

// HasEmbedding reports whether the vector/source-text pair is present.
func (p *Product) HasEmbedding() bool {
	return p.Embedding != nil && p.EmbeddingSourceText != nil && *p.EmbeddingSourceText != ""
}

// Candidate is one nearest-neighbour retrieval hit against the canonical
// platform's catalog.
type Candidate struct {
	ProductID  uuid.UUID
	Similarity float64
}
