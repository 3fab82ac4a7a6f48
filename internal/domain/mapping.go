package domain

import (
	"time"

	"github.com/google/uuid"
)

// MappingMethod records how a mapping was derived. Methods are ordered by
// trust; Rank is the ordering the resolver's upgrade rule compares.
type MappingMethod string

const (
	MethodManual              MappingMethod = "manual"
	MethodStyleIDMatch        MappingMethod = "style_id_match"
	MethodEmbeddingSimilarity MappingMethod = "embedding_similarity"
	MethodNameMatch           MappingMethod = "name_match"
)

// ManualConfidence is the fixed confidence of a manual mapping: a human
// decision is authoritative, not a probabilistic estimate.
const ManualConfidence = 1.0

func (m MappingMethod) Valid() bool {
	switch m {
	case MethodManual, MethodStyleIDMatch, MethodEmbeddingSimilarity, MethodNameMatch:
		return true
	}
	return false
}

// Rank orders methods by trust. Manual outranks everything so that no
// automated pass can overwrite it.
func (m MappingMethod) Rank() int {
	switch m {
	case MethodManual:
		return 4
	case MethodStyleIDMatch:
		return 3
	case MethodEmbeddingSimilarity:
		return 2
	case MethodNameMatch:
		return 1
	default:
		return 0
	}
}

// ProductMapping is a directed edge from a non-canonical product to its
// canonical counterpart. At most one row exists per source product,
// enforced by the unique index on source_product_id.
type ProductMapping struct {
	ID              int64         `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SourceProductID uuid.UUID     `gorm:"type:uuid;column:source_product_id;not null;uniqueIndex:ux_mapping_source" json:"source_product_id"`
	TargetProductID uuid.UUID     `gorm:"type:uuid;column:target_product_id;not null;index" json:"target_product_id"`
	Confidence      float64       `gorm:"column:confidence;not null" json:"confidence"`
	Method          MappingMethod `gorm:"column:method;type:text;not null" json:"method"`

	// IsDefaultAlias marks the elected best source mapping per canonical
	// product, used by downstream price lookups.
	IsDefaultAlias bool `gorm:"column:is_default_alias;not null;default:false" json:"is_default_alias"`

	CreatedBy string    `gorm:"column:created_by;not null" json:"created_by"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ProductMapping) TableName() string { return "product_mapping" }
