package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flipsyde/catalogsync/internal/domain"
	"github.com/flipsyde/catalogsync/internal/platform/logger"
)

// MethodStats is the per-method slice of the mapping report.
type MethodStats struct {
	Method        domain.MappingMethod `gorm:"column:method"`
	Count         int64                `gorm:"column:count"`
	AvgConfidence float64              `gorm:"column:avg_confidence"`
}

type MappingStats struct {
	Total          int64
	ByMethod       []MethodStats
	UnmappedSource int64
}

type ProductMappingRepo interface {
	GetBySourceID(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (*domain.ProductMapping, error)
	// GetBySourceIDForUpdate takes a row lock so concurrent resolutions of
	// the same source product serialize on read-decide-write.
	GetBySourceIDForUpdate(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (*domain.ProductMapping, error)
	Upsert(ctx context.Context, tx *gorm.DB, m *domain.ProductMapping) error
	// Transaction runs fn in a single store transaction.
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	Stats(ctx context.Context, sourcePlatform domain.Platform) (*MappingStats, error)
	ElectDefaultAliases(ctx context.Context) (int64, error)
}

type productMappingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductMappingRepo(db *gorm.DB, baseLog *logger.Logger) ProductMappingRepo {
	return &productMappingRepo{db: db, log: baseLog.With("repo", "ProductMappingRepo")}
}

func (r *productMappingRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *productMappingRepo) getBySourceID(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, lock bool) (*domain.ProductMapping, error) {
	q := r.conn(tx).WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m domain.ProductMapping
	err := q.Where("source_product_id = ?", sourceID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *productMappingRepo) GetBySourceID(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (*domain.ProductMapping, error) {
	return r.getBySourceID(ctx, tx, sourceID, false)
}

func (r *productMappingRepo) GetBySourceIDForUpdate(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (*domain.ProductMapping, error) {
	return r.getBySourceID(ctx, tx, sourceID, true)
}

// Upsert inserts or replaces the single mapping row for m.SourceProductID.
// The unique index on source_product_id makes the write atomic; the caller
// (the resolver) is responsible for having applied the upgrade rule first.
func (r *productMappingRepo) Upsert(ctx context.Context, tx *gorm.DB, m *domain.ProductMapping) error {
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"target_product_id",
			"confidence",
			"method",
			"created_by",
			"updated_at",
		}),
	}).Create(m).Error
}

func (r *productMappingRepo) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func (r *productMappingRepo) Stats(ctx context.Context, sourcePlatform domain.Platform) (*MappingStats, error) {
	out := &MappingStats{}

	if err := r.db.WithContext(ctx).Model(&domain.ProductMapping{}).Count(&out.Total).Error; err != nil {
		return nil, err
	}

	err := r.db.WithContext(ctx).Model(&domain.ProductMapping{}).
		Select("method, COUNT(*) AS count, AVG(confidence) AS avg_confidence").
		Group("method").
		Order("count DESC").
		Scan(&out.ByMethod).Error
	if err != nil {
		return nil, err
	}

	err = r.db.WithContext(ctx).Model(&domain.Product{}).
		Where("platform = ?", sourcePlatform).
		Where("NOT EXISTS (SELECT 1 FROM product_mapping pm WHERE pm.source_product_id = product.id)").
		Count(&out.UnmappedSource).Error
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ElectDefaultAliases picks, per canonical product, the highest-confidence
// mapping (lowest id on ties) as the default alias for price lookups.
// Re-running after new mappings land re-elects from scratch.
func (r *productMappingRepo) ElectDefaultAliases(ctx context.Context) (int64, error) {
	var elected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`UPDATE product_mapping SET is_default_alias = FALSE WHERE is_default_alias`).Error; err != nil {
			return err
		}
		res := tx.Exec(`
			WITH ranked AS (
				SELECT id,
				       ROW_NUMBER() OVER (
				           PARTITION BY target_product_id
				           ORDER BY confidence DESC, id ASC
				       ) AS rank
				FROM product_mapping
			)
			UPDATE product_mapping
			SET is_default_alias = TRUE
			WHERE id IN (SELECT id FROM ranked WHERE rank = 1)
		`)
		if res.Error != nil {
			return res.Error
		}
		elected = res.RowsAffected
		return nil
	})
	return elected, err
}
