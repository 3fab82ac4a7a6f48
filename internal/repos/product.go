package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flipsyde/catalogsync/internal/domain"
	"github.com/flipsyde/catalogsync/internal/platform/logger"
)

type ProductRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, products []*domain.Product) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Product, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*domain.Product, error)
	GetByPlatformID(ctx context.Context, tx *gorm.DB, platform domain.Platform, platformProductID string) (*domain.Product, error)

	// ClearEmbedding drops the vector/source-text pair together, for cache
	// invalidation when the underlying name or style code changed.
	ClearEmbedding(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	// UpdateEmbedding writes the vector/source-text pair together, atomically.
	UpdateEmbedding(ctx context.Context, tx *gorm.DB, id uuid.UUID, vec []float32, sourceText string) error

	ListMissingEmbeddings(ctx context.Context, platform *domain.Platform, limit, offset int) ([]*domain.Product, error)
	ListEmbedded(ctx context.Context, limit, offset int) ([]*domain.Product, error)
	ListSources(ctx context.Context, platform domain.Platform, onlyUnmapped bool, limit, offset int) ([]*domain.Product, error)

	FindByNormalizedStyle(ctx context.Context, platform domain.Platform, styleCode string) ([]*domain.Product, error)
	FindByNormalizedName(ctx context.Context, platform domain.Platform, nameNormalized string) ([]*domain.Product, error)
	FindNearest(ctx context.Context, query []float32, platform *domain.Platform, minSimilarity float64, limit int) ([]domain.Candidate, error)

	CountByPlatform(ctx context.Context, platform domain.Platform) (int64, error)
	CountMissingEmbeddings(ctx context.Context, platform *domain.Platform) (int64, error)
}

type productRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return &productRepo{db: db, log: baseLog.With("repo", "ProductRepo")}
}

func (r *productRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *productRepo) Upsert(ctx context.Context, tx *gorm.DB, products []*domain.Product) error {
	if len(products) == 0 {
		return nil
	}

	const batchSize = 200
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "platform"}, {Name: "platform_product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name",
			"name_normalized",
			"style_code_raw",
			"style_code_normalized",
			"platform_attributes",
			"updated_at",
		}),
	}).CreateInBatches(products, batchSize).Error
}

func (r *productRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Product, error) {
	var p domain.Product
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []*domain.Product
	if err := r.conn(tx).WithContext(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) GetByPlatformID(ctx context.Context, tx *gorm.DB, platform domain.Platform, platformProductID string) (*domain.Product, error) {
	var p domain.Product
	err := r.conn(tx).WithContext(ctx).
		Where("platform = ? AND platform_product_id = ?", platform, platformProductID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) ClearEmbedding(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).Model(&domain.Product{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"embedding":             nil,
			"embedding_source_text": nil,
		}).Error
}

func (r *productRepo) UpdateEmbedding(ctx context.Context, tx *gorm.DB, id uuid.UUID, vec []float32, sourceText string) error {
	v := pgvector.NewVector(vec)
	return r.conn(tx).WithContext(ctx).Model(&domain.Product{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"embedding":             v,
			"embedding_source_text": sourceText,
		}).Error
}

func (r *productRepo) ListMissingEmbeddings(ctx context.Context, platform *domain.Platform, limit, offset int) ([]*domain.Product, error) {
	q := r.db.WithContext(ctx).Where("embedding IS NULL")
	if platform != nil {
		q = q.Where("platform = ?", *platform)
	}
	var out []*domain.Product
	if err := q.Order("created_at, id").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) ListEmbedded(ctx context.Context, limit, offset int) ([]*domain.Product, error) {
	var out []*domain.Product
	err := r.db.WithContext(ctx).
		Where("embedding IS NOT NULL").
		Order("created_at, id").
		Limit(limit).Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) ListSources(ctx context.Context, platform domain.Platform, onlyUnmapped bool, limit, offset int) ([]*domain.Product, error) {
	q := r.db.WithContext(ctx).Where("platform = ?", platform)
	if onlyUnmapped {
		q = q.Where("NOT EXISTS (SELECT 1 FROM product_mapping pm WHERE pm.source_product_id = product.id)")
	}
	var out []*domain.Product
	if err := q.Order("created_at, id").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) FindByNormalizedStyle(ctx context.Context, platform domain.Platform, styleCode string) ([]*domain.Product, error) {
	var out []*domain.Product
	err := r.db.WithContext(ctx).
		Where("platform = ? AND style_code_normalized = ?", platform, styleCode).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) FindByNormalizedName(ctx context.Context, platform domain.Platform, nameNormalized string) ([]*domain.Product, error) {
	var out []*domain.Product
	err := r.db.WithContext(ctx).
		Where("platform = ? AND name_normalized = ?", platform, nameNormalized).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindNearest runs the cosine nearest-neighbour query against embedded
// products, optionally restricted to one platform. Similarity is
// 1 - cosine distance; ties break on id so results are stable across runs.
func (r *productRepo) FindNearest(ctx context.Context, query []float32, platform *domain.Platform, minSimilarity float64, limit int) ([]domain.Candidate, error) {
	if len(query) == 0 {
		return nil, &domain.ValidationError{Field: "query_vector", Reason: "query vector required"}
	}
	if limit < 1 {
		limit = 1
	}

	qv := pgvector.NewVector(query)
	var rows []struct {
		ProductID  uuid.UUID `gorm:"column:product_id"`
		Similarity float64   `gorm:"column:similarity"`
	}

	sql := `
		SELECT id AS product_id,
		       1 - (embedding <=> ?) AS similarity
		FROM product
		WHERE embedding IS NOT NULL
		  AND 1 - (embedding <=> ?) > ?`
	args := []interface{}{qv, qv, minSimilarity}
	if platform != nil {
		sql += `
		  AND platform = ?`
		args = append(args, *platform)
	}
	sql += `
		ORDER BY similarity DESC, id ASC
		LIMIT ?`
	args = append(args, limit)

	if err := r.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Candidate{ProductID: row.ProductID, Similarity: row.Similarity})
	}
	return out, nil
}

func (r *productRepo) CountByPlatform(ctx context.Context, platform domain.Platform) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Product{}).Where("platform = ?", platform).Count(&n).Error
	return n, err
}

func (r *productRepo) CountMissingEmbeddings(ctx context.Context, platform *domain.Platform) (int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.Product{}).Where("embedding IS NULL")
	if platform != nil {
		q = q.Where("platform = ?", *platform)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}
