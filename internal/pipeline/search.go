package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/flipsyde/catalogsync/internal/domain"
	"github.com/flipsyde/catalogsync/internal/normalize"
)

type SearchResult struct {
	Product    *domain.Product
	Similarity float64
}

// Search embeds a free-text query and returns the nearest products by
// cosine similarity, best first. A nil platform searches every platform;
// minSimilarity <= 0 applies no floor, since weak hits are still
// informative when ranked.
func (s *Service) Search(ctx context.Context, query string, platform *domain.Platform, limit int, minSimilarity float64) ([]SearchResult, error) {
	norm := normalize.Name(query)
	if norm == "" {
		return nil, &domain.ValidationError{Field: "query", Reason: "required"}
	}
	if limit < 1 {
		limit = 10
	}
	if minSimilarity <= 0 {
		minSimilarity = -1
	}

	res := s.gateway.EmbedBatch(ctx, []string{norm})
	if res[0].Err != nil {
		return nil, res[0].Err
	}

	candidates, err := s.products.FindNearest(ctx, res[0].Vector, platform, minSimilarity, limit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ProductID
	}
	products, err := s.products.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	out := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if p, ok := byID[c.ProductID]; ok {
			out = append(out, SearchResult{Product: p, Similarity: c.Similarity})
		}
	}
	return out, nil
}
