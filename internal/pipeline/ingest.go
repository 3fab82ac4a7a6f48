package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"github.com/flipsyde/catalogsync/internal/domain"
	"github.com/flipsyde/catalogsync/internal/normalize"
)

// IngestRecord is one raw catalog row as pulled from a platform API dump.
type IngestRecord struct {
	Platform          string         `json:"platform"`
	PlatformProductID string         `json:"platform_product_id"`
	DisplayName       string         `json:"display_name"`
	StyleCode         *string        `json:"style_code,omitempty"`
	Attributes        map[string]any `json:"attributes,omitempty"`
}

type IngestReport struct {
	Upserted          int
	Failed            int
	EmbeddingsCleared int
	// Errors holds one entry per failed record, in input order.
	Errors []error
}

// Ingest validates, normalizes and upserts a batch of raw records. A
// malformed record is reported and skipped; the rest of the batch proceeds.
// Re-ingesting the same record updates it in place, and a change to the
// fields that feed the embedding text invalidates the stored vector.
func (s *Service) Ingest(ctx context.Context, records []IngestRecord) (IngestReport, error) {
	report := IngestReport{}

	products := make([]*domain.Product, 0, len(records))
	var invalidate []*domain.Product
	for i, rec := range records {
		p, err := s.toProduct(rec)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("record %d (%s/%s): %w", i, rec.Platform, rec.PlatformProductID, err))
			continue
		}

		existing, err := s.products.GetByPlatformID(ctx, nil, p.Platform, p.PlatformProductID)
		if err != nil {
			return report, err
		}
		if existing != nil {
			p.ID = existing.ID
			if existing.HasEmbedding() && *existing.EmbeddingSourceText != normalize.EmbeddingText(p.DisplayName, p.StyleCodeRaw) {
				invalidate = append(invalidate, existing)
			}
		}
		products = append(products, p)
	}

	if err := s.products.Upsert(ctx, nil, products); err != nil {
		return report, err
	}
	report.Upserted = len(products)

	for _, p := range invalidate {
		if err := s.products.ClearEmbedding(ctx, nil, p.ID); err != nil {
			return report, err
		}
		report.EmbeddingsCleared++
	}
	if report.EmbeddingsCleared > 0 {
		s.log.Info("stale embeddings cleared", "count", report.EmbeddingsCleared)
	}

	if s.cfg.EmbedOnIngest && report.Upserted > 0 {
		for platform := range platformsOf(products) {
			platform := platform
			if _, err := s.GenerateMissingEmbeddings(ctx, &platform); err != nil {
				return report, err
			}
		}
	}

	return report, nil
}

func (s *Service) toProduct(rec IngestRecord) (*domain.Product, error) {
	platform, err := domain.ParsePlatform(rec.Platform)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rec.PlatformProductID) == "" {
		return nil, &domain.ValidationError{Field: "platform_product_id", Reason: "required"}
	}
	name := strings.TrimSpace(rec.DisplayName)
	if name == "" {
		return nil, &domain.ValidationError{Field: "display_name", Reason: "required"}
	}

	p := &domain.Product{
		Platform:            platform,
		PlatformProductID:   strings.TrimSpace(rec.PlatformProductID),
		DisplayName:         name,
		NameNormalized:      normalize.Name(name),
		StyleCodeRaw:        rec.StyleCode,
		StyleCodeNormalized: normalize.StyleCode(rec.StyleCode),
	}
	if len(rec.Attributes) > 0 {
		raw, err := json.Marshal(rec.Attributes)
		if err != nil {
			return nil, fmt.Errorf("marshal attributes: %w", err)
		}
		p.PlatformAttributes = datatypes.JSON(raw)
	}
	return p, nil
}

func platformsOf(products []*domain.Product) map[domain.Platform]bool {
	out := make(map[domain.Platform]bool, 2)
	for _, p := range products {
		out[p.Platform] = true
	}
	return out
}
