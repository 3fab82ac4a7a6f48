package pipeline

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/flipsyde/catalogsync/internal/domain"
	"github.com/flipsyde/catalogsync/internal/normalize"
)

type EmbedReport struct {
	Scanned   int
	Succeeded int
	Failed    int
	// Remaining counts products still missing a vector after the run;
	// nonzero with Failed == 0 means the run was halted early.
	Remaining int64
	Halted    bool
}

// GenerateMissingEmbeddings backfills the vector column for every product
// without one, optionally restricted to a platform. Products whose vectors
// already exist are never touched, so re-running after a partial failure
// only retries the gap.
func (s *Service) GenerateMissingEmbeddings(ctx context.Context, platform *domain.Platform) (EmbedReport, error) {
	report := EmbedReport{}
	logPlatform := "all"
	if platform != nil {
		logPlatform = platform.String()
	}

	pageSize := s.cfg.BatchSize * s.cfg.Concurrency
	offset := 0
	for {
		if s.halted(ctx) {
			report.Halted = true
			break
		}

		page, err := s.products.ListMissingEmbeddings(ctx, platform, pageSize, offset)
		if err != nil {
			return report, err
		}
		if len(page) == 0 {
			break
		}
		report.Scanned += len(page)

		succeeded, failed, err := s.embedWave(ctx, page)
		report.Succeeded += succeeded
		report.Failed += failed
		if err != nil {
			return report, err
		}

		// Successful rows leave the missing set; only the failures at the
		// front of the ordering need skipping on the next page.
		offset += failed
	}

	if n, err := s.products.CountMissingEmbeddings(context.WithoutCancel(ctx), platform); err == nil {
		report.Remaining = n
	}
	s.log.Info("embedding backfill finished",
		"platform", logPlatform,
		"scanned", report.Scanned,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"remaining", report.Remaining,
		"halted", report.Halted,
	)
	return report, nil
}

// embedWave embeds one page of products with bounded concurrency, one
// gateway batch per worker. Per-item failures are counted, not fatal.
func (s *Service) embedWave(ctx context.Context, page []*domain.Product) (int, int, error) {
	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for start := 0; start < len(page); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(page) {
			end = len(page)
		}
		batch := page[start:end]

		g.Go(func() error {
			if s.halted(gctx) {
				failed.Add(int64(len(batch)))
				return nil
			}

			texts := make([]string, len(batch))
			for i, p := range batch {
				texts[i] = normalize.EmbeddingText(p.DisplayName, p.StyleCodeRaw)
			}

			results := s.gateway.EmbedBatch(gctx, texts)
			for i, res := range results {
				p := batch[i]
				if res.Err != nil {
					failed.Add(1)
					s.log.Warn("embedding failed",
						"product_id", p.ID.String(),
						"platform", p.Platform.String(),
						"error", res.Err.Error(),
					)
					continue
				}
				if err := s.products.UpdateEmbedding(gctx, nil, p.ID, res.Vector, texts[i]); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					failed.Add(1)
					s.log.Warn("embedding write failed", "product_id", p.ID.String(), "error", err.Error())
					continue
				}
				succeeded.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	return int(succeeded.Load()), int(failed.Load()), err
}

// RegenerateEmbeddings recomputes vectors for products that already have
// one, overwriting in place so a provider failure keeps the old vector
// instead of leaving a hole. With onlyStale set, products whose stored
// source text still matches the current name and style code are skipped.
func (s *Service) RegenerateEmbeddings(ctx context.Context, onlyStale bool) (EmbedReport, error) {
	report := EmbedReport{}

	pageSize := s.cfg.BatchSize * s.cfg.Concurrency
	offset := 0
	for {
		if s.halted(ctx) {
			report.Halted = true
			break
		}

		page, err := s.products.ListEmbedded(ctx, pageSize, offset)
		if err != nil {
			return report, err
		}
		if len(page) == 0 {
			break
		}
		// Rows stay in the embedded set whether or not the overwrite lands.
		offset += len(page)
		report.Scanned += len(page)

		work := page
		if onlyStale {
			work = work[:0:0]
			for _, p := range page {
				if p.EmbeddingSourceText == nil || *p.EmbeddingSourceText != normalize.EmbeddingText(p.DisplayName, p.StyleCodeRaw) {
					work = append(work, p)
				}
			}
		}
		if len(work) == 0 {
			continue
		}

		succeeded, failed, err := s.embedWave(ctx, work)
		report.Succeeded += succeeded
		report.Failed += failed
		if err != nil {
			return report, err
		}
	}

	s.log.Info("embedding regeneration finished",
		"only_stale", onlyStale,
		"scanned", report.Scanned,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"halted", report.Halted,
	)
	return report, nil
}
