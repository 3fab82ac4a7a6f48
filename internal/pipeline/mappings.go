package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/flipsyde/catalogsync/internal/domain"
	"github.com/flipsyde/catalogsync/internal/matching"
	"github.com/flipsyde/catalogsync/internal/repos"
)

type MappingReport struct {
	Processed int
	Accepted  int
	Unchanged int
	Ambiguous int
	NoMatch   int
	Failed    int

	// AmbiguousSourceIDs lists sources whose top candidates were too close
	// to call, for manual review. Sorted for stable output.
	AmbiguousSourceIDs []uuid.UUID

	DefaultAliases int64
	Remaining      int64
	Halted         bool
}

// BuildMappings scores every source-platform product against the canonical
// catalog and persists accepted mappings. The run is idempotent: sources
// already mapped are skipped (or re-scored under the upgrade rule when
// OnlyUnmapped is off), and a halted run resumes where it left off.
func (s *Service) BuildMappings(ctx context.Context) (MappingReport, error) {
	report := MappingReport{}
	var mu sync.Mutex

	pageSize := s.cfg.BatchSize * s.cfg.Concurrency
	offset := 0
	for {
		if s.halted(ctx) {
			report.Halted = true
			break
		}

		page, err := s.products.ListSources(ctx, s.cfg.SourcePlatform, s.cfg.OnlyUnmapped, pageSize, offset)
		if err != nil {
			return report, err
		}
		if len(page) == 0 {
			break
		}

		var acceptedInWave int
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for _, source := range page {
			g.Go(func() error {
				out, err := s.resolveOne(gctx, source)

				mu.Lock()
				defer mu.Unlock()
				report.Processed++
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					report.Failed++
					s.log.Warn("mapping resolution failed",
						"source_product_id", source.ID.String(),
						"error", err.Error(),
					)
					return nil
				}
				switch out.Kind {
				case matching.OutcomeAccepted:
					report.Accepted++
					acceptedInWave++
				case matching.OutcomeUnchanged:
					report.Unchanged++
				case matching.OutcomeAmbiguous:
					report.Ambiguous++
					report.AmbiguousSourceIDs = append(report.AmbiguousSourceIDs, source.ID)
				case matching.OutcomeNoMatch:
					report.NoMatch++
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return report, err
		}

		if s.cfg.OnlyUnmapped {
			// Accepted sources drop out of the unmapped set; everything
			// else keeps its position and must be skipped next page.
			offset += len(page) - acceptedInWave
		} else {
			offset += len(page)
		}
	}

	sort.Slice(report.AmbiguousSourceIDs, func(i, j int) bool {
		return report.AmbiguousSourceIDs[i].String() < report.AmbiguousSourceIDs[j].String()
	})

	if ctx.Err() == nil {
		elected, err := s.mappings.ElectDefaultAliases(ctx)
		if err != nil {
			return report, err
		}
		report.DefaultAliases = elected

		stats, err := s.mappings.Stats(ctx, s.cfg.SourcePlatform)
		if err != nil {
			return report, err
		}
		report.Remaining = stats.UnmappedSource
	}

	s.log.Info("mapping build finished",
		"source", s.cfg.SourcePlatform.String(),
		"target", s.cfg.TargetPlatform.String(),
		"processed", report.Processed,
		"accepted", report.Accepted,
		"unchanged", report.Unchanged,
		"ambiguous", report.Ambiguous,
		"no_match", report.NoMatch,
		"failed", report.Failed,
		"default_aliases", report.DefaultAliases,
		"remaining", report.Remaining,
		"halted", report.Halted,
	)
	return report, nil
}

// resolveOne gathers the candidate evidence for one source product and
// hands it to the resolver. Retrieval stages are independent; a product
// with no style code or no vector just contributes fewer candidates.
func (s *Service) resolveOne(ctx context.Context, source *domain.Product) (matching.Outcome, error) {
	var styleMatches []*domain.Product
	if source.StyleCodeNormalized != nil {
		var err error
		styleMatches, err = s.products.FindByNormalizedStyle(ctx, s.cfg.TargetPlatform, *source.StyleCodeNormalized)
		if err != nil {
			return matching.Outcome{}, err
		}
	}

	var nearest []domain.Candidate
	if source.HasEmbedding() {
		var err error
		nearest, err = s.products.FindNearest(ctx, source.Embedding.Slice(), &s.cfg.TargetPlatform, s.cfg.MinSimilarity, s.cfg.TopK)
		if err != nil {
			return matching.Outcome{}, err
		}
	}

	var nameMatches []*domain.Product
	if source.NameNormalized != "" {
		var err error
		nameMatches, err = s.products.FindByNormalizedName(ctx, s.cfg.TargetPlatform, source.NameNormalized)
		if err != nil {
			return matching.Outcome{}, err
		}
	}

	scored := matching.Score(source, styleMatches, nearest, nameMatches)
	return s.resolver.Resolve(ctx, source, s.cfg.TargetPlatform, scored)
}

// MappingStats reports the current mapping coverage for the configured
// source platform.
func (s *Service) MappingStats(ctx context.Context) (*repos.MappingStats, error) {
	return s.mappings.Stats(ctx, s.cfg.SourcePlatform)
}
