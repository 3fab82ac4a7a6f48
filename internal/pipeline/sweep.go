package pipeline

import (
	"context"
)

// SweepBucket counts how many sampled sources would clear one candidate
// acceptance threshold on embedding similarity alone.
type SweepBucket struct {
	Threshold float64
	Accepted  int
}

// SweepThresholds samples embedded source products and, for each candidate
// threshold, counts how many would map to their nearest canonical neighbour
// at that bar. Read-only; useful for tuning before changing the live
// threshold.
func (s *Service) SweepThresholds(ctx context.Context, sampleSize int, thresholds []float64) ([]SweepBucket, int, error) {
	if sampleSize < 1 {
		sampleSize = 200
	}
	if len(thresholds) == 0 {
		thresholds = []float64{0.5, 0.55, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95}
	}

	buckets := make([]SweepBucket, len(thresholds))
	for i, t := range thresholds {
		buckets[i] = SweepBucket{Threshold: t}
	}

	sampled := 0
	offset := 0
	for sampled < sampleSize {
		page, err := s.products.ListSources(ctx, s.cfg.SourcePlatform, false, sampleSize, offset)
		if err != nil {
			return nil, 0, err
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)

		for _, p := range page {
			if sampled >= sampleSize {
				break
			}
			if !p.HasEmbedding() {
				continue
			}
			nearest, err := s.products.FindNearest(ctx, p.Embedding.Slice(), &s.cfg.TargetPlatform, -1, 1)
			if err != nil {
				return nil, 0, err
			}
			sampled++
			if len(nearest) == 0 {
				continue
			}
			top := nearest[0].Similarity
			for i := range buckets {
				if top >= buckets[i].Threshold {
					buckets[i].Accepted++
				}
			}
		}
	}

	return buckets, sampled, nil
}
