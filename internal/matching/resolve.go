package matching

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/flipsyde/catalogsync/internal/domain"
	"github.com/flipsyde/catalogsync/internal/platform/logger"
	"github.com/flipsyde/catalogsync/internal/repos"
)

type OutcomeKind string

const (
	// OutcomeAccepted means a mapping was persisted (new or upgraded).
	OutcomeAccepted OutcomeKind = "accepted"
	// OutcomeAmbiguous means the top candidates are statistically
	// indistinguishable; nothing persisted, queued for manual review.
	OutcomeAmbiguous OutcomeKind = "ambiguous"
	// OutcomeNoMatch means no candidate cleared the acceptance threshold.
	OutcomeNoMatch OutcomeKind = "no_match"
	// OutcomeUnchanged means an existing mapping stands: the candidate did
	// not beat it under the upgrade rule. A no-op, not an error.
	OutcomeUnchanged OutcomeKind = "unchanged"
)

type Outcome struct {
	Kind    OutcomeKind
	Mapping *domain.ProductMapping
	// Candidates carries the tied top candidates for an ambiguous outcome.
	Candidates []ScoredMapping
}

// Decide applies the acceptance threshold and ambiguity band to a ranked
// candidate set. Pure; persistence and the upgrade rule live in Resolve.
//
// The ambiguity band only compares candidates of the same method: a style
// match is authoritative and is never tied with a merely-similar embedding
// hit underneath it.
func Decide(scored []ScoredMapping, acceptThreshold, epsilon float64) Outcome {
	if len(scored) == 0 || scored[0].Confidence < acceptThreshold {
		return Outcome{Kind: OutcomeNoMatch}
	}
	top := scored[0]
	if len(scored) > 1 {
		second := scored[1]
		if second.Method == top.Method && top.Confidence-second.Confidence < epsilon {
			return Outcome{Kind: OutcomeAmbiguous, Candidates: []ScoredMapping{top, second}}
		}
	}
	return Outcome{Kind: OutcomeAccepted, Mapping: &domain.ProductMapping{
		TargetProductID: top.TargetID,
		Confidence:      top.Confidence,
		Method:          top.Method,
	}}
}

// ShouldReplace is the monotonic-trust upgrade rule: replace only on a
// strictly higher method rank, or equal rank with strictly better
// confidence. A manual mapping is never replaced automatically.
func ShouldReplace(existing *domain.ProductMapping, next *domain.ProductMapping) bool {
	if existing == nil {
		return true
	}
	if existing.Method == domain.MethodManual {
		return false
	}
	if next.Method.Rank() != existing.Method.Rank() {
		return next.Method.Rank() > existing.Method.Rank()
	}
	return next.Confidence > existing.Confidence
}

// Resolver enforces the one-mapping-per-source invariant and persists
// accepted mappings under the upgrade rule.
type Resolver struct {
	mappings repos.ProductMappingRepo
	log      *logger.Logger

	AcceptThreshold float64
	Epsilon         float64
	CreatedBy       string
}

func NewResolver(mappings repos.ProductMappingRepo, log *logger.Logger, acceptThreshold, epsilon float64) *Resolver {
	return &Resolver{
		mappings:        mappings,
		log:             log.With("service", "MappingResolver"),
		AcceptThreshold: acceptThreshold,
		Epsilon:         epsilon,
		CreatedBy:       "system",
	}
}

// Resolve decides and, when accepted, persists the mapping for one source
// product. The read-decide-write runs in one transaction with the existing
// row locked, so concurrent resolutions of the same source serialize and
// the unique index guarantees a single row.
func (r *Resolver) Resolve(ctx context.Context, source *domain.Product, targetPlatform domain.Platform, scored []ScoredMapping) (Outcome, error) {
	if source.Platform == targetPlatform {
		return Outcome{}, &domain.ValidationError{
			Field:     "platform",
			Reason:    fmt.Sprintf("source and target platform are both %q", targetPlatform),
			ProductID: source.ID,
		}
	}

	out := Decide(scored, r.AcceptThreshold, r.Epsilon)
	if out.Kind != OutcomeAccepted {
		return out, nil
	}

	mapping := out.Mapping
	mapping.SourceProductID = source.ID
	mapping.CreatedBy = r.CreatedBy

	var final Outcome
	err := r.mappings.Transaction(ctx, func(tx *gorm.DB) error {
		existing, err := r.mappings.GetBySourceIDForUpdate(ctx, tx, source.ID)
		if err != nil {
			return err
		}
		if !ShouldReplace(existing, mapping) {
			r.log.Debug("mapping kept, candidate does not upgrade",
				"source_product_id", source.ID.String(),
				"existing_method", string(existing.Method),
				"candidate_method", string(mapping.Method),
			)
			final = Outcome{Kind: OutcomeUnchanged, Mapping: existing}
			return nil
		}
		if err := r.mappings.Upsert(ctx, tx, mapping); err != nil {
			return err
		}
		final = Outcome{Kind: OutcomeAccepted, Mapping: mapping}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return final, nil
}
