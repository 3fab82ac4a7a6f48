// Package matching turns retrieval results into confidence-scored mapping
// decisions. Scoring is pure; the Resolver owns persistence and the
// upgrade rule.
package matching

import (
	"sort"

	"github.com/google/uuid"

	"github.com/flipsyde/catalogsync/internal/domain"
)

// ScoredMapping is one ranked candidate mapping for a source product.
type ScoredMapping struct {
	TargetID   uuid.UUID
	Confidence float64
	Method     domain.MappingMethod
}

// NameMatchConfidence is the fixed confidence of an exact normalized-name
// match. Below style match because distinct products can share a name.
const NameMatchConfidence = 0.85

// Score ranks candidate targets for a source product. For a given
// candidate pair the first rule that fires wins, in trust order:
//
//  1. style_id_match - normalized style codes equal, confidence 1.0
//  2. embedding_similarity - retrieval similarity as confidence
//  3. name_match - exact normalized-name equality, confidence 0.85
//
// styleMatches and nameMatches are target-platform products whose
// normalized style code / name equal the source's; nearest holds retrieval
// hits already filtered to the similarity floor. An empty result is a
// legitimate outcome, not an error.
func Score(source *domain.Product, styleMatches []*domain.Product, nearest []domain.Candidate, nameMatches []*domain.Product) []ScoredMapping {
	best := make(map[uuid.UUID]ScoredMapping)

	if source.StyleCodeNormalized != nil {
		for _, t := range styleMatches {
			if t.StyleCodeNormalized == nil || *t.StyleCodeNormalized != *source.StyleCodeNormalized {
				continue
			}
			best[t.ID] = ScoredMapping{TargetID: t.ID, Confidence: 1.0, Method: domain.MethodStyleIDMatch}
		}
	}

	for _, c := range nearest {
		if _, seen := best[c.ProductID]; seen {
			continue
		}
		best[c.ProductID] = ScoredMapping{TargetID: c.ProductID, Confidence: c.Similarity, Method: domain.MethodEmbeddingSimilarity}
	}

	for _, t := range nameMatches {
		if _, seen := best[t.ID]; seen {
			continue
		}
		if t.NameNormalized == "" || t.NameNormalized != source.NameNormalized {
			continue
		}
		best[t.ID] = ScoredMapping{TargetID: t.ID, Confidence: NameMatchConfidence, Method: domain.MethodNameMatch}
	}

	out := make([]ScoredMapping, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sortScored(out)
	return out
}

// sortScored orders by confidence, then method trust, then target id so the
// ranking is deterministic for equal scores.
func sortScored(s []ScoredMapping) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Confidence != s[j].Confidence {
			return s[i].Confidence > s[j].Confidence
		}
		if s[i].Method.Rank() != s[j].Method.Rank() {
			return s[i].Method.Rank() > s[j].Method.Rank()
		}
		return s[i].TargetID.String() < s[j].TargetID.String()
	})
}
