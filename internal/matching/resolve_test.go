package matching

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/flipsyde/catalogsync/internal/domain"
	"github.com/flipsyde/catalogsync/internal/platform/logger"
	"github.com/flipsyde/catalogsync/internal/repos"
)

type fakeMappingRepo struct {
	rows   map[uuid.UUID]*domain.ProductMapping
	nextID int64
}

func newFakeMappingRepo() *fakeMappingRepo {
	return &fakeMappingRepo{rows: map[uuid.UUID]*domain.ProductMapping{}}
}

func (f *fakeMappingRepo) GetBySourceID(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (*domain.ProductMapping, error) {
	if m, ok := f.rows[sourceID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeMappingRepo) GetBySourceIDForUpdate(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (*domain.ProductMapping, error) {
	return f.GetBySourceID(ctx, tx, sourceID)
}

func (f *fakeMappingRepo) Upsert(ctx context.Context, tx *gorm.DB, m *domain.ProductMapping) error {
	cp := *m
	if existing, ok := f.rows[m.SourceProductID]; ok {
		cp.ID = existing.ID
	} else {
		f.nextID++
		cp.ID = f.nextID
	}
	f.rows[m.SourceProductID] = &cp
	return nil
}

func (f *fakeMappingRepo) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (f *fakeMappingRepo) Stats(ctx context.Context, sourcePlatform domain.Platform) (*repos.MappingStats, error) {
	return &repos.MappingStats{Total: int64(len(f.rows))}, nil
}

func (f *fakeMappingRepo) ElectDefaultAliases(ctx context.Context) (int64, error) {
	return 0, nil
}

func testResolver(t *testing.T, store repos.ProductMappingRepo) *Resolver {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewResolver(store, log, 0.7, 0.02)
}

func TestDecideAmbiguousWithinEpsilon(t *testing.T) {
	// Two embedding candidates at 0.81 and 0.80 under epsilon 0.02 are
	// indistinguishable: nothing is persisted.
	scored := []ScoredMapping{
		{TargetID: uuid.New(), Confidence: 0.81, Method: domain.MethodEmbeddingSimilarity},
		{TargetID: uuid.New(), Confidence: 0.80, Method: domain.MethodEmbeddingSimilarity},
	}
	out := Decide(scored, 0.7, 0.02)
	if out.Kind != OutcomeAmbiguous {
		t.Fatalf("kind = %s, want ambiguous", out.Kind)
	}
	if len(out.Candidates) != 2 {
		t.Fatalf("got %d tied candidates, want 2", len(out.Candidates))
	}
}

func TestDecideNoMatchBelowThreshold(t *testing.T) {
	scored := []ScoredMapping{
		{TargetID: uuid.New(), Confidence: 0.55, Method: domain.MethodEmbeddingSimilarity},
	}
	if out := Decide(scored, 0.7, 0.02); out.Kind != OutcomeNoMatch {
		t.Fatalf("kind = %s, want no_match", out.Kind)
	}
}

func TestDecideAcceptsClearWinner(t *testing.T) {
	winner := uuid.New()
	scored := []ScoredMapping{
		{TargetID: winner, Confidence: 0.93, Method: domain.MethodEmbeddingSimilarity},
		{TargetID: uuid.New(), Confidence: 0.74, Method: domain.MethodEmbeddingSimilarity},
	}
	out := Decide(scored, 0.7, 0.02)
	if out.Kind != OutcomeAccepted {
		t.Fatalf("kind = %s, want accepted", out.Kind)
	}
	if out.Mapping.TargetProductID != winner {
		t.Errorf("target = %v, want %v", out.Mapping.TargetProductID, winner)
	}
}

func TestDecideStyleMatchNotTiedWithEmbedding(t *testing.T) {
	// A style match at 1.0 over an embedding hit at 0.99 is not ambiguity:
	// the band only compares candidates of equal trust.
	scored := []ScoredMapping{
		{TargetID: uuid.New(), Confidence: 1.0, Method: domain.MethodStyleIDMatch},
		{TargetID: uuid.New(), Confidence: 0.99, Method: domain.MethodEmbeddingSimilarity},
	}
	out := Decide(scored, 0.7, 0.02)
	if out.Kind != OutcomeAccepted {
		t.Fatalf("kind = %s, want accepted", out.Kind)
	}
	if out.Mapping.Method != domain.MethodStyleIDMatch {
		t.Errorf("method = %s, want style_id_match", out.Mapping.Method)
	}
}

func TestDecideEmptyIsNoMatch(t *testing.T) {
	if out := Decide(nil, 0.7, 0.02); out.Kind != OutcomeNoMatch {
		t.Fatalf("kind = %s, want no_match", out.Kind)
	}
}

func TestShouldReplace(t *testing.T) {
	cases := []struct {
		name     string
		existing *domain.ProductMapping
		next     *domain.ProductMapping
		want     bool
	}{
		{"no existing", nil, &domain.ProductMapping{Method: domain.MethodNameMatch, Confidence: 0.85}, true},
		{"manual never replaced",
			&domain.ProductMapping{Method: domain.MethodManual, Confidence: 1.0},
			&domain.ProductMapping{Method: domain.MethodStyleIDMatch, Confidence: 1.0},
			false},
		{"higher rank replaces",
			&domain.ProductMapping{Method: domain.MethodNameMatch, Confidence: 0.85},
			&domain.ProductMapping{Method: domain.MethodStyleIDMatch, Confidence: 1.0},
			true},
		{"lower rank rejected",
			&domain.ProductMapping{Method: domain.MethodStyleIDMatch, Confidence: 1.0},
			&domain.ProductMapping{Method: domain.MethodEmbeddingSimilarity, Confidence: 0.99},
			false},
		{"equal rank better confidence replaces",
			&domain.ProductMapping{Method: domain.MethodEmbeddingSimilarity, Confidence: 0.80},
			&domain.ProductMapping{Method: domain.MethodEmbeddingSimilarity, Confidence: 0.90},
			true},
		{"equal rank equal confidence rejected",
			&domain.ProductMapping{Method: domain.MethodEmbeddingSimilarity, Confidence: 0.80},
			&domain.ProductMapping{Method: domain.MethodEmbeddingSimilarity, Confidence: 0.80},
			false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ShouldReplace(c.existing, c.next); got != c.want {
				t.Errorf("ShouldReplace = %v, want %v", got, c.want)
			}
		})
	}
}

func TestResolvePersistsAcceptedMapping(t *testing.T) {
	store := newFakeMappingRepo()
	r := testResolver(t, store)
	source := product(domain.PlatformAlias, "dunk low", nil)
	target := uuid.New()

	out, err := r.Resolve(context.Background(), source, domain.PlatformStockX, []ScoredMapping{
		{TargetID: target, Confidence: 0.9, Method: domain.MethodEmbeddingSimilarity},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Kind != OutcomeAccepted {
		t.Fatalf("kind = %s, want accepted", out.Kind)
	}

	persisted := store.rows[source.ID]
	if persisted == nil {
		t.Fatal("mapping not persisted")
	}
	if persisted.TargetProductID != target || persisted.CreatedBy != "system" {
		t.Errorf("persisted mapping = %+v", persisted)
	}
}

func TestResolveNeverOverwritesManual(t *testing.T) {
	store := newFakeMappingRepo()
	r := testResolver(t, store)
	source := product(domain.PlatformAlias, "dunk low", strPtr("DD1391100"))
	manualTarget := uuid.New()

	store.rows[source.ID] = &domain.ProductMapping{
		ID:              1,
		SourceProductID: source.ID,
		TargetProductID: manualTarget,
		Confidence:      domain.ManualConfidence,
		Method:          domain.MethodManual,
		CreatedBy:       "ops",
	}

	out, err := r.Resolve(context.Background(), source, domain.PlatformStockX, []ScoredMapping{
		{TargetID: uuid.New(), Confidence: 1.0, Method: domain.MethodStyleIDMatch},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Kind != OutcomeUnchanged {
		t.Fatalf("kind = %s, want unchanged", out.Kind)
	}
	if store.rows[source.ID].TargetProductID != manualTarget {
		t.Error("manual mapping was overwritten")
	}
}

func TestResolveUpgradesMethodRank(t *testing.T) {
	store := newFakeMappingRepo()
	r := testResolver(t, store)
	source := product(domain.PlatformAlias, "jordan 4 bred", strPtr("308497060"))

	store.rows[source.ID] = &domain.ProductMapping{
		ID:              7,
		SourceProductID: source.ID,
		TargetProductID: uuid.New(),
		Confidence:      0.85,
		Method:          domain.MethodNameMatch,
		CreatedBy:       "system",
	}

	upgraded := uuid.New()
	out, err := r.Resolve(context.Background(), source, domain.PlatformStockX, []ScoredMapping{
		{TargetID: upgraded, Confidence: 1.0, Method: domain.MethodStyleIDMatch},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Kind != OutcomeAccepted {
		t.Fatalf("kind = %s, want accepted", out.Kind)
	}
	row := store.rows[source.ID]
	if row.TargetProductID != upgraded || row.Method != domain.MethodStyleIDMatch {
		t.Errorf("mapping not upgraded: %+v", row)
	}
	if row.ID != 7 {
		t.Errorf("upgrade created a second row: id = %d", row.ID)
	}
}

func TestResolveRejectsSamePlatformEdge(t *testing.T) {
	store := newFakeMappingRepo()
	r := testResolver(t, store)
	source := product(domain.PlatformStockX, "dunk low", nil)

	_, err := r.Resolve(context.Background(), source, domain.PlatformStockX, []ScoredMapping{
		{TargetID: uuid.New(), Confidence: 0.9, Method: domain.MethodEmbeddingSimilarity},
	})
	if err == nil {
		t.Fatal("expected validation error for same-platform edge")
	}
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(store.rows) != 0 {
		t.Error("mapping persisted despite invalid edge")
	}
}
