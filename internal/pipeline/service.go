package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/flipsyde/catalogsync/internal/domain"
	"github.com/flipsyde/catalogsync/internal/matching"
	"github.com/flipsyde/catalogsync/internal/platform/envutil"
	"github.com/flipsyde/catalogsync/internal/platform/logger"
	"github.com/flipsyde/catalogsync/internal/platform/openai"
	"github.com/flipsyde/catalogsync/internal/repos"
)

// EmbeddingGateway is the slice of the OpenAI gateway the pipeline needs.
type EmbeddingGateway interface {
	EmbedBatch(ctx context.Context, texts []string) []openai.Result
}

// MappingResolver decides and persists the mapping for one source product.
type MappingResolver interface {
	Resolve(ctx context.Context, source *domain.Product, targetPlatform domain.Platform, scored []matching.ScoredMapping) (matching.Outcome, error)
}

// Config carries the tunables of the batch operations. Zero values are
// replaced by the documented defaults in NewService.
type Config struct {
	SourcePlatform domain.Platform
	TargetPlatform domain.Platform

	// BatchSize is both the gateway request size and the unit of work one
	// worker handles; Concurrency bounds the workers per wave.
	BatchSize   int
	Concurrency int

	TopK          int
	MinSimilarity float64

	// OnlyUnmapped restricts BuildMappings to sources with no mapping row.
	// Turning it off re-scores mapped sources too, which can upgrade them.
	OnlyUnmapped bool

	// EmbedOnIngest embeds new and invalidated products at the end of an
	// ingest call instead of waiting for the next embed run.
	EmbedOnIngest bool
}

func ConfigFromEnv() Config {
	return Config{
		SourcePlatform: domain.Platform(envutil.Str("MAP_SOURCE_PLATFORM", string(domain.PlatformAlias))),
		TargetPlatform: domain.Platform(envutil.Str("MAP_TARGET_PLATFORM", string(domain.PlatformStockX))),
		BatchSize:      envutil.Int("EMBED_BATCH_SIZE", 100),
		Concurrency:    envutil.Int("PIPELINE_CONCURRENCY", 6),
		TopK:           envutil.Int("MATCH_TOP_K", 5),
		MinSimilarity:  envutil.Float("MATCH_MIN_SIMILARITY", 0.7),
		OnlyUnmapped:   envutil.Bool("MAP_ONLY_UNMAPPED", true),
		EmbedOnIngest:  envutil.Bool("INGEST_EMBED_INLINE", false),
	}
}

// Service runs the catalog batch operations: ingest, embedding backfill and
// mapping construction. All three are idempotent and may be re-run after a
// partial failure; Stop halts a run between waves without losing completed
// work.
type Service struct {
	log      *logger.Logger
	products repos.ProductRepo
	mappings repos.ProductMappingRepo
	gateway  EmbeddingGateway
	resolver MappingResolver
	cfg      Config

	stopping atomic.Bool
}

func NewService(
	log *logger.Logger,
	products repos.ProductRepo,
	mappings repos.ProductMappingRepo,
	gateway EmbeddingGateway,
	resolver MappingResolver,
	cfg Config,
) (*Service, error) {
	if log == nil || products == nil || mappings == nil || gateway == nil || resolver == nil {
		return nil, fmt.Errorf("pipeline: missing deps")
	}
	if !cfg.SourcePlatform.Valid() {
		return nil, fmt.Errorf("pipeline: invalid source platform %q", cfg.SourcePlatform)
	}
	if !cfg.TargetPlatform.Valid() {
		return nil, fmt.Errorf("pipeline: invalid target platform %q", cfg.TargetPlatform)
	}
	if cfg.SourcePlatform == cfg.TargetPlatform {
		return nil, fmt.Errorf("pipeline: source and target platform are both %q", cfg.SourcePlatform)
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.TopK < 1 {
		cfg.TopK = 5
	}
	return &Service{
		log:      log.With("service", "Pipeline"),
		products: products,
		mappings: mappings,
		gateway:  gateway,
		resolver: resolver,
		cfg:      cfg,
	}, nil
}

// Stop requests a cooperative halt: the wave in flight finishes, nothing
// new is dispatched, and the run returns a report marked Halted.
func (s *Service) Stop() {
	s.stopping.Store(true)
}

func (s *Service) halted(ctx context.Context) bool {
	return s.stopping.Load() || ctx.Err() != nil
}
