package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flipsyde/catalogsync/internal/db"
	"github.com/flipsyde/catalogsync/internal/domain"
	"github.com/flipsyde/catalogsync/internal/matching"
	"github.com/flipsyde/catalogsync/internal/pipeline"
	"github.com/flipsyde/catalogsync/internal/platform/envutil"
	"github.com/flipsyde/catalogsync/internal/platform/logger"
	"github.com/flipsyde/catalogsync/internal/platform/openai"
	"github.com/flipsyde/catalogsync/internal/repos"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: catalogsync <command> [flags]

Commands:
  migrate   run schema migrations and ensure indexes
  ingest    upsert raw catalog records from a JSON file
  embed     generate missing embeddings
  regen     regenerate existing embeddings
  map       build product mappings and elect default aliases
  search    semantic product search
  stats     print mapping coverage stats
  sweep     report acceptance counts across candidate thresholds
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	if cmd == "migrate" {
		if err := pg.AutoMigrateAll(); err != nil {
			log.Error("Migration failed", "error", err)
			os.Exit(1)
		}
		if err := pg.EnsureVectorIndex(); err != nil {
			log.Error("Vector index setup failed", "error", err)
			os.Exit(1)
		}
		log.Info("Schema up to date")
		return
	}

	productRepo := repos.NewProductRepo(pg.DB(), log)
	mappingRepo := repos.NewProductMappingRepo(pg.DB(), log)

	aiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}

	cfg := pipeline.ConfigFromEnv()
	gateway, err := openai.NewGateway(log, aiClient, cfg.BatchSize)
	if err != nil {
		log.Error("Could not init embedding gateway", "error", err)
		os.Exit(1)
	}
	resolver := matching.NewResolver(mappingRepo, log,
		envutil.Float("MATCH_ACCEPT_THRESHOLD", 0.7),
		envutil.Float("MATCH_AMBIGUITY_EPSILON", 0.02),
	)
	svc, err := pipeline.NewService(log, productRepo, mappingRepo, gateway, resolver, cfg)
	if err != nil {
		log.Error("Could not init pipeline", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal asks the run to halt at the next wave boundary; a second
	// one aborts in-flight work.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn("Halt requested, finishing current wave")
		svc.Stop()
		<-sigCh
		log.Warn("Aborting")
		cancel()
	}()

	if err := run(ctx, log, svc, cfg, cmd, args); err != nil {
		log.Error("Command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, svc *pipeline.Service, cfg pipeline.Config, cmd string, args []string) error {
	switch cmd {
	case "ingest":
		fs := flag.NewFlagSet("ingest", flag.ExitOnError)
		file := fs.String("file", "", "path to a JSON array of records")
		_ = fs.Parse(args)
		if *file == "" {
			return fmt.Errorf("ingest: -file is required")
		}
		raw, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		var records []pipeline.IngestRecord
		if err := json.Unmarshal(raw, &records); err != nil {
			return fmt.Errorf("parse %s: %w", *file, err)
		}
		report, err := svc.Ingest(ctx, records)
		if err != nil {
			return err
		}
		for _, recErr := range report.Errors {
			log.Warn("Record rejected", "error", recErr.Error())
		}
		log.Info("Ingest finished",
			"upserted", report.Upserted,
			"failed", report.Failed,
			"embeddings_cleared", report.EmbeddingsCleared,
		)
		return nil

	case "embed":
		fs := flag.NewFlagSet("embed", flag.ExitOnError)
		platformFlag := fs.String("platform", "", "restrict to one platform")
		_ = fs.Parse(args)
		var platform *domain.Platform
		if *platformFlag != "" {
			p, err := domain.ParsePlatform(*platformFlag)
			if err != nil {
				return err
			}
			platform = &p
		}
		_, err := svc.GenerateMissingEmbeddings(ctx, platform)
		return err

	case "regen":
		fs := flag.NewFlagSet("regen", flag.ExitOnError)
		onlyStale := fs.Bool("stale-only", false, "only re-embed products whose source text changed")
		_ = fs.Parse(args)
		_, err := svc.RegenerateEmbeddings(ctx, *onlyStale)
		return err

	case "map":
		report, err := svc.BuildMappings(ctx)
		if err != nil {
			return err
		}
		for _, id := range report.AmbiguousSourceIDs {
			log.Warn("Ambiguous source needs review", "source_product_id", id.String())
		}
		return printStats(ctx, svc, cfg)

	case "search":
		fs := flag.NewFlagSet("search", flag.ExitOnError)
		platformFlag := fs.String("platform", "", "restrict to one platform")
		limit := fs.Int("limit", 10, "max results")
		minSim := fs.Float64("min", 0, "minimum similarity, 0 for none")
		_ = fs.Parse(args)
		query := ""
		if fs.NArg() > 0 {
			query = fs.Arg(0)
		}
		var platform *domain.Platform
		if *platformFlag != "" {
			p, err := domain.ParsePlatform(*platformFlag)
			if err != nil {
				return err
			}
			platform = &p
		}
		results, err := svc.Search(ctx, query, platform, *limit, *minSim)
		if err != nil {
			return err
		}
		for _, r := range results {
			style := ""
			if r.Product.StyleCodeRaw != nil {
				style = *r.Product.StyleCodeRaw
			}
			fmt.Printf("%.4f  %-8s %-16s %s  %s\n",
				r.Similarity, r.Product.Platform, r.Product.PlatformProductID, r.Product.DisplayName, style)
		}
		return nil

	case "stats":
		return printStats(ctx, svc, cfg)

	case "sweep":
		fs := flag.NewFlagSet("sweep", flag.ExitOnError)
		sample := fs.Int("sample", 200, "number of source products to sample")
		_ = fs.Parse(args)
		buckets, sampled, err := svc.SweepThresholds(ctx, *sample, nil)
		if err != nil {
			return err
		}
		fmt.Printf("sampled %d embedded sources\n", sampled)
		for _, b := range buckets {
			fmt.Printf("  threshold %.2f  would accept %d\n", b.Threshold, b.Accepted)
		}
		return nil

	default:
		usage()
		return nil
	}
}

func printStats(ctx context.Context, svc *pipeline.Service, cfg pipeline.Config) error {
	stats, err := svc.MappingStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("mappings total: %d\n", stats.Total)
	for _, m := range stats.ByMethod {
		fmt.Printf("  %-22s %6d  avg confidence %.3f\n", m.Method, m.Count, m.AvgConfidence)
	}
	fmt.Printf("unmapped %s sources: %d\n", cfg.SourcePlatform, stats.UnmappedSource)
	return nil
}
