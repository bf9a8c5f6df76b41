package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/windfall/langodyssey/internal/client"
	"github.com/windfall/langodyssey/internal/config"
	"github.com/windfall/langodyssey/internal/logger"
	"github.com/windfall/langodyssey/internal/repository"
	"github.com/windfall/langodyssey/internal/service"
)

// catalogFile is the on-disk shape of the prompt catalog.
type catalogFile struct {
	Prompts []repository.Prompt `yaml:"prompts"`
}

func main() {
	var (
		path        string
		embed       bool
		concurrency int
	)
	flag.StringVar(&path, "file", "catalog/prompts.yaml", "Prompt catalog YAML file")
	flag.BoolVar(&embed, "embed", false, "Also compute embeddings for catalog search")
	flag.IntVar(&concurrency, "concurrency", 4, "Parallel embedding requests")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, path, embed, concurrency); err != nil {
		log.Fatal().Err(err).Msg("Seed failed")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, path string, embed bool, concurrency int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	prompts, err := loadCatalog(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var opts []client.PostgresOption
	if embed {
		opts = append(opts, client.WithVectorTypes())
	}
	pg, err := client.NewPostgresClient(ctx, cfg.DatabaseURL(), opts...)
	if err != nil {
		return err
	}
	defer pg.Close()
	db := repository.FromClient(pg)

	promptRepo := repository.NewPostgresPromptRepository(db)
	if err := seedPrompts(ctx, promptRepo, prompts); err != nil {
		return err
	}
	log.Info().Int("prompts", len(prompts)).Str("file", path).Msg("Catalog seeded")

	if !embed {
		return nil
	}
	if cfg.OpenAIAPIKey == "" {
		return fmt.Errorf("-embed requires OPENAI_API_KEY")
	}
	embedder := client.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL).WithEmbeddingModel(cfg.EmbeddingModel)
	catalog := service.NewCatalogService(promptRepo, repository.NewPgvectorPromptIndex(db), embedder, nil, log)

	if err := embedPrompts(ctx, catalog, prompts, concurrency); err != nil {
		return err
	}
	log.Info().Int("prompts", len(prompts)).Str("model", cfg.EmbeddingModel).Msg("Catalog embeddings indexed")
	return nil
}

// loadCatalog decodes and validates a catalog file. Ids must be positive and
// unique.
func loadCatalog(r io.Reader) ([]repository.Prompt, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[int]bool, len(file.Prompts))
	for i, p := range file.Prompts {
		switch {
		case p.ID <= 0:
			return nil, fmt.Errorf("entry %d: prompt_id must be positive", i)
		case seen[p.ID]:
			return nil, fmt.Errorf("entry %d: duplicate prompt_id %d", i, p.ID)
		case p.Prompt == "" || p.ExpectedUserResponse == "":
			return nil, fmt.Errorf("prompt %d: prompt and expected_user_response are required", p.ID)
		}
		seen[p.ID] = true
	}
	return file.Prompts, nil
}

type promptUpserter interface {
	Upsert(ctx context.Context, p *repository.Prompt) error
}

func seedPrompts(ctx context.Context, repo promptUpserter, prompts []repository.Prompt) error {
	for i := range prompts {
		if err := repo.Upsert(ctx, &prompts[i]); err != nil {
			return err
		}
	}
	return nil
}

type promptIndexer interface {
	Index(ctx context.Context, p *repository.Prompt) error
}

func embedPrompts(ctx context.Context, catalog promptIndexer, prompts []repository.Prompt, concurrency int) error {
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i := range prompts {
		p := &prompts[i]
		g.Go(func() error {
			if err := catalog.Index(gctx, p); err != nil {
				return fmt.Errorf("prompt %d: %w", p.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
