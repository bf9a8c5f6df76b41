package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/langodyssey/internal/errors"
	"github.com/windfall/langodyssey/internal/observe"
	"github.com/windfall/langodyssey/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultSearchK  = 5
	maxSearchK      = 25
)

// Embedder turns text into a vector. *client.OpenAIClient satisfies it.
type Embedder interface {
	Name() string
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// CatalogPage is one page of the prompt catalog.
type CatalogPage struct {
	Prompts []repository.Prompt `json:"prompts"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// CatalogService serves the prompt catalog and its semantic index.
type CatalogService struct {
	prompts  repository.PromptRepository
	index    repository.PromptIndex
	embedder Embedder
	metrics  *observe.Metrics
	log      zerolog.Logger
}

// NewCatalogService creates a new CatalogService. index and embedder may be
// nil, which disables Search and Embed.
func NewCatalogService(
	prompts repository.PromptRepository,
	index repository.PromptIndex,
	embedder Embedder,
	metrics *observe.Metrics,
	log zerolog.Logger,
) *CatalogService {
	return &CatalogService{
		prompts:  prompts,
		index:    index,
		embedder: embedder,
		metrics:  metrics,
		log:      log,
	}
}

// SearchEnabled reports whether semantic search is wired.
func (s *CatalogService) SearchEnabled() bool {
	return s.index != nil && s.embedder != nil
}

// List returns a page of prompts ordered by id.
func (s *CatalogService) List(ctx context.Context, limit, offset int) (*CatalogPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	prompts, err := s.prompts.List(ctx, limit, offset)
	if err != nil {
		return nil, errors.Database("failed to list prompts", err)
	}
	total, err := s.prompts.Count(ctx)
	if err != nil {
		return nil, errors.Database("failed to count prompts", err)
	}
	if prompts == nil {
		prompts = []repository.Prompt{}
	}

	return &CatalogPage{Prompts: prompts, Total: total, Limit: limit, Offset: offset}, nil
}

// Get returns one prompt.
func (s *CatalogService) Get(ctx context.Context, id int) (*repository.Prompt, error) {
	if id <= 0 {
		return nil, errors.Validation("prompt id must be positive")
	}
	p, err := s.prompts.Get(ctx, id)
	if err != nil {
		return nil, errors.Database("failed to load prompt", err)
	}
	if p == nil {
		return nil, errors.NotFound("prompt")
	}
	return p, nil
}

// Search returns the k prompts closest in meaning to query.
func (s *CatalogService) Search(ctx context.Context, query string, k int) ([]repository.PromptMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.Validation("q is required")
	}
	if !s.SearchEnabled() {
		return nil, errors.New(errors.ErrAIService, "catalog search is not enabled")
	}
	if k <= 0 {
		k = defaultSearchK
	}
	if k > maxSearchK {
		k = maxSearchK
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := s.index.Search(ctx, vec, k)
	if err != nil {
		return nil, errors.Database("failed to search prompts", err)
	}
	if matches == nil {
		matches = []repository.PromptMatch{}
	}
	return matches, nil
}

// Index embeds a prompt and stores it in the search index.
func (s *CatalogService) Index(ctx context.Context, p *repository.Prompt) error {
	if !s.SearchEnabled() {
		return errors.New(errors.ErrAIService, "catalog search is not enabled")
	}
	vec, err := s.embed(ctx, EmbeddingText(p))
	if err != nil {
		return err
	}
	if err := s.index.Upsert(ctx, p.ID, vec); err != nil {
		return errors.Database("failed to index prompt", err)
	}
	return nil
}

// EmbeddingText is the text embedded for a prompt.
func EmbeddingText(p *repository.Prompt) string {
	return p.Prompt + "\n" + p.ExpectedUserResponse
}

func (s *CatalogService) embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := s.embedder.CreateEmbedding(ctx, text)
	s.metrics.ObserveCall(ctx, s.embedder.Name(), observe.KindEmbedding, start, err)
	if err != nil {
		s.log.Error().Err(err).Msg("Embedding failed")
		return nil, errors.Wrap(errors.ErrAIService, "failed to embed text", err)
	}
	if len(vec) != repository.EmbeddingDimensions {
		s.log.Error().
			Int("got", len(vec)).
			Int("want", repository.EmbeddingDimensions).
			Str("embedder", s.embedder.Name()).
			Msg("Embedding has the wrong dimensions")
		return nil, errors.New(errors.ErrAIService,
			fmt.Sprintf("embedding model returned %d dimensions, catalog index needs %d", len(vec), repository.EmbeddingDimensions))
	}
	return vec, nil
}
