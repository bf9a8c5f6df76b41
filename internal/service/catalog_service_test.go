package service

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/windfall/langodyssey/internal/errors"
	"github.com/windfall/langodyssey/internal/repository"
)

func TestCatalogService_List(t *testing.T) {
	prompts := newFakePrompts(
		repository.Prompt{ID: 1, Prompt: "Hello"},
		repository.Prompt{ID: 2, Prompt: "Good morning"},
		repository.Prompt{ID: 3, Prompt: "Thank you"},
	)
	svc := NewCatalogService(prompts, nil, nil, nil, zerolog.Nop())

	page, err := svc.List(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 3 || len(page.Prompts) != 2 || page.Prompts[0].ID != 2 {
		t.Errorf("page = %+v", page)
	}

	page, err = svc.List(context.Background(), 1000, -5)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Limit != maxPageSize || page.Offset != 0 {
		t.Errorf("limits not clamped: %+v", page)
	}
}

func TestCatalogService_Get(t *testing.T) {
	svc := NewCatalogService(newFakePrompts(greeting), nil, nil, nil, zerolog.Nop())

	p, err := svc.Get(context.Background(), 1)
	if err != nil || p.Prompt != greeting.Prompt {
		t.Fatalf("Get = %+v, %v", p, err)
	}
	if _, err := svc.Get(context.Background(), 2); !errors.HasCode(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	if _, err := svc.Get(context.Background(), 0); !errors.HasCode(err, errors.ErrValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestCatalogService_Search(t *testing.T) {
	index := &fakeIndex{matches: []repository.PromptMatch{{Prompt: greeting, Distance: 0.12}}}
	embedder := &fakeEmbedder{vec: embedding(repository.EmbeddingDimensions)}
	svc := NewCatalogService(newFakePrompts(greeting), index, embedder, nil, zerolog.Nop())

	matches, err := svc.Search(context.Background(), "  greetings  ", 100)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].Prompt.ID != 1 {
		t.Errorf("matches = %+v", matches)
	}
	if index.k != maxSearchK {
		t.Errorf("k = %d, want %d", index.k, maxSearchK)
	}
	if embedder.texts[0] != "greetings" {
		t.Errorf("embedded %q", embedder.texts[0])
	}
}

func TestCatalogService_SearchErrors(t *testing.T) {
	disabled := NewCatalogService(newFakePrompts(), nil, nil, nil, zerolog.Nop())
	if _, err := disabled.Search(context.Background(), "hi", 3); !errors.HasCode(err, errors.ErrAIService) {
		t.Errorf("disabled: err = %v", err)
	}
	if _, err := disabled.Search(context.Background(), " ", 3); !errors.HasCode(err, errors.ErrValidation) {
		t.Errorf("empty query: err = %v", err)
	}

	failing := NewCatalogService(newFakePrompts(), &fakeIndex{}, &fakeEmbedder{err: stderrors.New("quota")}, nil, zerolog.Nop())
	if _, err := failing.Search(context.Background(), "hi", 3); !errors.HasCode(err, errors.ErrAIService) {
		t.Errorf("embed failure: err = %v", err)
	}
}

func TestCatalogService_Index(t *testing.T) {
	index := &fakeIndex{}
	embedder := &fakeEmbedder{vec: embedding(repository.EmbeddingDimensions)}
	svc := NewCatalogService(newFakePrompts(), index, embedder, nil, zerolog.Nop())

	if err := svc.Index(context.Background(), &greeting); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(index.stored[1]) != repository.EmbeddingDimensions {
		t.Errorf("stored = %v", index.stored)
	}
	if embedder.texts[0] != "Hello, how are you?\nI am fine, thank you." {
		t.Errorf("embedding text = %q", embedder.texts[0])
	}
}

func TestCatalogService_RejectsWrongDimensions(t *testing.T) {
	// A 3072-wide model such as text-embedding-3-large.
	index := &fakeIndex{}
	svc := NewCatalogService(newFakePrompts(), index, &fakeEmbedder{vec: embedding(3072)}, nil, zerolog.Nop())

	err := svc.Index(context.Background(), &greeting)
	if !errors.HasCode(err, errors.ErrAIService) {
		t.Fatalf("Index err = %v, want AI service error", err)
	}
	if len(index.stored) != 0 {
		t.Errorf("stored a mis-sized vector: %d entries", len(index.stored))
	}
	if _, err := svc.Search(context.Background(), "hello", 3); !errors.HasCode(err, errors.ErrAIService) {
		t.Errorf("Search err = %v, want AI service error", err)
	}
}

func embedding(n int) []float32 {
	v := make([]float32, n)
	v[0] = 1
	return v
}
