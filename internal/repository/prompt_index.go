package repository

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimensions is the width of prompt_embeddings.embedding. Models
// used for catalog search must produce vectors of this length.
const EmbeddingDimensions = 1536

// PromptMatch is a catalog search hit. Distance is cosine distance; smaller
// is closer.
type PromptMatch struct {
	Prompt   Prompt  `json:"prompt"`
	Distance float64 `json:"distance"`
}

// PromptIndex stores prompt embeddings for semantic catalog search.
type PromptIndex interface {
	Upsert(ctx context.Context, promptID int, embedding []float32) error
	Search(ctx context.Context, embedding []float32, k int) ([]PromptMatch, error)
}

// PgvectorPromptIndex implements PromptIndex on the prompt_embeddings table.
// The pool must register pgvector types (client.WithVectorTypes).
type PgvectorPromptIndex struct {
	db DB
}

// NewPgvectorPromptIndex creates a new PgvectorPromptIndex.
func NewPgvectorPromptIndex(db DB) *PgvectorPromptIndex {
	return &PgvectorPromptIndex{db: db}
}

// Upsert stores the embedding for a prompt.
func (r *PgvectorPromptIndex) Upsert(ctx context.Context, promptID int, embedding []float32) error {
	if r.db == nil {
		return ErrNoDatabase
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO prompt_embeddings (prompt_id, embedding)
		VALUES ($1, $2)
		ON CONFLICT (prompt_id) DO UPDATE SET embedding = EXCLUDED.embedding
	`, promptID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to upsert embedding for prompt %d: %w", promptID, err)
	}
	return nil
}

// Search returns the k prompts closest to embedding.
func (r *PgvectorPromptIndex) Search(ctx context.Context, embedding []float32, k int) ([]PromptMatch, error) {
	if r.db == nil {
		return nil, ErrNoDatabase
	}

	rows, err := r.db.Query(ctx, `
		SELECT p.prompt_id, p.prompt, p.expected_user_response, COALESCE(p.notes_for_ai, ''),
		       COALESCE(p.stage, ''), COALESCE(p.level, ''), COALESCE(p.lesson_level, 0),
		       e.embedding <=> $1 AS distance
		FROM prompt_embeddings e
		JOIN prompts p ON p.prompt_id = e.prompt_id
		ORDER BY distance
		LIMIT $2
	`, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search prompts: %w", err)
	}
	defer rows.Close()

	var out []PromptMatch
	for rows.Next() {
		var m PromptMatch
		p := &m.Prompt
		if err := rows.Scan(&p.ID, &p.Prompt, &p.ExpectedUserResponse, &p.NotesForAI,
			&p.Stage, &p.Level, &p.LessonLevel, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}
	return out, nil
}
