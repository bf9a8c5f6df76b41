package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Prompt is one catalog entry: a phrase to teach and the answer expected
// from the learner.
type Prompt struct {
	ID                   int    `json:"prompt_id" yaml:"prompt_id"`
	Prompt               string `json:"prompt" yaml:"prompt"`
	ExpectedUserResponse string `json:"expected_user_response" yaml:"expected_user_response"`
	NotesForAI           string `json:"notes_for_ai,omitempty" yaml:"notes_for_ai"`
	Stage                string `json:"stage" yaml:"stage"`
	Level                string `json:"level" yaml:"level"`
	LessonLevel          int    `json:"lesson_level" yaml:"lesson_level"`
}

// PromptRepository defines read and seed access to the prompt catalog.
type PromptRepository interface {
	Get(ctx context.Context, id int) (*Prompt, error)
	List(ctx context.Context, limit, offset int) ([]Prompt, error)
	Count(ctx context.Context) (int, error)
	Upsert(ctx context.Context, p *Prompt) error
}

// PostgresPromptRepository implements PromptRepository with PostgreSQL.
type PostgresPromptRepository struct {
	db DB
}

// NewPostgresPromptRepository creates a new PostgresPromptRepository.
func NewPostgresPromptRepository(db DB) *PostgresPromptRepository {
	return &PostgresPromptRepository{db: db}
}

const promptColumns = `prompt_id, prompt, expected_user_response, COALESCE(notes_for_ai, ''), COALESCE(stage, ''), COALESCE(level, ''), COALESCE(lesson_level, 0)`

func scanPrompt(row pgx.Row, p *Prompt) error {
	return row.Scan(
		&p.ID,
		&p.Prompt,
		&p.ExpectedUserResponse,
		&p.NotesForAI,
		&p.Stage,
		&p.Level,
		&p.LessonLevel,
	)
}

// Get returns the prompt with the given id, or (nil, nil) when absent.
func (r *PostgresPromptRepository) Get(ctx context.Context, id int) (*Prompt, error) {
	if r.db == nil {
		return nil, ErrNoDatabase
	}

	var p Prompt
	err := scanPrompt(r.db.QueryRow(ctx, `SELECT `+promptColumns+` FROM prompts WHERE prompt_id = $1`, id), &p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get prompt %d: %w", id, err)
	}
	return &p, nil
}

// List returns prompts ordered by id.
func (r *PostgresPromptRepository) List(ctx context.Context, limit, offset int) ([]Prompt, error) {
	if r.db == nil {
		return nil, ErrNoDatabase
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+promptColumns+`
		FROM prompts
		ORDER BY prompt_id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	prompts := make([]Prompt, 0, limit)
	for rows.Next() {
		var p Prompt
		if err := scanPrompt(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prompts: %w", err)
	}
	return prompts, nil
}

// Count returns the number of prompts in the catalog.
func (r *PostgresPromptRepository) Count(ctx context.Context) (int, error) {
	if r.db == nil {
		return 0, ErrNoDatabase
	}

	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM prompts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count prompts: %w", err)
	}
	return n, nil
}

// Upsert inserts a prompt or replaces the one with the same id.
func (r *PostgresPromptRepository) Upsert(ctx context.Context, p *Prompt) error {
	if r.db == nil {
		return ErrNoDatabase
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO prompts (prompt_id, prompt, expected_user_response, notes_for_ai, stage, level, lesson_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (prompt_id) DO UPDATE SET
			prompt = EXCLUDED.prompt,
			expected_user_response = EXCLUDED.expected_user_response,
			notes_for_ai = EXCLUDED.notes_for_ai,
			stage = EXCLUDED.stage,
			level = EXCLUDED.level,
			lesson_level = EXCLUDED.lesson_level
	`, p.ID, p.Prompt, p.ExpectedUserResponse, p.NotesForAI, p.Stage, p.Level, p.LessonLevel)
	if err != nil {
		return fmt.Errorf("failed to upsert prompt %d: %w", p.ID, err)
	}
	return nil
}
