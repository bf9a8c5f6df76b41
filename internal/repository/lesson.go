package repository

import (
	"context"
	"fmt"
	"time"
)

// Attempt is one scored answer, kept in user_feedback.
type Attempt struct {
	ID         int       `json:"id"`
	UserID     string    `json:"user_id"`
	PromptID   int       `json:"prompt_id"`
	Transcript string    `json:"transcript"`
	Feedback   string    `json:"feedback"`
	Score      float64   `json:"score"`
	CreatedAt  time.Time `json:"created_at"`
}

// Completion is one lesson the learner advanced past, kept in lessons.
type Completion struct {
	ID          int       `json:"id"`
	UserID      string    `json:"user_id"`
	PromptID    int       `json:"prompt_id"`
	AIFeedback  string    `json:"ai_feedback"`
	Transcript  string    `json:"transcript"`
	Score       float64   `json:"score"`
	CompletedAt time.Time `json:"completed_at"`
}

// LessonRepository records attempts and completions.
type LessonRepository interface {
	RecordAttempt(ctx context.Context, a *Attempt) error
	RecordCompletion(ctx context.Context, c *Completion) error
	History(ctx context.Context, userID string, limit int) ([]Completion, error)
}

// PostgresLessonRepository implements LessonRepository with PostgreSQL.
type PostgresLessonRepository struct {
	db DB
}

// NewPostgresLessonRepository creates a new PostgresLessonRepository.
func NewPostgresLessonRepository(db DB) *PostgresLessonRepository {
	return &PostgresLessonRepository{db: db}
}

// RecordAttempt inserts a scored attempt.
func (r *PostgresLessonRepository) RecordAttempt(ctx context.Context, a *Attempt) error {
	if r.db == nil {
		return ErrNoDatabase
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO user_feedback (user_id, prompt_id, transcript, feedback, score)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, a.UserID, a.PromptID, a.Transcript, a.Feedback, a.Score).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// RecordCompletion inserts a completed lesson.
func (r *PostgresLessonRepository) RecordCompletion(ctx context.Context, c *Completion) error {
	if r.db == nil {
		return ErrNoDatabase
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO lessons (user_id, prompt_id, ai_feedback, transcript, score, completed_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, completed_at
	`, c.UserID, c.PromptID, c.AIFeedback, c.Transcript, c.Score).Scan(&c.ID, &c.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}
	return nil
}

// History returns the user's completed lessons, newest first.
func (r *PostgresLessonRepository) History(ctx context.Context, userID string, limit int) ([]Completion, error) {
	if r.db == nil {
		return nil, ErrNoDatabase
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, prompt_id, COALESCE(ai_feedback, ''), COALESCE(transcript, ''), COALESCE(score, 0), completed_at
		FROM lessons
		WHERE user_id = $1
		ORDER BY completed_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Completion
	for rows.Next() {
		var c Completion
		if err := rows.Scan(&c.ID, &c.UserID, &c.PromptID, &c.AIFeedback, &c.Transcript, &c.Score, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return out, nil
}
