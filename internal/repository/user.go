package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Learner defaults applied on registration.
const (
	DefaultLevel    = "Beginner"
	DefaultStage    = "L1"
	DefaultProgress = 1
)

// User is a learner account with its curriculum position.
type User struct {
	ID           string    `json:"user_id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Language     string    `json:"language"`
	CurrentLevel string    `json:"current_level"`
	CurrentStage string    `json:"current_stage"`
	ProgressID   int       `json:"progress_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserRepository defines the interface for user data access.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByName(ctx context.Context, name string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	UpdateProgress(ctx context.Context, id string, progressID int) (bool, error)
	UpdateLevelAndStage(ctx context.Context, id, level, stage string) error
}

// PostgresUserRepository implements UserRepository with PostgreSQL.
type PostgresUserRepository struct {
	db DB
}

// NewPostgresUserRepository creates a new PostgresUserRepository.
func NewPostgresUserRepository(db DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

const userColumns = `user_id, name, password_hash, language, current_level, current_stage, COALESCE(progress_id, 1), created_at, updated_at`

// Create inserts a new user. Empty level, stage and progress get the
// learner defaults. A duplicate name returns ErrAlreadyExists.
func (r *PostgresUserRepository) Create(ctx context.Context, user *User) error {
	if r.db == nil {
		return ErrNoDatabase
	}
	if user.CurrentLevel == "" {
		user.CurrentLevel = DefaultLevel
	}
	if user.CurrentStage == "" {
		user.CurrentStage = DefaultStage
	}
	if user.ProgressID <= 0 {
		user.ProgressID = DefaultProgress
	}

	query := `
		INSERT INTO users (user_id, name, password_hash, language, current_level, current_stage, progress_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		user.ID,
		user.Name,
		user.PasswordHash,
		user.Language,
		user.CurrentLevel,
		user.CurrentStage,
		user.ProgressID,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByName retrieves a user by login name. Returns (nil, nil) when absent.
func (r *PostgresUserRepository) GetByName(ctx context.Context, name string) (*User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE name = $1`, name)
}

// GetByID retrieves a user by id. Returns (nil, nil) when absent.
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, id)
}

func (r *PostgresUserRepository) getOne(ctx context.Context, query string, arg any) (*User, error) {
	if r.db == nil {
		return nil, ErrNoDatabase
	}

	var user User
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Name,
		&user.PasswordHash,
		&user.Language,
		&user.CurrentLevel,
		&user.CurrentStage,
		&user.ProgressID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// UpdateProgress moves the user's progress forward. Values that are not
// greater than the stored progress are ignored; the result reports whether
// a row changed.
func (r *PostgresUserRepository) UpdateProgress(ctx context.Context, id string, progressID int) (bool, error) {
	if r.db == nil {
		return false, ErrNoDatabase
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET progress_id = $2, updated_at = NOW()
		WHERE user_id = $1 AND (progress_id IS NULL OR progress_id < $2)
	`, id, progressID)
	if err != nil {
		return false, fmt.Errorf("failed to update progress: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateLevelAndStage sets the user's level and stage.
func (r *PostgresUserRepository) UpdateLevelAndStage(ctx context.Context, id, level, stage string) error {
	if r.db == nil {
		return ErrNoDatabase
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET current_level = $2, current_stage = $3, updated_at = NOW()
		WHERE user_id = $1
	`, id, level, stage)
	if err != nil {
		return fmt.Errorf("failed to update level and stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
