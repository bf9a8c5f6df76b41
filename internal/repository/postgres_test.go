package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

func TestRepositories_NoDatabase(t *testing.T) {
	ctx := context.Background()
	users := NewPostgresUserRepository(nil)
	prompts := NewPostgresPromptRepository(nil)
	lessons := NewPostgresLessonRepository(nil)
	index := NewPgvectorPromptIndex(nil)

	checks := []struct {
		name string
		err  error
	}{
		{"users.Create", users.Create(ctx, &User{})},
		{"prompts.Upsert", prompts.Upsert(ctx, &Prompt{})},
		{"lessons.RecordAttempt", lessons.RecordAttempt(ctx, &Attempt{})},
		{"index.Upsert", index.Upsert(ctx, 1, nil)},
	}
	for _, c := range checks {
		if !errors.Is(c.err, ErrNoDatabase) {
			t.Errorf("%s: err = %v, want ErrNoDatabase", c.name, c.err)
		}
	}
	if FromClient(nil) != nil {
		t.Error("FromClient(nil) should be nil")
	}
}

func TestUserCreate_AppliesDefaults(t *testing.T) {
	now := time.Now()
	var gotArgs []any
	db := &mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			gotArgs = args
			return valuesRow(now, now)
		},
	}

	u := &User{ID: "u1", Name: "asha", PasswordHash: "hash", Language: "Hindi"}
	if err := NewPostgresUserRepository(db).Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.CurrentLevel != "Beginner" || u.CurrentStage != "L1" || u.ProgressID != 1 {
		t.Errorf("defaults = %s/%s/%d", u.CurrentLevel, u.CurrentStage, u.ProgressID)
	}
	if gotArgs[4] != "Beginner" || gotArgs[6] != 1 {
		t.Errorf("args = %v", gotArgs)
	}
	if !u.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt not scanned")
	}
}

func TestUserCreate_DuplicateName(t *testing.T) {
	db := &mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFunc: func(dest ...any) error {
				return &pgconn.PgError{Code: "23505"}
			}}
		},
	}
	err := NewPostgresUserRepository(db).Create(context.Background(), &User{Name: "asha"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestUserGetByName(t *testing.T) {
	now := time.Now()
	t.Run("found", func(t *testing.T) {
		db := &mockDB{
			queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
				if args[0] != "asha" {
					t.Errorf("arg = %v", args[0])
				}
				return valuesRow("u1", "asha", "hash", "Tamil", "Beginner", "L2", 27, now, now)
			},
		}
		u, err := NewPostgresUserRepository(db).GetByName(context.Background(), "asha")
		if err != nil {
			t.Fatalf("GetByName: %v", err)
		}
		if u.ID != "u1" || u.Language != "Tamil" || u.ProgressID != 27 || u.CurrentStage != "L2" {
			t.Errorf("user = %+v", u)
		}
	})

	t.Run("absent", func(t *testing.T) {
		u, err := NewPostgresUserRepository(&mockDB{}).GetByName(context.Background(), "nobody")
		if err != nil || u != nil {
			t.Fatalf("got (%v, %v), want (nil, nil)", u, err)
		}
	})
}

func TestUserUpdateProgress_Monotonic(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		changed bool
	}{
		{"advanced", "UPDATE 1", true},
		{"ignored", "UPDATE 0", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := &mockDB{
				execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
					if !strings.Contains(sql, "progress_id < $2") {
						t.Errorf("update is not guarded: %s", sql)
					}
					return pgconn.NewCommandTag(tc.tag), nil
				},
			}
			changed, err := NewPostgresUserRepository(db).UpdateProgress(context.Background(), "u1", 5)
			if err != nil {
				t.Fatalf("UpdateProgress: %v", err)
			}
			if changed != tc.changed {
				t.Errorf("changed = %v, want %v", changed, tc.changed)
			}
		})
	}
}

func TestUserUpdateLevelAndStage_Missing(t *testing.T) {
	db := &mockDB{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	err := NewPostgresUserRepository(db).UpdateLevelAndStage(context.Background(), "u1", "Intermediate", "L1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPromptGetAndList(t *testing.T) {
	row := []any{3, "How are you?", "I am fine", "be kind", "L1", "Beginner", 1}
	db := &mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return valuesRow(row...)
		},
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &mockRows{data: [][]any{row, {4, "Bye", "Goodbye", "", "L1", "Beginner", 1}}}, nil
		},
	}
	repo := NewPostgresPromptRepository(db)

	p, err := repo.Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.ID != 3 || p.ExpectedUserResponse != "I am fine" || p.NotesForAI != "be kind" {
		t.Errorf("prompt = %+v", p)
	}

	list, err := repo.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[1].ID != 4 {
		t.Errorf("list = %+v", list)
	}
}

func TestPromptGet_Absent(t *testing.T) {
	p, err := NewPostgresPromptRepository(&mockDB{}).Get(context.Background(), 999)
	if err != nil || p != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", p, err)
	}
}

func TestLessonHistory(t *testing.T) {
	now := time.Now()
	rows := &mockRows{data: [][]any{
		{2, "u1", 8, "great", "hello", 0.9, now},
		{1, "u1", 7, "good", "hi", 0.7, now.Add(-time.Hour)},
	}}
	db := &mockDB{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			if args[0] != "u1" || args[1] != 20 {
				t.Errorf("args = %v", args)
			}
			return rows, nil
		},
	}
	got, err := NewPostgresLessonRepository(db).History(context.Background(), "u1", 20)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 || got[0].PromptID != 8 || got[1].Score != 0.7 {
		t.Errorf("history = %+v", got)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

func TestLessonRecordAttempt(t *testing.T) {
	now := time.Now()
	db := &mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			if !strings.Contains(sql, "user_feedback") {
				t.Errorf("sql = %s", sql)
			}
			return valuesRow(11, now)
		},
	}
	a := &Attempt{UserID: "u1", PromptID: 3, Score: 0.4}
	if err := NewPostgresLessonRepository(db).RecordAttempt(context.Background(), a); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if a.ID != 11 {
		t.Errorf("ID = %d", a.ID)
	}
}

func TestPromptIndexSearch(t *testing.T) {
	db := &mockDB{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			if _, ok := args[0].(pgvector.Vector); !ok {
				t.Errorf("arg[0] = %T, want pgvector.Vector", args[0])
			}
			if args[1] != 2 {
				t.Errorf("k = %v", args[1])
			}
			return &mockRows{data: [][]any{
				{5, "Thank you", "You're welcome", "", "L1", "Beginner", 1, 0.12},
			}}, nil
		},
	}
	got, err := NewPgvectorPromptIndex(db).Search(context.Background(), []float32{0.1, 0.2}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Prompt.ID != 5 || got[0].Distance != 0.12 {
		t.Errorf("matches = %+v", got)
	}
}
