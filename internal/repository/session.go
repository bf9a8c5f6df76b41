package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// SessionState is where a learner is within the current lesson.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StatePresenting SessionState = "presenting"
	StateRecorded   SessionState = "recorded"
	StateProcessing SessionState = "processing"
	StateReviewed   SessionState = "reviewed"
)

// LessonResult is the outcome of scoring one spoken answer.
type LessonResult struct {
	UserInput      string  `json:"user_input"`
	Feedback       string  `json:"feedback"`
	Score          float64 `json:"score"`
	LessonComplete bool    `json:"lesson_complete"`
	Raw            string  `json:"raw_evaluation,omitempty"`
	RetryMessage   string  `json:"retry_message,omitempty"`
}

// LessonSession is the server-side state of one learner's lesson.
type LessonSession struct {
	UserID     string        `json:"user_id"`
	PromptID   int           `json:"prompt_id"`
	State      SessionState  `json:"state"`
	LessonText string        `json:"lesson_text,omitempty"`
	AudioKey   string        `json:"audio_key,omitempty"`
	Result     *LessonResult `json:"result,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// GetID returns the owning user's id; there is one session per user.
func (s *LessonSession) GetID() string {
	return s.UserID
}

// SessionStore persists lesson sessions keyed by user id.
type SessionStore interface {
	// Get returns (nil, nil) when the user has no session.
	Get(ctx context.Context, userID string) (*LessonSession, error)
	Save(ctx context.Context, s *LessonSession) error
	Delete(ctx context.Context, userID string) error
}

// InMemorySessionStore keeps sessions in process memory.
type InMemorySessionStore struct {
	repo *InMemoryRepository[*LessonSession]
}

// NewInMemorySessionStore creates an empty in-memory store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{repo: NewInMemoryRepository[*LessonSession]()}
}

// Get returns a copy of the stored session.
func (s *InMemorySessionStore) Get(ctx context.Context, userID string) (*LessonSession, error) {
	sess, err := s.repo.GetByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cloneSession(sess), nil
}

// Save stores a copy of the session.
func (s *InMemorySessionStore) Save(ctx context.Context, sess *LessonSession) error {
	return s.repo.Put(ctx, cloneSession(sess))
}

// Delete removes the session. Deleting a missing session is not an error.
func (s *InMemorySessionStore) Delete(ctx context.Context, userID string) error {
	if err := s.repo.Delete(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func cloneSession(s *LessonSession) *LessonSession {
	c := *s
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	return &c
}

// HashStore is the Redis hash surface the session store needs.
// *client.RedisClient satisfies it.
type HashStore interface {
	HSetWithTTL(ctx context.Context, key string, ttl time.Duration, values map[string]interface{}) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisSessionStore keeps each session in a Redis hash with a sliding TTL.
type RedisSessionStore struct {
	redis HashStore
	ttl   time.Duration
}

// NewRedisSessionStore creates a store whose keys expire ttl after the last
// write.
func NewRedisSessionStore(redis HashStore, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{redis: redis, ttl: ttl}
}

func sessionKey(userID string) string {
	return "lesson:session:" + userID
}

// Get loads the session hash for userID.
func (s *RedisSessionStore) Get(ctx context.Context, userID string) (*LessonSession, error) {
	fields, err := s.redis.HGetAll(ctx, sessionKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	sess := &LessonSession{
		UserID:     userID,
		State:      SessionState(fields["state"]),
		LessonText: fields["lesson_text"],
		AudioKey:   fields["audio_key"],
	}
	if sess.PromptID, err = strconv.Atoi(fields["prompt_id"]); err != nil {
		return nil, fmt.Errorf("corrupt session prompt_id %q: %w", fields["prompt_id"], err)
	}
	if raw := fields["result"]; raw != "" {
		var res LessonResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, fmt.Errorf("corrupt session result: %w", err)
		}
		sess.Result = &res
	}
	if ts := fields["updated_at"]; ts != "" {
		sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return sess, nil
}

// Save writes every session field and refreshes the TTL.
func (s *RedisSessionStore) Save(ctx context.Context, sess *LessonSession) error {
	result := ""
	if sess.Result != nil {
		data, err := json.Marshal(sess.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		result = string(data)
	}

	err := s.redis.HSetWithTTL(ctx, sessionKey(sess.UserID), s.ttl, map[string]interface{}{
		"user_id":     sess.UserID,
		"prompt_id":   strconv.Itoa(sess.PromptID),
		"state":       string(sess.State),
		"lesson_text": sess.LessonText,
		"audio_key":   sess.AudioKey,
		"result":      result,
		"updated_at":  sess.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes the session hash.
func (s *RedisSessionStore) Delete(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, sessionKey(userID)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
