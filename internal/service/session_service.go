package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/windfall/langodyssey/internal/client"
	"github.com/windfall/langodyssey/internal/errors"
	"github.com/windfall/langodyssey/internal/observe"
	"github.com/windfall/langodyssey/internal/repository"
)

const (
	// Redis key prefix for async lesson results
	lessonResultKeyPrefix = "lesson:result:"
	// TTL for async results in Redis
	resultTTL = 60 * time.Second
	// Default timeout for BLPOP waiting
	defaultResultWait = 10 * time.Second
	// Upper bound for a background Process run
	asyncProcessTimeout = 2 * time.Minute
	// Budget for writes that must land after the caller has gone away
	detachedTimeout = 5 * time.Second

	retryMessage     = "Let's try that lesson again!"
	stageDoneMessage = "Congratulations! You completed a stage!"
	levelDoneMessage = "Congratulations! You completed a level!"
)

// LessonRunner runs the lesson chains. *LessonService satisfies it.
type LessonRunner interface {
	StartLesson(ctx context.Context, req LessonRequest) (string, error)
	ProcessResponse(ctx context.Context, req LessonRequest, threshold float64, audio []byte) (*repository.LessonResult, error)
}

// Translator localises short UI messages. *SpeechService satisfies it.
type Translator interface {
	Available() bool
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// ResultQueue carries async results from the background run to the poller.
// *client.RedisClient satisfies it.
type ResultQueue interface {
	RPush(ctx context.Context, key string, value interface{}) error
	SetExpiry(ctx context.Context, key string, ttl time.Duration) error
	BLPop(ctx context.Context, timeout time.Duration, key string) ([]byte, error)
}

// Notifier pushes session events to a learner's live connections.
type Notifier interface {
	Notify(userID string, event SessionEvent)
}

// ProgressPublisher emits lesson completion events. *client.PubSubClient
// satisfies it.
type ProgressPublisher interface {
	PublishWithAttributes(ctx context.Context, data interface{}, attrs map[string]string) error
}

// SessionEvent is pushed to WebSocket clients on every state change.
type SessionEvent struct {
	Type      string                   `json:"type"`
	UserID    string                   `json:"user_id"`
	PromptID  int                      `json:"prompt_id"`
	State     repository.SessionState  `json:"state"`
	Milestone string                   `json:"milestone,omitempty"`
	Result    *repository.LessonResult `json:"result,omitempty"`
	At        time.Time                `json:"at"`
}

// ProgressEvent is published when a learner advances past a lesson.
type ProgressEvent struct {
	UserID       string    `json:"user_id"`
	PromptID     int       `json:"prompt_id"`
	NextPromptID int       `json:"next_prompt_id"`
	Level        string    `json:"level"`
	Stage        string    `json:"stage"`
	Milestone    string    `json:"milestone,omitempty"`
	Score        float64   `json:"score"`
	CompletedAt  time.Time `json:"completed_at"`
}

// SessionView is the learner-facing snapshot of a lesson session.
type SessionView struct {
	UserID           string                   `json:"user_id"`
	PromptID         int                      `json:"prompt_id"`
	State            repository.SessionState  `json:"state"`
	LessonText       string                   `json:"lesson_text,omitempty"`
	HasAudio         bool                     `json:"has_audio"`
	Result           *repository.LessonResult `json:"result,omitempty"`
	Level            string                   `json:"level"`
	Stage            string                   `json:"stage"`
	Language         string                   `json:"language"`
	Threshold        float64                  `json:"threshold"`
	Milestone        string                   `json:"milestone,omitempty"`
	MilestoneMessage string                   `json:"milestone_message,omitempty"`
}

// AsyncResult is what AwaitResult returns for a ProcessAsync request.
type AsyncResult struct {
	RequestID string           `json:"request_id"`
	UserID    string           `json:"user_id"`
	Session   *SessionView     `json:"session,omitempty"`
	Error     *errors.AppError `json:"error,omitempty"`
}

// SessionConfig tunes the session state machine. Zero ResultWait and
// ProcessTimeout fall back to 10 seconds and 2 minutes.
type SessionConfig struct {
	PassThreshold  float64
	Curriculum     Curriculum
	MaxAudioBytes  int64
	ResultWait     time.Duration
	ProcessTimeout time.Duration
}

// SessionDeps are the collaborators of SessionService. Audio, Queue,
// Notifier, Publisher, Translator and Metrics are optional.
type SessionDeps struct {
	Sessions   repository.SessionStore
	Users      repository.UserRepository
	History    repository.LessonRepository
	Lessons    LessonRunner
	Audio      AudioStore
	Translator Translator
	Queue      ResultQueue
	Notifier   Notifier
	Publisher  ProgressPublisher
	Metrics    *observe.Metrics
}

// SessionService drives the per-learner lesson state machine:
// idle -> presenting -> recorded -> processing -> reviewed -> idle.
type SessionService struct {
	deps  SessionDeps
	cfg   SessionConfig
	locks *keyedMutex
	log   zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(deps SessionDeps, cfg SessionConfig, log zerolog.Logger) *SessionService {
	if deps.Audio == nil {
		deps.Audio = NewMemoryAudioStore()
	}
	if cfg.ResultWait <= 0 {
		cfg.ResultWait = defaultResultWait
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = asyncProcessTimeout
	}
	return &SessionService{
		deps:  deps,
		cfg:   cfg,
		locks: newKeyedMutex(),
		log:   log,
	}
}

// State returns the learner's current session without changing it.
func (s *SessionService) State(ctx context.Context, userID string) (*SessionView, error) {
	sess, user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(sess, user), nil
}

// Start presents the current lesson. Starting an already presented lesson
// returns it unchanged.
func (s *SessionService) Start(ctx context.Context, userID string) (*SessionView, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	sess, user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch sess.State {
	case repository.StatePresenting:
		return s.view(sess, user), nil
	case repository.StateIdle:
	default:
		return nil, conflict("start", sess.State)
	}

	lesson, err := s.deps.Lessons.StartLesson(ctx, s.request(sess, user))
	if err != nil {
		return nil, err
	}

	sess.LessonText = lesson
	sess.State = repository.StatePresenting
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	s.notify(sess, "lesson.started", "")
	return s.view(sess, user), nil
}

// SaveAudio validates and stores the learner's WAV recording. Saving again
// before processing replaces the previous recording.
func (s *SessionService) SaveAudio(ctx context.Context, userID string, data []byte) (*SessionView, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	sess, user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess.State != repository.StatePresenting && sess.State != repository.StateRecorded {
		return nil, conflict("save audio", sess.State)
	}

	info, err := ValidateRecording(data, s.cfg.MaxAudioBytes)
	if err != nil {
		return nil, err
	}

	key := RecordingKey(userID, sess.PromptID)
	if err := s.deps.Audio.Put(ctx, key, data, "audio/wav"); err != nil {
		return nil, errors.Wrap(errors.ErrStorageService, "failed to store recording", err)
	}

	sess.AudioKey = key
	sess.State = repository.StateRecorded
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("user_id", userID).
		Int("prompt_id", sess.PromptID).
		Dur("duration", info.Duration).
		Int("sample_rate", info.SampleRate).
		Msg("Recording saved")
	s.notify(sess, "audio.saved", "")
	return s.view(sess, user), nil
}

// Process scores the saved recording. On failure the session returns to
// recorded so the learner can try processing again.
func (s *SessionService) Process(ctx context.Context, userID string) (*SessionView, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	sess, user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess.State != repository.StateRecorded {
		return nil, conflict("process", sess.State)
	}

	audio, err := s.deps.Audio.Get(ctx, sess.AudioKey)
	if err != nil {
		if stderrors.Is(err, ErrAudioNotFound) {
			sess.State = repository.StatePresenting
			sess.AudioKey = ""
			if saveErr := s.saveDetached(ctx, sess); saveErr != nil {
				s.log.Error().Err(saveErr).Str("user_id", userID).Msg("Failed to reset session after expired recording")
			}
			return nil, errors.Conflict("recording expired, please record again")
		}
		return nil, errors.Wrap(errors.ErrStorageService, "failed to load recording", err)
	}

	sess.State = repository.StateProcessing
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	s.notify(sess, "processing.started", "")

	result, err := s.deps.Lessons.ProcessResponse(ctx, s.request(sess, user), s.cfg.PassThreshold, audio)
	if err != nil {
		sess.State = repository.StateRecorded
		if saveErr := s.saveDetached(ctx, sess); saveErr != nil {
			s.log.Error().Err(saveErr).Str("user_id", userID).Msg("Failed to restore session after processing error")
		}
		s.notify(sess, "processing.failed", "")
		return nil, err
	}

	if !result.LessonComplete {
		result.RetryMessage = s.localise(ctx, retryMessage, user.Language)
	}

	if s.deps.History != nil {
		attempt := &repository.Attempt{
			UserID:     userID,
			PromptID:   sess.PromptID,
			Transcript: result.UserInput,
			Feedback:   result.Feedback,
			Score:      result.Score,
		}
		if err := s.deps.History.RecordAttempt(ctx, attempt); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to record attempt")
		}
	}

	sess.Result = result
	sess.State = repository.StateReviewed
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	s.notify(sess, "processing.completed", "")
	return s.view(sess, user), nil
}

// ProcessAsync runs Process in the background and returns a request id for
// AwaitResult.
func (s *SessionService) ProcessAsync(ctx context.Context, userID string) (string, error) {
	if s.deps.Queue == nil {
		return "", errors.Internal("result queue not configured")
	}

	sess, _, err := s.load(ctx, userID)
	if err != nil {
		return "", err
	}
	if sess.State != repository.StateRecorded {
		return "", conflict("process", sess.State)
	}

	requestID := fmt.Sprintf("req_%s", uuid.New().String())
	go s.processInBackground(requestID, userID)

	s.log.Info().Str("request_id", requestID).Str("user_id", userID).Msg("Processing spawned")
	return requestID, nil
}

func (s *SessionService) processInBackground(requestID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProcessTimeout)
	defer cancel()

	out := AsyncResult{RequestID: requestID, UserID: userID}
	view, err := s.Process(ctx, userID)
	cancel()
	if err != nil {
		appErr, ok := errors.As(err)
		if !ok {
			appErr = errors.InternalWrap("processing failed", err)
		}
		out.Error = appErr
	} else {
		out.Session = view
	}

	pushCtx, cancelPush := context.WithTimeout(context.Background(), detachedTimeout)
	defer cancelPush()

	key := resultKey(userID, requestID)
	if err := s.deps.Queue.RPush(pushCtx, key, out); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to push result to Redis")
		return
	}
	if err := s.deps.Queue.SetExpiry(pushCtx, key, resultTTL); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to set Redis key expiry")
	}
}

// AwaitResult waits up to the configured wait for a ProcessAsync result.
func (s *SessionService) AwaitResult(ctx context.Context, userID, requestID string) (*AsyncResult, error) {
	if s.deps.Queue == nil {
		return nil, errors.Internal("result queue not configured")
	}
	if requestID == "" {
		return nil, errors.Validation("request_id is required")
	}

	data, err := s.deps.Queue.BLPop(ctx, s.cfg.ResultWait, resultKey(userID, requestID))
	if err != nil {
		if stderrors.Is(err, client.ErrRedisNil) {
			s.log.Warn().Str("request_id", requestID).Msg("BLPOP timeout - no result available")
			return nil, errors.New(errors.ErrTimeout, "lesson result not ready, please try again")
		}
		return nil, errors.Wrap(errors.ErrDatabase, "failed to get result from Redis", err)
	}

	var out AsyncResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.InternalWrap("failed to decode result", err)
	}
	if out.UserID != userID {
		return nil, errors.NotFound("request")
	}
	return &out, nil
}

// Continue advances a learner whose reviewed answer cleared the threshold.
func (s *SessionService) Continue(ctx context.Context, userID string) (*SessionView, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	sess, user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess.State != repository.StateReviewed || sess.Result == nil {
		return nil, conflict("continue", sess.State)
	}
	if !sess.Result.LessonComplete {
		return nil, errors.Conflict("lesson is not complete; retry instead")
	}

	result := sess.Result
	next := s.cfg.Curriculum.Advance(sess.PromptID, user.CurrentLevel, user.CurrentStage)

	// Stored progress that already covers next means an earlier Continue
	// wrote the user and history but failed to save the session. The
	// learner's level and stage are not advanced a second time.
	applied := user.ProgressID < next.PromptID
	if applied {
		changed, err := s.deps.Users.UpdateProgress(ctx, userID, next.PromptID)
		if err != nil {
			return nil, errors.Database("failed to update progress", err)
		}
		applied = changed
	}
	if applied {
		if err := s.applyCompletion(ctx, sess, user, next); err != nil {
			return nil, err
		}
	} else {
		s.log.Info().
			Str("user_id", userID).
			Int("prompt_id", sess.PromptID).
			Int("progress_id", user.ProgressID).
			Msg("Completion already applied, moving session forward")
	}

	completed := sess.PromptID
	s.discardAudio(ctx, sess)
	sess.PromptID = next.PromptID
	sess.State = repository.StateIdle
	sess.LessonText = ""
	sess.Result = nil
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}

	// Events follow the session save, so a replay still emits them once.
	s.deps.Metrics.RecordCompletion(ctx, next.Milestone)
	s.publish(ctx, ProgressEvent{
		UserID:       userID,
		PromptID:     completed,
		NextPromptID: next.PromptID,
		Level:        user.CurrentLevel,
		Stage:        user.CurrentStage,
		Milestone:    next.Milestone,
		Score:        result.Score,
		CompletedAt:  time.Now().UTC(),
	})
	s.notify(sess, "lesson.completed", next.Milestone)

	s.log.Info().
		Str("user_id", userID).
		Int("next_prompt_id", next.PromptID).
		Str("milestone", next.Milestone).
		Msg("Learner advanced")

	v := s.view(sess, user)
	v.Milestone = next.Milestone
	v.MilestoneMessage = s.milestoneMessage(ctx, next.Milestone, user.Language)
	return v, nil
}

// applyCompletion persists a milestone and records the completed lesson.
// user is updated in place.
func (s *SessionService) applyCompletion(ctx context.Context, sess *repository.LessonSession, user *repository.User, next Progress) error {
	if next.Milestone != MilestoneNone {
		if err := s.deps.Users.UpdateLevelAndStage(ctx, user.ID, next.Level, next.Stage); err != nil {
			return errors.Database("failed to update level and stage", err)
		}
		user.CurrentLevel, user.CurrentStage = next.Level, next.Stage
	}
	user.ProgressID = next.PromptID

	if s.deps.History != nil {
		completion := &repository.Completion{
			UserID:     user.ID,
			PromptID:   sess.PromptID,
			AIFeedback: sess.Result.Feedback,
			Transcript: sess.Result.UserInput,
			Score:      sess.Result.Score,
		}
		if err := s.deps.History.RecordCompletion(ctx, completion); err != nil {
			s.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to record completion")
		}
	}
	return nil
}

// Retry discards an incomplete result so the learner can record again.
func (s *SessionService) Retry(ctx context.Context, userID string) (*SessionView, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	sess, user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess.State != repository.StateReviewed || sess.Result == nil {
		return nil, conflict("retry", sess.State)
	}
	if sess.Result.LessonComplete {
		return nil, errors.Conflict("lesson is complete; continue instead")
	}

	s.discardAudio(ctx, sess)
	sess.Result = nil
	sess.State = repository.StatePresenting
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	s.notify(sess, "lesson.retry", "")
	return s.view(sess, user), nil
}

// Reset returns the session to idle without touching progress.
func (s *SessionService) Reset(ctx context.Context, userID string) (*SessionView, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	sess, user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.discardAudio(ctx, sess)
	sess.LessonText = ""
	sess.Result = nil
	sess.State = repository.StateIdle
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	s.notify(sess, "lesson.reset", "")
	return s.view(sess, user), nil
}

// Exit persists the learner's progress and ends the session. It returns the
// prompt id the learner will resume at.
func (s *SessionService) Exit(ctx context.Context, userID string) (int, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	sess, user, err := s.load(ctx, userID)
	if err != nil {
		return 0, err
	}

	if _, err := s.deps.Users.UpdateProgress(ctx, userID, sess.PromptID); err != nil {
		return 0, errors.Database("failed to persist progress", err)
	}
	resume := sess.PromptID
	if user.ProgressID > resume {
		resume = user.ProgressID
	}
	s.discardAudio(ctx, sess)
	if err := s.deps.Sessions.Delete(ctx, userID); err != nil {
		return 0, errors.Database("failed to delete session", err)
	}

	sess.State = repository.StateIdle
	s.notify(sess, "session.exited", "")
	s.log.Info().Str("user_id", userID).Int("prompt_id", resume).Msg("Learner exited")
	return resume, nil
}

// History returns the learner's completed lessons, newest first.
func (s *SessionService) History(ctx context.Context, userID string, limit int) ([]repository.Completion, error) {
	if s.deps.History == nil {
		return []repository.Completion{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	out, err := s.deps.History.History(ctx, userID, limit)
	if err != nil {
		return nil, errors.Database("failed to load history", err)
	}
	if out == nil {
		out = []repository.Completion{}
	}
	return out, nil
}

// load returns the learner and their session, creating an idle session at
// the learner's stored progress when none exists.
func (s *SessionService) load(ctx context.Context, userID string) (*repository.LessonSession, *repository.User, error) {
	user, err := s.deps.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, errors.Database("failed to load user", err)
	}
	if user == nil {
		return nil, nil, errors.Unauthorized("unknown user")
	}

	sess, err := s.deps.Sessions.Get(ctx, userID)
	if err != nil {
		return nil, nil, errors.Database("failed to load session", err)
	}
	if sess == nil {
		promptID := user.ProgressID
		if promptID <= 0 {
			promptID = repository.DefaultProgress
		}
		sess = &repository.LessonSession{
			UserID:   userID,
			PromptID: promptID,
			State:    repository.StateIdle,
		}
	}
	return sess, user, nil
}

func (s *SessionService) save(ctx context.Context, sess *repository.LessonSession) error {
	sess.UpdatedAt = time.Now().UTC()
	if err := s.deps.Sessions.Save(ctx, sess); err != nil {
		return errors.Database("failed to save session", err)
	}
	return nil
}

// saveDetached saves sess even when ctx has been cancelled, so failure paths
// can still restore a retryable state after the client has gone away.
func (s *SessionService) saveDetached(ctx context.Context, sess *repository.LessonSession) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()
	return s.save(ctx, sess)
}

func resultKey(userID, requestID string) string {
	return lessonResultKeyPrefix + userID + ":" + requestID
}

func (s *SessionService) request(sess *repository.LessonSession, user *repository.User) LessonRequest {
	return LessonRequest{
		PromptID: sess.PromptID,
		Level:    user.CurrentLevel,
		Stage:    user.CurrentStage,
		Language: user.Language,
	}
}

func (s *SessionService) view(sess *repository.LessonSession, user *repository.User) *SessionView {
	return &SessionView{
		UserID:     sess.UserID,
		PromptID:   sess.PromptID,
		State:      sess.State,
		LessonText: sess.LessonText,
		HasAudio:   sess.AudioKey != "",
		Result:     sess.Result,
		Level:      user.CurrentLevel,
		Stage:      user.CurrentStage,
		Language:   user.Language,
		Threshold:  s.cfg.PassThreshold,
	}
}

func (s *SessionService) discardAudio(ctx context.Context, sess *repository.LessonSession) {
	if sess.AudioKey == "" {
		return
	}
	if err := s.deps.Audio.Delete(ctx, sess.AudioKey); err != nil {
		s.log.Warn().Err(err).Str("key", sess.AudioKey).Msg("Failed to delete recording")
	}
	sess.AudioKey = ""
}

func (s *SessionService) localise(ctx context.Context, text, language string) string {
	if s.deps.Translator == nil || !s.deps.Translator.Available() {
		return text
	}
	out, err := s.deps.Translator.Translate(ctx, text, language)
	if err != nil || out == "" {
		s.log.Warn().Err(err).Str("language", language).Msg("Translation failed, using English")
		return text
	}
	return out
}

func (s *SessionService) milestoneMessage(ctx context.Context, milestone, language string) string {
	switch milestone {
	case MilestoneStage:
		return s.localise(ctx, stageDoneMessage, language)
	case MilestoneLevel:
		return s.localise(ctx, levelDoneMessage, language)
	}
	return ""
}

func (s *SessionService) notify(sess *repository.LessonSession, eventType, milestone string) {
	if s.deps.Notifier == nil {
		return
	}
	s.deps.Notifier.Notify(sess.UserID, SessionEvent{
		Type:      eventType,
		UserID:    sess.UserID,
		PromptID:  sess.PromptID,
		State:     sess.State,
		Milestone: milestone,
		Result:    sess.Result,
		At:        time.Now().UTC(),
	})
}

func (s *SessionService) publish(ctx context.Context, ev ProgressEvent) {
	if s.deps.Publisher == nil {
		return
	}
	attrs := map[string]string{"event": "lesson.completed", "user_id": ev.UserID}
	if ev.Milestone != "" {
		attrs["milestone"] = ev.Milestone
	}
	if err := s.deps.Publisher.PublishWithAttributes(ctx, ev, attrs); err != nil {
		s.log.Warn().Err(err).Str("user_id", ev.UserID).Msg("Failed to publish progress event")
	}
}

func conflict(op string, state repository.SessionState) *errors.AppError {
	return errors.Conflict(fmt.Sprintf("cannot %s while lesson is %s", op, state)).
		WithDetails(map[string]interface{}{"state": state})
}

// keyedMutex serialises work per key and frees idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
