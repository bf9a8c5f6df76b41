package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/langodyssey/internal/errors"
	"github.com/windfall/langodyssey/internal/observe"
	"github.com/windfall/langodyssey/internal/prompt"
	"github.com/windfall/langodyssey/internal/repository"
	"github.com/windfall/langodyssey/internal/resilience"
)

// LLM completes a single rendered prompt. *client.OpenAIClient and
// *client.GeminiClient satisfy it.
type LLM interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Transcriber turns a recording into text.
type Transcriber interface {
	SpeechToText(ctx context.Context, audio []byte, language string) (string, error)
}

// LessonRequest identifies the lesson and the learner context for the chains.
type LessonRequest struct {
	PromptID int
	Level    string
	Stage    string
	Language string
}

// LessonService runs the lesson, tutor and evaluation chains. It holds no
// per-learner state.
type LessonService struct {
	prompts repository.PromptRepository
	llm     LLM
	stt     Transcriber
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
	log     zerolog.Logger
}

// NewLessonService creates a new LessonService. breaker and metrics may be nil.
func NewLessonService(
	prompts repository.PromptRepository,
	llm LLM,
	stt Transcriber,
	breaker *resilience.CircuitBreaker,
	metrics *observe.Metrics,
	log zerolog.Logger,
) *LessonService {
	return &LessonService{
		prompts: prompts,
		llm:     llm,
		stt:     stt,
		breaker: breaker,
		metrics: metrics,
		log:     log,
	}
}

// StartLesson renders and runs the presentation chain for a prompt.
func (s *LessonService) StartLesson(ctx context.Context, req LessonRequest) (string, error) {
	p, err := s.getPrompt(ctx, req.PromptID)
	if err != nil {
		return "", err
	}

	rendered, err := prompt.Lesson(prompt.Vars{
		Level:                req.Level,
		Stage:                req.Stage,
		Prompt:               p.Prompt,
		Language:             req.Language,
		ExpectedUserResponse: p.ExpectedUserResponse,
	})
	if err != nil {
		return "", err
	}

	lesson, err := s.complete(ctx, "lesson", rendered)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(lesson) == "" {
		return "", errors.New(errors.ErrAIService, "failed to load lesson")
	}

	s.log.Debug().Int("prompt_id", req.PromptID).Msg("Lesson generated")
	return lesson, nil
}

// ProcessResponse transcribes a recording, asks the tutor chain for feedback
// and the evaluation chain for a score. Steps run in order; the first
// failure aborts.
func (s *LessonService) ProcessResponse(ctx context.Context, req LessonRequest, threshold float64, audio []byte) (*repository.LessonResult, error) {
	p, err := s.getPrompt(ctx, req.PromptID)
	if err != nil {
		return nil, err
	}

	if s.stt == nil {
		return nil, errors.New(errors.ErrSpeechService, "speech client not configured")
	}
	transcript, err := s.stt.SpeechToText(ctx, audio, req.Language)
	if err != nil {
		return nil, wrapSpeech("failed to transcribe audio", err)
	}

	tutor, err := prompt.Tutor(prompt.Vars{
		Level:                req.Level,
		Stage:                req.Stage,
		Prompt:               p.Prompt,
		NotesForAI:           p.NotesForAI,
		Input:                transcript,
		ExpectedUserResponse: p.ExpectedUserResponse,
		Language:             req.Language,
	})
	if err != nil {
		return nil, err
	}
	feedback, err := s.complete(ctx, "tutor", tutor)
	if err != nil {
		return nil, err
	}

	evaluation, err := prompt.Evaluation(prompt.Vars{
		Level:                req.Level,
		Stage:                req.Stage,
		Feedback:             feedback,
		ExpectedUserResponse: p.ExpectedUserResponse,
		Input:                transcript,
		Language:             req.Language,
	})
	if err != nil {
		return nil, err
	}
	raw, err := s.complete(ctx, "evaluation", evaluation)
	if err != nil {
		return nil, err
	}

	score := ParseScore(raw)
	result := &repository.LessonResult{
		UserInput:      transcript,
		Feedback:       feedback,
		Score:          score,
		LessonComplete: IsComplete(score, threshold),
		Raw:            raw,
	}
	s.metrics.RecordAttempt(ctx, result.LessonComplete)

	s.log.Info().
		Int("prompt_id", req.PromptID).
		Float64("score", score).
		Bool("complete", result.LessonComplete).
		Msg("Response evaluated")

	return result, nil
}

func (s *LessonService) getPrompt(ctx context.Context, id int) (*repository.Prompt, error) {
	p, err := s.prompts.Get(ctx, id)
	if err != nil {
		return nil, errors.Database("failed to load prompt", err)
	}
	if p == nil {
		return nil, errors.NotFound("prompt")
	}
	return p, nil
}

// complete runs one chain call through the breaker and records its metrics.
func (s *LessonService) complete(ctx context.Context, chain, rendered string) (string, error) {
	if s.llm == nil {
		return "", errors.New(errors.ErrAIService, "LLM client not configured")
	}

	var out string
	start := time.Now()
	err := s.breaker.Execute(func() error {
		var err error
		out, err = s.llm.Complete(ctx, rendered)
		return err
	})
	s.metrics.ObserveCall(ctx, s.llm.Name(), observe.KindLLM, start, err)

	if err != nil {
		s.log.Error().Err(err).Str("chain", chain).Msg("LLM call failed")
		return "", errors.Wrap(errors.ErrAIService, "failed to run "+chain+" chain", err)
	}
	return out, nil
}
