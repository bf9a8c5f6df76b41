package service

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/windfall/langodyssey/internal/errors"
	"github.com/windfall/langodyssey/internal/repository"
)

// SpeechVendor is the synthesis and translation side of the speech gateway.
// *client.SarvamClient satisfies it.
type SpeechVendor interface {
	Configured() bool
	TextToSpeech(ctx context.Context, text, language string) ([]byte, error)
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// SpeechService serves expected-response audio and translations.
type SpeechService struct {
	prompts repository.PromptRepository
	vendor  SpeechVendor
	audio   AudioStore
	log     zerolog.Logger
}

// NewSpeechService creates a new SpeechService.
func NewSpeechService(prompts repository.PromptRepository, vendor SpeechVendor, audio AudioStore, log zerolog.Logger) *SpeechService {
	return &SpeechService{
		prompts: prompts,
		vendor:  vendor,
		audio:   audio,
		log:     log,
	}
}

// Available reports whether the vendor has credentials.
func (s *SpeechService) Available() bool {
	return s.vendor != nil && s.vendor.Configured()
}

// ExpectedResponseAudio returns spoken audio of a prompt's expected answer,
// synthesising and caching it on first use.
func (s *SpeechService) ExpectedResponseAudio(ctx context.Context, promptID int, language string) ([]byte, error) {
	key := ExpectedAudioKey(language, promptID)
	if s.audio != nil {
		data, err := s.audio.Get(ctx, key)
		if err == nil {
			return data, nil
		}
		if !stderrors.Is(err, ErrAudioNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("Audio cache read failed")
		}
	}

	p, err := s.prompts.Get(ctx, promptID)
	if err != nil {
		return nil, errors.Database("failed to load prompt", err)
	}
	if p == nil {
		return nil, errors.NotFound("prompt")
	}
	if !s.Available() {
		return nil, errors.New(errors.ErrAIService, "speech vendor credentials not configured")
	}

	data, err := s.vendor.TextToSpeech(ctx, p.ExpectedUserResponse, language)
	if err != nil {
		return nil, wrapSpeech("failed to synthesise expected response", err)
	}

	if s.audio != nil {
		if err := s.audio.Put(ctx, key, data, "audio/wav"); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Audio cache write failed")
		}
	}
	return data, nil
}

// Translate translates text into targetLanguage.
func (s *SpeechService) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.Validation("text is required")
	}
	if strings.TrimSpace(targetLanguage) == "" {
		return "", errors.Validation("target_language is required")
	}
	if !s.Available() {
		return "", errors.New(errors.ErrAIService, "speech vendor credentials not configured")
	}
	out, err := s.vendor.Translate(ctx, text, targetLanguage)
	if err != nil {
		return "", wrapSpeech("failed to translate text", err)
	}
	return out, nil
}

func wrapSpeech(message string, err error) error {
	if _, ok := errors.As(err); ok {
		return err
	}
	return errors.Wrap(errors.ErrSpeechService, message, err)
}
