package service

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/windfall/langodyssey/internal/errors"
)

func TestSpeechService_ExpectedResponseAudioCaches(t *testing.T) {
	ctx := context.Background()
	vendor := &fakeVendor{configured: true, audio: []byte("RIFF-tts")}
	store := NewMemoryAudioStore()
	svc := NewSpeechService(newFakePrompts(greeting), vendor, store, zerolog.Nop())

	for i := 0; i < 2; i++ {
		data, err := svc.ExpectedResponseAudio(ctx, 1, "Hindi")
		if err != nil {
			t.Fatalf("ExpectedResponseAudio: %v", err)
		}
		if !bytes.Equal(data, vendor.audio) {
			t.Errorf("audio = %q", data)
		}
	}
	if vendor.ttsCalls != 1 {
		t.Errorf("tts calls = %d, want 1", vendor.ttsCalls)
	}
	if _, err := store.Get(ctx, ExpectedAudioKey("Hindi", 1)); err != nil {
		t.Errorf("audio not cached: %v", err)
	}
}

func TestSpeechService_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		vendor *fakeVendor
		id     int
		code   errors.ErrorCode
	}{
		{"unknown prompt", &fakeVendor{configured: true}, 9, errors.ErrNotFound},
		{"no credentials", &fakeVendor{}, 1, errors.ErrAIService},
		{"vendor failure", &fakeVendor{configured: true, ttsErr: stderrors.New("503")}, 1, errors.ErrSpeechService},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewSpeechService(newFakePrompts(greeting), tc.vendor, NewMemoryAudioStore(), zerolog.Nop())
			if _, err := svc.ExpectedResponseAudio(ctx, tc.id, "Hindi"); !errors.HasCode(err, tc.code) {
				t.Errorf("err = %v, want %s", err, tc.code)
			}
		})
	}
}

func TestSpeechService_Translate(t *testing.T) {
	ctx := context.Background()
	svc := NewSpeechService(newFakePrompts(), &fakeVendor{configured: true, prefix: "[ta] "}, nil, zerolog.Nop())

	out, err := svc.Translate(ctx, "Well done", "Tamil")
	if err != nil || out != "[ta] Well done" {
		t.Fatalf("Translate = %q, %v", out, err)
	}
	if _, err := svc.Translate(ctx, "", "Tamil"); !errors.HasCode(err, errors.ErrValidation) {
		t.Errorf("empty text: err = %v", err)
	}
	if _, err := svc.Translate(ctx, "hi", " "); !errors.HasCode(err, errors.ErrValidation) {
		t.Errorf("empty target: err = %v", err)
	}
}
