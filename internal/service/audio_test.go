package service

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/windfall/langodyssey/internal/errors"
)

func TestValidateRecording(t *testing.T) {
	wav := testWAV(t)

	info, err := ValidateRecording(wav, 0)
	if err != nil {
		t.Fatalf("ValidateRecording: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.BitDepth != 16 {
		t.Errorf("info = %+v", info)
	}
	if info.Duration <= 0 {
		t.Errorf("duration = %v", info.Duration)
	}

	tests := []struct {
		name string
		data []byte
		max  int64
	}{
		{"empty", nil, 0},
		{"too large", wav, 16},
		{"not wav", []byte("ID3\x03\x00 some mp3 bytes here"), 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ValidateRecording(tc.data, tc.max); !errors.HasCode(err, errors.ErrValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}
}

func TestMemoryAudioStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAudioStore()
	key := RecordingKey("u1", 7)
	if key != "recordings/u1/7.wav" {
		t.Errorf("key = %q", key)
	}

	data := []byte("abc")
	if err := s.Put(ctx, key, data, "audio/wav"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data[0] = 'z'

	got, err := s.Get(ctx, key)
	if err != nil || string(got) != "abc" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, key); !stderrors.Is(err, ErrAudioNotFound) {
		t.Errorf("err = %v, want ErrAudioNotFound", err)
	}
}
