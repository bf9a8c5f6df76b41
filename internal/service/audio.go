package service

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-audio/wav"

	"github.com/windfall/langodyssey/internal/client"
	"github.com/windfall/langodyssey/internal/errors"
)

// ErrAudioNotFound is returned by AudioStore.Get for unknown keys.
var ErrAudioNotFound = stderrors.New("audio not found")

// AudioStore keeps learner recordings and synthesised audio.
type AudioStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// RecordingKey is the store key of a learner's answer to a prompt.
func RecordingKey(userID string, promptID int) string {
	return fmt.Sprintf("recordings/%s/%d.wav", userID, promptID)
}

// ExpectedAudioKey is the store key of the synthesised expected response.
func ExpectedAudioKey(language string, promptID int) string {
	return fmt.Sprintf("tts/%s/%d.wav", language, promptID)
}

// RecordingInfo describes a validated WAV recording.
type RecordingInfo struct {
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bit_depth"`
	Duration   time.Duration `json:"duration"`
}

// ValidateRecording checks that data is a non-empty WAV file no larger than
// maxBytes (0 disables the size check).
func ValidateRecording(data []byte, maxBytes int64) (*RecordingInfo, error) {
	if len(data) == 0 {
		return nil, errors.Validation("audio file is empty")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, errors.Validation(fmt.Sprintf("audio file exceeds %d bytes", maxBytes))
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.Validation("audio must be a WAV file")
	}
	dur, err := dec.Duration()
	if err != nil {
		return nil, errors.Validation("audio WAV header is unreadable")
	}
	if dur <= 0 {
		return nil, errors.Validation("audio recording is silent or empty")
	}

	return &RecordingInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Duration:   dur,
	}, nil
}

// MemoryAudioStore keeps audio in process memory.
type MemoryAudioStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryAudioStore creates an empty in-memory store.
func NewMemoryAudioStore() *MemoryAudioStore {
	return &MemoryAudioStore{data: make(map[string][]byte)}
}

func (s *MemoryAudioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryAudioStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, ErrAudioNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryAudioStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// RedisAudioStore keeps audio as Redis strings. Recordings expire with the
// session; synthesised audio is kept without expiry.
type RedisAudioStore struct {
	redis        *client.RedisClient
	recordingTTL time.Duration
}

// NewRedisAudioStore creates a Redis-backed store.
func NewRedisAudioStore(redis *client.RedisClient, recordingTTL time.Duration) *RedisAudioStore {
	return &RedisAudioStore{redis: redis, recordingTTL: recordingTTL}
}

func (s *RedisAudioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	ttl := time.Duration(0)
	if strings.HasPrefix(key, "recordings/") {
		ttl = s.recordingTTL
	}
	return s.redis.Set(ctx, "audio:"+key, data, ttl)
}

func (s *RedisAudioStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.Get(ctx, "audio:"+key)
	if stderrors.Is(err, client.ErrRedisNil) {
		return nil, ErrAudioNotFound
	}
	return data, err
}

func (s *RedisAudioStore) Delete(ctx context.Context, key string) error {
	return s.redis.Del(ctx, "audio:"+key)
}

// R2AudioStore keeps audio in a Cloudflare R2 bucket.
type R2AudioStore struct {
	r2 *client.CloudflareClient
}

// NewR2AudioStore creates an R2-backed store.
func NewR2AudioStore(r2 *client.CloudflareClient) *R2AudioStore {
	return &R2AudioStore{r2: r2}
}

func (s *R2AudioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.r2.UploadR2Object(ctx, key, data, contentType)
	return err
}

func (s *R2AudioStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.r2.GetR2Object(ctx, key)
	var noKey *types.NoSuchKey
	if stderrors.As(err, &noKey) {
		return nil, ErrAudioNotFound
	}
	return data, err
}

func (s *R2AudioStore) Delete(ctx context.Context, key string) error {
	return s.r2.DeleteR2Object(ctx, key)
}

// GCSAudioStore keeps audio in a Google Cloud Storage bucket.
type GCSAudioStore struct {
	gcs *client.StorageClient
}

// NewGCSAudioStore creates a GCS-backed store.
func NewGCSAudioStore(gcs *client.StorageClient) *GCSAudioStore {
	return &GCSAudioStore{gcs: gcs}
}

func (s *GCSAudioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.gcs.Upload(ctx, key, data, contentType)
	return err
}

func (s *GCSAudioStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.gcs.Download(ctx, key)
	if stderrors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrAudioNotFound
	}
	return data, err
}

func (s *GCSAudioStore) Delete(ctx context.Context, key string) error {
	err := s.gcs.Delete(ctx, key)
	if stderrors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}
