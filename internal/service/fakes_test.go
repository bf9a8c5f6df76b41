package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/windfall/langodyssey/internal/client"
	"github.com/windfall/langodyssey/internal/repository"
)

// testWAV encodes a short mono 16 kHz tone.
func testWAV(t *testing.T) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "answer.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}

	const sampleRate = 16000
	data := make([]int, sampleRate/4)
	for i := range data {
		data[i] = (i % 64) * 256
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return out
}

type fakeUsers struct {
	mu     sync.Mutex
	users  map[string]*repository.User
	err    error
	levels int
}

func newFakeUsers(users ...*repository.User) *fakeUsers {
	f := &fakeUsers{users: make(map[string]*repository.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) Create(ctx context.Context, u *repository.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, existing := range f.users {
		if existing.Name == u.Name {
			return repository.ErrAlreadyExists
		}
	}
	if u.CurrentLevel == "" {
		u.CurrentLevel = repository.DefaultLevel
	}
	if u.CurrentStage == "" {
		u.CurrentStage = repository.DefaultStage
	}
	if u.ProgressID == 0 {
		u.ProgressID = repository.DefaultProgress
	}
	c := *u
	f.users[u.ID] = &c
	return nil
}

func (f *fakeUsers) GetByName(ctx context.Context, name string) (*repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.Name == name {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) UpdateProgress(ctx context.Context, id string, progressID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	u, ok := f.users[id]
	if !ok || progressID <= u.ProgressID {
		return false, nil
	}
	u.ProgressID = progressID
	return true, nil
}

func (f *fakeUsers) UpdateLevelAndStage(ctx context.Context, id, level, stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.CurrentLevel, u.CurrentStage = level, stage
	f.levels++
	return nil
}

func (f *fakeUsers) get(id string) repository.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.users[id]
}

type fakePrompts struct {
	prompts map[int]*repository.Prompt
	err     error
}

func newFakePrompts(prompts ...repository.Prompt) *fakePrompts {
	f := &fakePrompts{prompts: make(map[int]*repository.Prompt)}
	for i := range prompts {
		p := prompts[i]
		f.prompts[p.ID] = &p
	}
	return f
}

func (f *fakePrompts) Get(ctx context.Context, id int) (*repository.Prompt, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.prompts[id]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (f *fakePrompts) List(ctx context.Context, limit, offset int) ([]repository.Prompt, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []repository.Prompt
	for id := offset + 1; id <= offset+limit; id++ {
		if p, ok := f.prompts[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePrompts) Count(ctx context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return len(f.prompts), nil
}

func (f *fakePrompts) Upsert(ctx context.Context, p *repository.Prompt) error {
	c := *p
	f.prompts[p.ID] = &c
	return nil
}

type fakeHistory struct {
	mu          sync.Mutex
	attempts    []repository.Attempt
	completions []repository.Completion
}

func (f *fakeHistory) RecordAttempt(ctx context.Context, a *repository.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeHistory) RecordCompletion(ctx context.Context, c *repository.Completion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, *c)
	return nil
}

func (f *fakeHistory) History(ctx context.Context, userID string, limit int) ([]repository.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Completion
	for i := len(f.completions) - 1; i >= 0 && len(out) < limit; i-- {
		if f.completions[i].UserID == userID {
			out = append(out, f.completions[i])
		}
	}
	return out, nil
}

// fakeLLM returns scripted outputs in order and records every prompt.
// before, when set, runs ahead of each call and can fail it.
type fakeLLM struct {
	mu      sync.Mutex
	outputs []string
	err     error
	prompts []string
	before  func(ctx context.Context) error
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	before := f.before
	f.mu.Unlock()
	if before != nil {
		if err := before(ctx); err != nil {
			return "", err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.outputs) == 0 {
		return "", nil
	}
	out := f.outputs[0]
	f.outputs = f.outputs[1:]
	return out, nil
}

func (f *fakeLLM) script(outputs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs = append(f.outputs, outputs...)
}

type fakeSTT struct {
	transcript string
	err        error
	calls      int
	language   string
}

func (f *fakeSTT) SpeechToText(ctx context.Context, audio []byte, language string) (string, error) {
	f.calls++
	f.language = language
	return f.transcript, f.err
}

type fakeVendor struct {
	configured bool
	audio      []byte
	ttsErr     error
	ttsCalls   int
	prefix     string
}

func (f *fakeVendor) Configured() bool { return f.configured }

func (f *fakeVendor) TextToSpeech(ctx context.Context, text, language string) ([]byte, error) {
	f.ttsCalls++
	return f.audio, f.ttsErr
}

func (f *fakeVendor) Translate(ctx context.Context, text, target string) (string, error) {
	return f.prefix + text, nil
}

// fakeQueue mimics the Redis list used for async results.
type fakeQueue struct {
	mu    sync.Mutex
	lists map[string][][]byte
	ttls  map[string]time.Duration
	ready chan struct{}
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		lists: make(map[string][][]byte),
		ttls:  make(map[string]time.Duration),
		ready: make(chan struct{}, 16),
	}
}

func (q *fakeQueue) RPush(ctx context.Context, key string, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.lists[key] = append(q.lists[key], data)
	q.mu.Unlock()
	q.ready <- struct{}{}
	return nil
}

func (q *fakeQueue) SetExpiry(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ttls[key] = ttl
	return nil
}

func (q *fakeQueue) BLPop(ctx context.Context, timeout time.Duration, key string) ([]byte, error) {
	deadline := time.After(timeout)
	for {
		q.mu.Lock()
		if items := q.lists[key]; len(items) > 0 {
			q.lists[key] = items[1:]
			q.mu.Unlock()
			return items[0], nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-deadline:
			return nil, client.ErrRedisNil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// flakyStore is an in-memory session store that honours cancellation and
// can be told to fail its next saves.
type flakyStore struct {
	*repository.InMemorySessionStore

	mu        sync.Mutex
	failSaves int
	failGets  bool
	saves     int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{InMemorySessionStore: repository.NewInMemorySessionStore()}
}

func (s *flakyStore) Get(ctx context.Context, userID string) (*repository.LessonSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	fail := s.failGets
	s.mu.Unlock()
	if fail {
		return nil, errRedisDown
	}
	return s.InMemorySessionStore.Get(ctx, userID)
}

func (s *flakyStore) Save(ctx context.Context, sess *repository.LessonSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.failSaves > 0 {
		s.failSaves--
		s.mu.Unlock()
		return errRedisDown
	}
	s.saves++
	s.mu.Unlock()
	return s.InMemorySessionStore.Save(ctx, sess)
}

func (s *flakyStore) failNextSaves(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = n
}

var errRedisDown = stderrors.New("redis down")

type fakeNotifier struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (f *fakeNotifier) Notify(userID string, ev SessionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeNotifier) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []ProgressEvent
	attrs  []map[string]string
	err    error
}

func (f *fakePublisher) PublishWithAttributes(ctx context.Context, data interface{}, attrs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	ev, ok := data.(ProgressEvent)
	if !ok {
		return stderrors.New("unexpected payload")
	}
	f.events = append(f.events, ev)
	f.attrs = append(f.attrs, attrs)
	return nil
}

type fakeEmbedder struct {
	vec   []float32
	err   error
	texts []string
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	return f.vec, f.err
}

type fakeIndex struct {
	stored  map[int][]float32
	matches []repository.PromptMatch
	k       int
}

func (f *fakeIndex) Upsert(ctx context.Context, promptID int, embedding []float32) error {
	if f.stored == nil {
		f.stored = make(map[int][]float32)
	}
	f.stored[promptID] = embedding
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, embedding []float32, k int) ([]repository.PromptMatch, error) {
	f.k = k
	return f.matches, nil
}
