package http

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/windfall/langodyssey/internal/errors"
	"github.com/windfall/langodyssey/internal/middleware"
	"github.com/windfall/langodyssey/internal/repository"
	"github.com/windfall/langodyssey/internal/service"
	"github.com/windfall/langodyssey/pkg/response"
)

// LessonSessions is the session state machine. *service.SessionService
// satisfies it.
type LessonSessions interface {
	State(ctx context.Context, userID string) (*service.SessionView, error)
	Start(ctx context.Context, userID string) (*service.SessionView, error)
	SaveAudio(ctx context.Context, userID string, data []byte) (*service.SessionView, error)
	Process(ctx context.Context, userID string) (*service.SessionView, error)
	ProcessAsync(ctx context.Context, userID string) (string, error)
	AwaitResult(ctx context.Context, userID, requestID string) (*service.AsyncResult, error)
	Continue(ctx context.Context, userID string) (*service.SessionView, error)
	Retry(ctx context.Context, userID string) (*service.SessionView, error)
	Reset(ctx context.Context, userID string) (*service.SessionView, error)
	Exit(ctx context.Context, userID string) (int, error)
	History(ctx context.Context, userID string, limit int) ([]repository.Completion, error)
}

// ExpectedAudioSource synthesises a prompt's expected answer.
// *service.SpeechService satisfies it.
type ExpectedAudioSource interface {
	ExpectedResponseAudio(ctx context.Context, promptID int, language string) ([]byte, error)
}

// LessonHandler handles the lesson session endpoints.
type LessonHandler struct {
	log           zerolog.Logger
	sessions      LessonSessions
	speech        ExpectedAudioSource
	maxAudioBytes int64
}

// NewLessonHandler creates a new LessonHandler.
func NewLessonHandler(log zerolog.Logger, sessions LessonSessions, speech ExpectedAudioSource, maxAudioBytes int64) *LessonHandler {
	if maxAudioBytes <= 0 {
		maxAudioBytes = 10 << 20
	}
	return &LessonHandler{
		log:           log,
		sessions:      sessions,
		speech:        speech,
		maxAudioBytes: maxAudioBytes,
	}
}

// State handles GET /api/v1/lesson
func (h *LessonHandler) State(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.sessions.State)
}

// Start handles POST /api/v1/lesson/start
func (h *LessonHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.sessions.Start)
}

// Process handles POST /api/v1/lesson/process
func (h *LessonHandler) Process(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.sessions.Process)
}

// Continue handles POST /api/v1/lesson/continue
func (h *LessonHandler) Continue(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.sessions.Continue)
}

// Retry handles POST /api/v1/lesson/retry
func (h *LessonHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.sessions.Retry)
}

// Reset handles POST /api/v1/lesson/reset
func (h *LessonHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.sessions.Reset)
}

// SaveAudio handles POST /api/v1/lesson/audio
//
// Request: multipart/form-data with an "audio_file" WAV field.
func (h *LessonHandler) SaveAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxAudioBytes+(1<<20))
	if err := r.ParseMultipartForm(h.maxAudioBytes); err != nil {
		h.handleError(w, errors.Validation("failed to parse multipart form"))
		return
	}

	file, _, err := r.FormFile("audio_file")
	if err != nil {
		h.handleError(w, errors.Validation("audio_file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.handleError(w, errors.Validation("failed to read audio file"))
		return
	}

	v, err := h.sessions.SaveAudio(r.Context(), middleware.GetUserID(r.Context()), data)
	if err != nil {
		h.handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, v)
}

// ExpectedAudio handles GET /api/v1/lesson/expected-audio
//
// Response: audio/wav of the current prompt's expected answer.
func (h *LessonHandler) ExpectedAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := h.sessions.State(ctx, middleware.GetUserID(ctx))
	if err != nil {
		h.handleError(w, err)
		return
	}

	data, err := h.speech.ExpectedResponseAudio(ctx, v.PromptID, v.Language)
	if err != nil {
		h.handleError(w, err)
		return
	}
	response.Audio(w, "audio/wav", data)
}

// ProcessAsync handles POST /api/v1/lesson/process/async
//
// Response: 202 { "request_id": "req_xxx" }; poll GET /process/result.
func (h *LessonHandler) ProcessAsync(w http.ResponseWriter, r *http.Request) {
	requestID, err := h.sessions.ProcessAsync(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.handleError(w, err)
		return
	}
	response.JSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
}

// ProcessResult handles GET /api/v1/lesson/process/result?request_id=
//
// Response (timeout): 504 Gateway Timeout
func (h *LessonHandler) ProcessResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		h.handleError(w, errors.Validation("request_id is required"))
		return
	}

	result, err := h.sessions.AwaitResult(ctx, middleware.GetUserID(ctx), requestID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if result.Error != nil {
		response.AppError(w, result.Error)
		return
	}
	response.JSON(w, http.StatusOK, result.Session)
}

// Exit handles POST /api/v1/lesson/exit
func (h *LessonHandler) Exit(w http.ResponseWriter, r *http.Request) {
	promptID, err := h.sessions.Exit(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]int{"prompt_id": promptID})
}

// History handles GET /api/v1/lesson/history?limit=
func (h *LessonHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.handleError(w, errors.Validation("limit must be an integer"))
			return
		}
		limit = n
	}

	out, err := h.sessions.History(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		h.handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, out)
}

func (h *LessonHandler) view(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*service.SessionView, error)) {
	v, err := op(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, v)
}

func (h *LessonHandler) handleError(w http.ResponseWriter, err error) {
	writeError(h.log, w, err)
}
