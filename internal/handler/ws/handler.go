package ws

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/windfall/langodyssey/internal/errors"
	"github.com/windfall/langodyssey/internal/service"
)

// MessageType constants
const (
	TypePing  = "ping"
	TypePong  = "pong"
	TypeState = "state"
	TypeEvent = "event"
	TypeError = "error"
)

// StateReader returns a learner's session view. *service.SessionService
// satisfies it.
type StateReader interface {
	State(ctx context.Context, userID string) (*service.SessionView, error)
}

// Handler handles client-initiated WebSocket messages. Server-pushed
// session events go through the hub, not here.
type Handler struct {
	log      zerolog.Logger
	sessions StateReader
}

// NewHandler creates a new WebSocket handler.
func NewHandler(log zerolog.Logger, sessions StateReader) *Handler {
	return &Handler{log: log, sessions: sessions}
}

// Response represents a WebSocket response.
type Response struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Handle processes one incoming message and returns the encoded reply.
func (h *Handler) Handle(ctx context.Context, userID string, msgType string, payload json.RawMessage) ([]byte, error) {
	h.log.Debug().
		Str("user_id", userID).
		Str("type", msgType).
		Msg("Handling WebSocket message")

	switch msgType {
	case TypePing:
		return h.response(TypePong, map[string]string{"message": "pong"})

	case TypeState:
		v, err := h.sessions.State(ctx, userID)
		if err != nil {
			if appErr, ok := errors.As(err); ok {
				return h.errorResponse(string(appErr.Code), appErr.Message)
			}
			return h.errorResponse(string(errors.ErrInternal), "failed to load session")
		}
		return h.response(TypeState, v)

	default:
		return h.errorResponse(string(errors.ErrValidation), "unknown message type: "+msgType)
	}
}

func (h *Handler) response(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Response{Type: msgType, Payload: payload})
}

func (h *Handler) errorResponse(code, message string) ([]byte, error) {
	return h.response(TypeError, map[string]string{
		"code":    code,
		"message": message,
	})
}
