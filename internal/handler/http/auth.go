package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/windfall/langodyssey/internal/service"
	"github.com/windfall/langodyssey/pkg/response"
)

// Authenticator registers and logs in learners. *service.AuthService
// satisfies it.
type Authenticator interface {
	Register(ctx context.Context, req service.RegisterReq) (*service.AuthResponse, error)
	Login(ctx context.Context, req service.LoginReq) (*service.AuthResponse, error)
}

// AuthHandler handles authentication HTTP endpoints.
type AuthHandler struct {
	log  zerolog.Logger
	auth Authenticator
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(log zerolog.Logger, auth Authenticator) *AuthHandler {
	return &AuthHandler{
		log:  log,
		auth: auth,
	}
}

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Name) == "" || req.Password == "" {
		response.BadRequest(w, "name and password are required")
		return
	}

	result, err := h.auth.Register(r.Context(), req)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.Created(w, result)
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Name) == "" || req.Password == "" {
		response.BadRequest(w, "name and password are required")
		return
	}

	result, err := h.auth.Login(r.Context(), req)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, result)
}

func (h *AuthHandler) handleError(w http.ResponseWriter, err error) {
	writeError(h.log, w, err)
}
