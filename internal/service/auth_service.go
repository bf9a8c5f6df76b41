package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/windfall/langodyssey/internal/errors"
	"github.com/windfall/langodyssey/internal/repository"
)

// AuthService handles registration, login and token validation.
type AuthService struct {
	userRepo        repository.UserRepository
	jwtSecret       []byte
	tokenTTL        time.Duration
	defaultLanguage string
}

// NewAuthService creates a new AuthService.
func NewAuthService(userRepo repository.UserRepository, jwtSecret string, tokenTTL time.Duration, defaultLanguage string) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 72 * time.Hour
	}
	return &AuthService{
		userRepo:        userRepo,
		jwtSecret:       []byte(jwtSecret),
		tokenTTL:        tokenTTL,
		defaultLanguage: defaultLanguage,
	}
}

// RegisterReq represents a registration request.
type RegisterReq struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Language string `json:"language"`
}

// LoginReq represents a login request.
type LoginReq struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// AuthResponse is returned on successful register/login. PromptID is the
// lesson the learner resumes at.
type AuthResponse struct {
	User     *repository.User `json:"user"`
	Token    string           `json:"token"`
	PromptID int              `json:"prompt_id"`
}

// Register creates a learner account at the first lesson and returns a token.
func (s *AuthService) Register(ctx context.Context, req RegisterReq) (*AuthResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.Password == "" {
		return nil, errors.Validation("name and password are required")
	}
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = s.defaultLanguage
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.InternalWrap("failed to hash password", err)
	}

	user := &repository.User{
		ID:           uuid.New().String(),
		Name:         name,
		PasswordHash: string(hash),
		Language:     language,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if stderrors.Is(err, repository.ErrAlreadyExists) {
			return nil, errors.Conflict("name already registered")
		}
		return nil, errors.Database("failed to create user", err)
	}

	return s.respond(user)
}

// Login authenticates a learner by name and password.
func (s *AuthService) Login(ctx context.Context, req LoginReq) (*AuthResponse, error) {
	user, err := s.userRepo.GetByName(ctx, strings.TrimSpace(req.Name))
	if err != nil {
		return nil, errors.Database("failed to find user", err)
	}
	if user == nil {
		return nil, errors.Unauthorized("invalid name or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errors.Unauthorized("invalid name or password")
	}

	return s.respond(user)
}

func (s *AuthService) respond(user *repository.User) (*AuthResponse, error) {
	token, err := s.generateToken(user)
	if err != nil {
		return nil, errors.InternalWrap("failed to generate token", err)
	}
	promptID := user.ProgressID
	if promptID <= 0 {
		promptID = repository.DefaultProgress
	}
	return &AuthResponse{User: user, Token: token, PromptID: promptID}, nil
}

// ValidateToken parses and validates a JWT token string, returning the user ID.
func (s *AuthService) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("invalid subject claim")
	}

	return userID, nil
}

func (s *AuthService) generateToken(user *repository.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  user.ID,
		"name": user.Name,
		"iat":  now.Unix(),
		"exp":  now.Add(s.tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
