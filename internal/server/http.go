package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/windfall/langodyssey/internal/config"
	httphandler "github.com/windfall/langodyssey/internal/handler/http"
	"github.com/windfall/langodyssey/internal/middleware"
	"github.com/windfall/langodyssey/internal/observe"
)

// Handlers groups the HTTP handlers mounted by the server.
type Handlers struct {
	Health  *httphandler.HealthHandler
	Auth    *httphandler.AuthHandler
	Lesson  *httphandler.LessonHandler
	Catalog *httphandler.CatalogHandler
}

// HTTPServer represents the HTTP server.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger
}

// NewRouter builds the chi router with every route and middleware.
func NewRouter(
	cfg *config.Config,
	log zerolog.Logger,
	h Handlers,
	tokens middleware.TokenValidator,
	hub *WebSocketHub,
	metrics *observe.Metrics,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(observe.Middleware(metrics))
	r.Use(chimiddleware.Compress(5, "application/json"))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Probes and metrics (public)
	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Get("/live", h.Health.Live)
	r.Handle("/metrics", promhttp.Handler())

	if hub != nil {
		r.Get("/ws", hub.HandleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", h.Auth.Register)
		r.Post("/auth/login", h.Auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokens))

			r.Route("/lesson", func(r chi.Router) {
				r.Get("/", h.Lesson.State)
				r.Post("/start", h.Lesson.Start)
				r.Post("/audio", h.Lesson.SaveAudio)
				r.Get("/expected-audio", h.Lesson.ExpectedAudio)
				r.Post("/process", h.Lesson.Process)
				r.Post("/process/async", h.Lesson.ProcessAsync)
				r.Get("/process/result", h.Lesson.ProcessResult)
				r.Post("/continue", h.Lesson.Continue)
				r.Post("/retry", h.Lesson.Retry)
				r.Post("/reset", h.Lesson.Reset)
				r.Post("/exit", h.Lesson.Exit)
				r.Get("/history", h.Lesson.History)
			})

			r.Get("/prompts", h.Catalog.List)
			r.Get("/prompts/search", h.Catalog.Search)
			r.Get("/prompts/{id}", h.Catalog.Get)
			r.Post("/translate", h.Catalog.Translate)
		})
	})

	return r
}

// NewHTTPServer creates a new HTTP server around router.
func NewHTTPServer(cfg *config.Config, log zerolog.Logger, router http.Handler) *HTTPServer {
	server := &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &HTTPServer{
		server: server,
		log:    log,
	}
}

// Start starts the HTTP server.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
