package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/windfall/langodyssey/internal/client"
	"github.com/windfall/langodyssey/internal/config"
	httphandler "github.com/windfall/langodyssey/internal/handler/http"
	wshandler "github.com/windfall/langodyssey/internal/handler/ws"
	"github.com/windfall/langodyssey/internal/logger"
	"github.com/windfall/langodyssey/internal/observe"
	"github.com/windfall/langodyssey/internal/repository"
	"github.com/windfall/langodyssey/internal/resilience"
	"github.com/windfall/langodyssey/internal/server"
	"github.com/windfall/langodyssey/internal/service"
)

var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("env", cfg.Environment).Str("version", version).Msg("Starting langodyssey")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server exited with error")
	}
	log.Info().Msg("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	// Metrics
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "langodyssey",
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer shutdownMetrics(context.Background())
	metrics := observe.DefaultMetrics()

	// Postgres
	dbURL := cfg.DatabaseURL()
	if dbURL == "" {
		return errors.New("DATABASE_URL or POSTGRES_DB must be set")
	}
	var pgOpts []client.PostgresOption
	if cfg.CatalogSearchEnabled {
		pgOpts = append(pgOpts, client.WithVectorTypes())
	}
	postgresClient, err := client.NewPostgresClient(ctx, dbURL, pgOpts...)
	if err != nil {
		return err
	}
	defer postgresClient.Close()
	log.Info().Bool("vector", cfg.CatalogSearchEnabled).Msg("Postgres client initialized")

	db := repository.FromClient(postgresClient)
	userRepo := repository.NewPostgresUserRepository(db)
	promptRepo := repository.NewPostgresPromptRepository(db)
	lessonRepo := repository.NewPostgresLessonRepository(db)

	// Redis
	var redisClient *client.RedisClient
	if cfg.RedisURL != "" {
		redisClient, err = client.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Redis client")
		} else {
			defer redisClient.Close()
			log.Info().Msg("Redis client initialized")
		}
	} else {
		log.Warn().Msg("REDIS_URL not set, sessions are kept in memory and async processing is disabled")
	}

	var sessions repository.SessionStore = repository.NewInMemorySessionStore()
	var queue service.ResultQueue
	if redisClient != nil {
		sessions = repository.NewRedisSessionStore(redisClient, cfg.SessionTTL)
		queue = redisClient
	}

	// Audio storage
	audioStore, closeAudio, err := newAudioStore(ctx, cfg, redisClient, log)
	if err != nil {
		return err
	}
	defer closeAudio()

	// LLM and embeddings
	llmBreaker := resilience.New(resilience.Config{Name: "llm", Logger: &log})
	var llm service.LLM
	var openaiClient *client.OpenAIClient
	if cfg.OpenAIAPIKey != "" {
		openaiClient = client.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL).
			WithModel(cfg.OpenAIModel).
			WithEmbeddingModel(cfg.EmbeddingModel).
			WithTemperature(cfg.LLMTemperature)
	}
	switch cfg.LLMProvider {
	case "gemini":
		geminiClient, err := client.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return err
		}
		llm = geminiClient.WithModel(cfg.GeminiModel)
	default:
		if openaiClient == nil {
			return errors.New("OPENAI_API_KEY must be set when LLM_PROVIDER=openai")
		}
		llm = openaiClient
	}
	log.Info().Str("provider", llm.Name()).Msg("LLM client initialized")

	// Speech vendor
	sarvam := client.NewSarvamClient(cfg.SarvamBaseURL, cfg.SarvamAPIKey, cfg.SpeechTimeout).
		WithBreaker(resilience.New(resilience.Config{Name: "sarvam", Logger: &log})).
		WithMetrics(metrics)
	if !sarvam.Configured() {
		log.Warn().Msg("SARVAM_API_KEY not set, speech recognition and synthesis will fail")
	}

	// Catalog search
	var index repository.PromptIndex
	var embedder service.Embedder
	if cfg.CatalogSearchEnabled && openaiClient != nil {
		index = repository.NewPgvectorPromptIndex(db)
		embedder = openaiClient
	} else if cfg.CatalogSearchEnabled {
		log.Warn().Msg("Catalog search needs OPENAI_API_KEY for embeddings, search disabled")
	}

	// Progress events
	var publisher service.ProgressPublisher
	if cfg.GCPProjectID != "" && cfg.PubSubTopicID != "" {
		pubsubClient, err := client.NewPubSubClient(ctx, cfg.GCPProjectID, cfg.PubSubTopicID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Pub/Sub client")
		} else {
			defer pubsubClient.Close()
			publisher = pubsubClient
			log.Info().Str("topic", cfg.PubSubTopicID).Msg("Pub/Sub publisher initialized")
		}
	}

	// Services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.TokenTTL, cfg.DefaultLanguage)
	lessonService := service.NewLessonService(promptRepo, llm, sarvam, llmBreaker, metrics, log)
	speechService := service.NewSpeechService(promptRepo, sarvam, audioStore, log)
	catalogService := service.NewCatalogService(promptRepo, index, embedder, metrics, log)

	hub := server.NewWebSocketHub(log, authService, nil, metrics, cfg.CORSAllowedOrigins)

	sessionService := service.NewSessionService(service.SessionDeps{
		Sessions:   sessions,
		Users:      userRepo,
		History:    lessonRepo,
		Lessons:    lessonService,
		Audio:      audioStore,
		Translator: speechService,
		Queue:      queue,
		Notifier:   hub,
		Publisher:  publisher,
		Metrics:    metrics,
	}, service.SessionConfig{
		PassThreshold: cfg.PassThreshold,
		Curriculum:    service.Curriculum{StageSize: cfg.StageSize, LevelSize: cfg.LevelSize},
		MaxAudioBytes: cfg.MaxAudioBytes,
	}, log)
	hub.SetHandler(wshandler.NewHandler(log, sessionService))

	// Handlers
	checks := map[string]httphandler.CheckFunc{
		"postgres": postgresClient.Ping,
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Ping
	}
	healthHandler := httphandler.NewHealthHandler(checks)

	router := server.NewRouter(cfg, log, server.Handlers{
		Health:  healthHandler,
		Auth:    httphandler.NewAuthHandler(log, authService),
		Lesson:  httphandler.NewLessonHandler(log, sessionService, speechService, cfg.MaxAudioBytes),
		Catalog: httphandler.NewCatalogHandler(log, catalogService, speechService),
	}, authService, hub, metrics)

	httpServer := server.NewHTTPServer(cfg, log, router)
	grpcServer := server.NewGRPCServer(cfg, log)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddress())
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(httpServer.Start)
	g.Go(func() error {
		return grpcServer.Serve(grpcLis)
	})

	healthHandler.SetReady(true)
	log.Info().
		Str("http_addr", cfg.HTTPAddress()).
		Str("grpc_addr", cfg.GRPCAddress()).
		Msg("Servers started")

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down servers...")

		healthHandler.SetReady(false)
		grpcServer.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})

	return g.Wait()
}

// newAudioStore picks the recording and expected-audio backend from
// AUDIO_STORE. The returned func releases the backing client.
func newAudioStore(ctx context.Context, cfg *config.Config, redisClient *client.RedisClient, log zerolog.Logger) (service.AudioStore, func(), error) {
	noop := func() {}

	switch cfg.AudioStore {
	case "r2":
		r2, err := client.NewCloudflareClient(ctx,
			cfg.CloudflareAccessKeyID,
			cfg.CloudflareSecretKey,
			cfg.CloudflareR2Endpoint,
			cfg.CloudflareBucketName,
			cfg.CloudflarePublicURL,
		)
		if err != nil {
			return nil, noop, err
		}
		log.Info().Str("bucket", cfg.CloudflareBucketName).Msg("Audio stored in Cloudflare R2")
		return service.NewR2AudioStore(r2), noop, nil

	case "gcs":
		gcs, err := client.NewStorageClient(ctx, cfg.GCSBucketName)
		if err != nil {
			return nil, noop, err
		}
		log.Info().Str("bucket", cfg.GCSBucketName).Msg("Audio stored in Google Cloud Storage")
		return service.NewGCSAudioStore(gcs), gcs.Close, nil

	case "redis":
		if redisClient != nil {
			return service.NewRedisAudioStore(redisClient, cfg.SessionTTL), noop, nil
		}
		log.Warn().Msg("AUDIO_STORE=redis without Redis, falling back to memory")
	}

	log.Info().Msg("Audio stored in memory")
	return service.NewMemoryAudioStore(), noop, nil
}
