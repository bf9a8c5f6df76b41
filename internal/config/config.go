package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Host     string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"SERVER_HTTP_PORT" default:"8080"`
	GRPCPort int    `envconfig:"SERVER_GRPC_PORT" default:"9090"`

	Environment string `envconfig:"SERVER_ENV" default:"development"`

	// Timeouts
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Database
	PostgresURL      string `envconfig:"DATABASE_URL"`
	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresDB       string `envconfig:"POSTGRES_DB"`
	PostgresUser     string `envconfig:"POSTGRES_USER"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD"`
	PostgresSSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`

	// Catalog search (requires the pgvector extension). The embedding model
	// must produce 1536-dimension vectors to fit prompt_embeddings.
	CatalogSearchEnabled bool   `envconfig:"CATALOG_SEARCH_ENABLED" default:"false"`
	EmbeddingModel       string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`

	// Redis
	RedisURL   string        `envconfig:"REDIS_URL"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"12h"`

	// Auth
	JWTSecret string        `envconfig:"JWT_SECRET" default:"change-me"`
	TokenTTL  time.Duration `envconfig:"JWT_TOKEN_TTL" default:"72h"`

	// LLM
	LLMProvider    string  `envconfig:"LLM_PROVIDER" default:"openai"`
	OpenAIAPIKey   string  `envconfig:"OPENAI_API_KEY"`
	OpenAIModel    string  `envconfig:"OPENAI_MODEL" default:"gpt-5-nano"`
	OpenAIBaseURL  string  `envconfig:"OPENAI_BASE_URL"`
	LLMTemperature float32 `envconfig:"LLM_TEMPERATURE" default:"0"`
	GeminiAPIKey   string  `envconfig:"GEMINI_API_KEY"`
	GeminiModel    string  `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`

	// Speech vendor
	SarvamAPIKey  string        `envconfig:"SARVAM_API_KEY"`
	SarvamBaseURL string        `envconfig:"SARVAM_BASE_URL" default:"https://api.sarvam.ai"`
	SpeechTimeout time.Duration `envconfig:"SPEECH_TIMEOUT" default:"60s"`

	// Lessons
	PassThreshold   float64 `envconfig:"LESSON_PASS_THRESHOLD" default:"0.6"`
	StageSize       int     `envconfig:"LESSON_STAGE_SIZE" default:"26"`
	LevelSize       int     `envconfig:"LESSON_LEVEL_SIZE" default:"101"`
	DefaultLanguage string  `envconfig:"LESSON_DEFAULT_LANGUAGE" default:"Hindi"`
	MaxAudioBytes   int64   `envconfig:"LESSON_MAX_AUDIO_BYTES" default:"10485760"`

	// Audio storage: "r2", "gcs" or "redis"
	AudioStore string `envconfig:"AUDIO_STORE" default:"redis"`

	// Cloudflare R2
	CloudflareAccessKeyID string `envconfig:"CLOUDFLARE_ACCESS_KEY_ID"`
	CloudflareSecretKey   string `envconfig:"CLOUDFLARE_SECRET_ACCESS_KEY"`
	CloudflareR2Endpoint  string `envconfig:"CLOUDFLARE_R2_ENDPOINT"`
	CloudflarePublicURL   string `envconfig:"CLOUDFLARE_PUBLIC_URL"`
	CloudflareBucketName  string `envconfig:"CLOUDFLARE_BUCKET_NAME"`

	// Google Cloud
	GCSBucketName string `envconfig:"GCS_BUCKET_NAME"`
	GCPProjectID  string `envconfig:"GCP_PROJECT_ID"`
	PubSubTopicID string `envconfig:"PUBSUB_TOPIC_ID"`

	// CORS
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	CORSAllowedMethods []string `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	CORSAllowedHeaders []string `envconfig:"CORS_ALLOWED_HEADERS" default:"Accept,Authorization,Content-Type,X-Request-ID"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that envconfig cannot express.
func (c *Config) Validate() error {
	if c.PassThreshold < 0 || c.PassThreshold > 1 {
		return fmt.Errorf("LESSON_PASS_THRESHOLD must be within [0, 1], got %v", c.PassThreshold)
	}
	if c.StageSize <= 0 || c.LevelSize <= 0 {
		return fmt.Errorf("LESSON_STAGE_SIZE and LESSON_LEVEL_SIZE must be positive")
	}
	switch c.LLMProvider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q (use openai or gemini)", c.LLMProvider)
	}
	switch c.AudioStore {
	case "r2", "gcs", "redis", "memory":
	default:
		return fmt.Errorf("unknown AUDIO_STORE %q (use r2, gcs, redis or memory)", c.AudioStore)
	}
	return nil
}

// HTTPAddress returns the HTTP server address.
func (c *Config) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC server address.
func (c *Config) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// DatabaseURL returns DATABASE_URL when set, otherwise a URL assembled from
// the POSTGRES_* variables. Empty when no database name is configured.
func (c *Config) DatabaseURL() string {
	if c.PostgresURL != "" {
		return c.PostgresURL
	}
	if c.PostgresDB == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSLMode)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
