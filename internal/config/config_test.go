package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_HTTP_PORT", "9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 9000 || cfg.HTTPAddress() != "0.0.0.0:9000" {
		t.Errorf("http address = %s", cfg.HTTPAddress())
	}
	if cfg.PassThreshold != 0.6 || cfg.StageSize != 26 || cfg.LevelSize != 101 {
		t.Errorf("lesson defaults = %v %d %d", cfg.PassThreshold, cfg.StageSize, cfg.LevelSize)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.IsDevelopment() || cfg.IsProduction() {
		t.Errorf("environment = %s", cfg.Environment)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("LESSON_PASS_THRESHOLD", "1.5")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for threshold above 1")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{PassThreshold: 0.6, StageSize: 26, LevelSize: 101, LLMProvider: "openai", AudioStore: "redis"}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"gemini", func(c *Config) { c.LLMProvider = "gemini" }, false},
		{"memory audio", func(c *Config) { c.AudioStore = "memory" }, false},
		{"negative threshold", func(c *Config) { c.PassThreshold = -0.1 }, true},
		{"zero stage size", func(c *Config) { c.StageSize = 0 }, true},
		{"unknown provider", func(c *Config) { c.LLMProvider = "llama" }, true},
		{"unknown audio store", func(c *Config) { c.AudioStore = "s3" }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			if err := c.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit", Config{PostgresURL: "postgres://x/y"}, "postgres://x/y"},
		{"unset", Config{}, ""},
		{
			"assembled",
			Config{PostgresUser: "u", PostgresPassword: "p", PostgresHost: "db", PostgresPort: 5432, PostgresDB: "lang", PostgresSSLMode: "disable"},
			"postgres://u:p@db:5432/lang?sslmode=disable",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.DatabaseURL(); got != tc.want {
				t.Errorf("DatabaseURL() = %q, want %q", got, tc.want)
			}
		})
	}
}
