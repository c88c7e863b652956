// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLM modes.
const (
	ModeThread    = "thread"
	ModeStateless = "stateless"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	GRPCPort         string // gRPC health service; empty disables it
	FrontendURL      string
	DBPath           string
	APIKey           string
	PersonaFile      string
	RequestBodyLimit int64
	LLM              LLMConfig
	Chat             ChatConfig
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	Mode               string
	APIKey             string
	BaseURL            string
	AssistantID        string
	Model              string
	TruncationMessages int
	PollInterval       time.Duration
	RunTimeout         time.Duration
	HTTPTimeout        time.Duration
}

// ChatConfig tunes the conversation session engine.
type ChatConfig struct {
	// ContextRefreshEvery re-injects user context every N turns on a thread.
	ContextRefreshEvery int
	HistoryCacheSize    int
	PersistWorkers      int
	PersistQueueSize    int
	PersistJobTimeout   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "5001"),
		GRPCPort:         getEnv("GRPC_PORT", "5002"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/chat.db"),
		APIKey:           getEnv("API_KEY", ""),
		PersonaFile:      getEnv("PERSONA_FILE", ""),
		RequestBodyLimit: int64(getEnvInt("REQUEST_BODY_LIMIT", 1<<20)),
		LLM: LLMConfig{
			Mode:               strings.ToLower(getEnv("LLM_MODE", ModeThread)),
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			AssistantID:        getEnv("OPENAI_ASSISTANT_ID", ""),
			Model:              getEnv("OPENAI_MODEL", "gpt-4-turbo-preview"),
			TruncationMessages: getEnvInt("THREAD_TRUNCATION_MESSAGES", 50),
			PollInterval:       getEnvDuration("POLL_INTERVAL", time.Second),
			RunTimeout:         getEnvDuration("RUN_TIMEOUT", 60*time.Second),
			HTTPTimeout:        getEnvDuration("LLM_HTTP_TIMEOUT", 30*time.Second),
		},
		Chat: ChatConfig{
			ContextRefreshEvery: getEnvInt("CONTEXT_REFRESH_EVERY", 50),
			HistoryCacheSize:    getEnvInt("HISTORY_CACHE_SIZE", 10),
			PersistWorkers:      getEnvInt("PERSIST_WORKERS", 4),
			PersistQueueSize:    getEnvInt("PERSIST_QUEUE_SIZE", 256),
			PersistJobTimeout:   getEnvDuration("PERSIST_JOB_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY cannot be empty")
	}
	if c.RequestBodyLimit <= 0 {
		return fmt.Errorf("REQUEST_BODY_LIMIT must be > 0")
	}
	if c.LLM.Mode != ModeThread && c.LLM.Mode != ModeStateless {
		return fmt.Errorf("LLM_MODE must be %q or %q", ModeThread, ModeStateless)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY cannot be empty")
	}
	if c.LLM.Mode == ModeThread && c.LLM.AssistantID == "" {
		return fmt.Errorf("OPENAI_ASSISTANT_ID is required when LLM_MODE=%s", ModeThread)
	}
	if c.LLM.PollInterval <= 0 || c.LLM.RunTimeout <= 0 {
		return fmt.Errorf("POLL_INTERVAL and RUN_TIMEOUT must be > 0")
	}
	if c.LLM.RunTimeout < c.LLM.PollInterval {
		return fmt.Errorf("RUN_TIMEOUT must not be shorter than POLL_INTERVAL")
	}
	if c.LLM.TruncationMessages <= 0 {
		return fmt.Errorf("THREAD_TRUNCATION_MESSAGES must be > 0")
	}
	if c.Chat.ContextRefreshEvery <= 0 {
		return fmt.Errorf("CONTEXT_REFRESH_EVERY must be > 0")
	}
	if c.Chat.HistoryCacheSize <= 0 {
		return fmt.Errorf("HISTORY_CACHE_SIZE must be > 0")
	}
	if c.Chat.PersistWorkers <= 0 || c.Chat.PersistQueueSize <= 0 {
		return fmt.Errorf("PERSIST_WORKERS and PERSIST_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins accepted by the API.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
