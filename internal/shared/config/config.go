package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Logging
	LogLevel string

	// Database (empty means in-memory ledger/usage stores, dev only)
	DatabaseURL string

	// Redis (empty means in-memory rate limiter and cache, dev only)
	RedisURL string

	// Provider API Keys
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
	CohereAPIKey    string

	// Rate Limiting
	RateLimitPerWindow int
	RateLimitWindowSec int

	// Caching
	CacheEnabled       bool
	CacheDefaultTTLSec int
	CacheMaxTTLSec     int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		CohereAPIKey:       getEnv("COHERE_API_KEY", ""),
		RateLimitPerWindow: getEnvInt("RATE_LIMIT_PER_WINDOW", 60),
		RateLimitWindowSec: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		CacheEnabled:       getEnvBool("CACHE_ENABLED", true),
		CacheDefaultTTLSec: getEnvInt("CACHE_DEFAULT_TTL_SECONDS", 3600),
		CacheMaxTTLSec:     getEnvInt("CACHE_MAX_TTL_SECONDS", 86400),
	}

	// At least one provider API key is required
	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" &&
		cfg.GeminiAPIKey == "" && cfg.CohereAPIKey == "" {
		return nil, fmt.Errorf("at least one provider API key is required (OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, or COHERE_API_KEY)")
	}

	if cfg.RateLimitPerWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_WINDOW must be positive")
	}
	if cfg.CacheMaxTTLSec < cfg.CacheDefaultTTLSec {
		cfg.CacheMaxTTLSec = cfg.CacheDefaultTTLSec
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
