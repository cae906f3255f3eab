package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LD-Reborn/embeddingsearch/pkg/database"
)

// Config holds the application configuration.
type Config struct {
	API      APIConfig       `yaml:"api"`
	Database database.Config `yaml:"database"`
	Ollama   OllamaConfig    `yaml:"ollama"`
	Search   SearchConfig    `yaml:"search"`
}

// APIConfig holds API server configuration.
type APIConfig struct {
	Listen      string          `yaml:"listen"`
	APIKeys     []string        `yaml:"api_keys"`
	MaxBodySize int64           `yaml:"max_body_size"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Cors        CorsConfig      `yaml:"cors"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled"`
	RequestsPer int           `yaml:"requests_per"`
	Duration    time.Duration `yaml:"duration"`
	BurstSize   int           `yaml:"burst_size"`
}

// CorsConfig holds CORS configuration.
type CorsConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// OllamaConfig holds the embedding-service configuration.
type OllamaConfig struct {
	URL     string        `yaml:"url"`
	Models  []string      `yaml:"models"`
	Timeout time.Duration `yaml:"timeout"`
}

// SearchConfig holds engine configuration.
type SearchConfig struct {
	Parallel     bool          `yaml:"parallel"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// Default returns a default configuration with environment overrides
// applied.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Listen:      getEnvOrDefault("EMBEDDINGSEARCH_API_LISTEN", "0.0.0.0:8000"),
			APIKeys:     getEnvListOrDefault("EMBEDDINGSEARCH_API_KEYS", nil),
			MaxBodySize: int64(getEnvIntOrDefault("EMBEDDINGSEARCH_API_MAX_BODY_SIZE", 32*1024*1024)), // 32MB
			RateLimit: RateLimitConfig{
				Enabled:     getEnvBoolOrDefault("EMBEDDINGSEARCH_RATE_LIMIT_ENABLED", true),
				RequestsPer: getEnvIntOrDefault("EMBEDDINGSEARCH_RATE_LIMIT_REQUESTS", 100),
				Duration:    time.Minute,
				BurstSize:   getEnvIntOrDefault("EMBEDDINGSEARCH_RATE_LIMIT_BURST", 10),
			},
			Cors: CorsConfig{
				Enabled:          getEnvBoolOrDefault("EMBEDDINGSEARCH_CORS_ENABLED", true),
				AllowedOrigins:   []string{"*"},
				AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"*"},
				AllowCredentials: false,
			},
		},
		Database: database.Config{
			Host:     getEnvOrDefault("EMBEDDINGSEARCH_DB_HOST", "localhost"),
			Port:     getEnvIntOrDefault("EMBEDDINGSEARCH_DB_PORT", 5432),
			Name:     getEnvOrDefault("EMBEDDINGSEARCH_DB_NAME", "embeddingsearch"),
			User:     getEnvOrDefault("EMBEDDINGSEARCH_DB_USER", "embeddingsearch"),
			Password: getEnvOrDefault("EMBEDDINGSEARCH_DB_PASSWORD", ""),
			SSLMode:  getEnvOrDefault("EMBEDDINGSEARCH_DB_SSL_MODE", "prefer"),
		},
		Ollama: OllamaConfig{
			URL:     getEnvOrDefault("EMBEDDINGSEARCH_OLLAMA_URL", "http://localhost:11434"),
			Models:  getEnvListOrDefault("EMBEDDINGSEARCH_MODELS", []string{"bge-m3", "nomic-embed-text"}),
			Timeout: getEnvDurationOrDefault("EMBEDDINGSEARCH_OLLAMA_TIMEOUT", 30*time.Second),
		},
		Search: SearchConfig{
			Parallel:     getEnvBoolOrDefault("EMBEDDINGSEARCH_SEARCH_PARALLEL", true),
			QueryTimeout: getEnvDurationOrDefault("EMBEDDINGSEARCH_QUERY_TIMEOUT", 0),
		},
	}
}

// Load builds the configuration: env-aware defaults, overridden by the yaml
// file at path when one is given.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Helper functions to get environment variables with defaults
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
