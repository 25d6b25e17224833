package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	HTTP    HTTPConfig
	Redis   RedisConfig
	Engine  EngineConfig
	Logging LogConfig
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// EngineConfig points at the external research engine. The engine is an
// opaque collaborator; we only know its streaming endpoint.
type EngineConfig struct {
	URL            string
	RequestTimeout time.Duration
	RetryAttempts  int
}

type LogConfig struct {
	Level    string
	FilePath string
	MaxSize  int
	MaxAge   int
}

func Load() (*Config, error) {
	// .env is optional outside local development
	_ = godotenv.Load()

	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	poolSize, err := getEnvInt("REDIS_POOL_SIZE", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_POOL_SIZE: %w", err)
	}

	retryAttempts, err := getEnvInt("ENGINE_RETRY_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid ENGINE_RETRY_ATTEMPTS: %w", err)
	}

	requestTimeout, err := getEnvInt("ENGINE_REQUEST_TIMEOUT_SECONDS", 600)
	if err != nil {
		return nil, fmt.Errorf("invalid ENGINE_REQUEST_TIMEOUT_SECONDS: %w", err)
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		HTTP: HTTPConfig{
			Port:         port,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // streaming responses must not be cut off by a write deadline
			IdleTimeout:  120 * time.Second,
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			PoolSize:     poolSize,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Engine: EngineConfig{
			URL:            getEnv("RESEARCH_ENGINE_URL", "http://localhost:2024"),
			RequestTimeout: time.Duration(requestTimeout) * time.Second,
			RetryAttempts:  retryAttempts,
		},
		Logging: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", ""),
			MaxSize:  100,
			MaxAge:   14,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.HTTP.Port)
	}

	if cfg.Engine.URL == "" {
		return fmt.Errorf("research engine URL is required")
	}

	if cfg.Engine.RetryAttempts < 1 {
		return fmt.Errorf("engine retry attempts must be at least 1")
	}

	return nil
}

func (cfg *Config) RedisEnabled() bool {
	return cfg.Redis.URL != ""
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return strconv.Atoi(value)
}
