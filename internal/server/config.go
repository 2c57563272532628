// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the room chat service.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 4096
	defaultBurst           = 10
	defaultRefillInterval  = time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultLogLevel        = "info"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// GiphyConfig holds the settings of the GIF search passthrough.
type GiphyConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Limit   int
	Rating  string
}

// Config holds the server configuration settings including security controls.
// Tagged fields are read from the environment; the grouped fields are derived
// from them by sanitizeConfig.
type Config struct {
	Port              string        `env:"SERVER_PORT,default=:8080"`
	Origins           string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize    int64         `env:"MAX_MESSAGE_SIZE,default=4096"`
	RateLimitBurst    int           `env:"RATE_LIMIT_BURST,default=10"`
	RateLimitInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	HistoryLimit      int           `env:"HISTORY_LIMIT,default=0"`
	StrictRoomBinding bool          `env:"STRICT_ROOM_BINDING,default=false"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
	LogDevelopment    bool          `env:"LOG_DEVELOPMENT,default=false"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	GiphyAPIKey       string        `env:"GIPHY_API_KEY"`
	GiphyBaseURL      string        `env:"GIPHY_BASE_URL,default=https://api.giphy.com/v1/gifs/search"`
	GiphyTimeout      time.Duration `env:"GIPHY_TIMEOUT,default=5s"`
	GiphyLimit        int           `env:"GIPHY_LIMIT,default=10"`
	GiphyRating       string        `env:"GIPHY_RATING,default=g"`

	AllowedOrigins []string
	RateLimit      RateLimitConfig
	Giphy          GiphyConfig
}

func defaultConfig() Config {
	return Config{
		Port:              defaultPort,
		Origins:           "http://localhost:8080",
		MaxMessageSize:    defaultMaxMessageSize,
		RateLimitBurst:    defaultBurst,
		RateLimitInterval: defaultRefillInterval,
		LogLevel:          defaultLogLevel,
		ShutdownTimeout:   defaultShutdownTimeout,
		GiphyBaseURL:      "https://api.giphy.com/v1/gifs/search",
		GiphyTimeout:      5 * time.Second,
		GiphyLimit:        10,
		GiphyRating:       "g",
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultBurst
	}

	if cfg.RateLimitInterval <= 0 {
		cfg.RateLimitInterval = defaultRefillInterval
	}

	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if len(cfg.AllowedOrigins) == 0 && cfg.Origins != "" {
		cfg.AllowedOrigins = parseOrigins(cfg.Origins)
	}

	cfg.RateLimit = RateLimitConfig{
		Burst:          cfg.RateLimitBurst,
		RefillInterval: cfg.RateLimitInterval,
	}
	cfg.Giphy = GiphyConfig{
		APIKey:  cfg.GiphyAPIKey,
		BaseURL: cfg.GiphyBaseURL,
		Timeout: cfg.GiphyTimeout,
		Limit:   cfg.GiphyLimit,
		Rating:  cfg.GiphyRating,
	}
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := sanitizeConfig(defaultConfig())
	return &cfg
}

// LoadConfig reads an optional .env file and then the process environment.
// Unset variables fall back to their defaults.
func LoadConfig(dotenvFiles ...string) (*Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
