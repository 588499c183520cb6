// Package config binds engine settings from SPICE_* environment
// variables. Every field has a sensible default so an empty environment
// yields a working configuration.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/no-ai-labs/spice-go/result"
)

// Config carries the tunables of the engine layers.
type Config struct {
	// Tool cache.
	CacheMaxSize int           `env:"SPICE_CACHE_MAX_SIZE" envDefault:"128"`
	CacheTTL     time.Duration `env:"SPICE_CACHE_TTL" envDefault:"5m"`

	// Event bus.
	BusBufferSize     int    `env:"SPICE_BUS_BUFFER_SIZE" envDefault:"64"`
	BusOverflowPolicy string `env:"SPICE_BUS_OVERFLOW_POLICY" envDefault:"DROP_OLDEST"`

	// Graph runner.
	GraphMaxSteps       int           `env:"SPICE_GRAPH_MAX_STEPS" envDefault:"100"`
	GraphIdempotencyTTL time.Duration `env:"SPICE_GRAPH_IDEMPOTENCY_TTL" envDefault:"10m"`
	MetadataWarnBytes   int           `env:"SPICE_METADATA_WARN_BYTES" envDefault:"5120"`
	MetadataHardLimit   int           `env:"SPICE_METADATA_HARD_LIMIT" envDefault:"0"`
	MetadataOnOverflow  string        `env:"SPICE_METADATA_ON_OVERFLOW" envDefault:"WARN"`

	// LLM provider.
	Model       string  `env:"SPICE_MODEL"`
	APIKey      string  `env:"SPICE_API_KEY"`
	BaseURL     string  `env:"SPICE_BASE_URL"`
	Temperature float64 `env:"SPICE_TEMPERATURE" envDefault:"0"`
	MaxTokens   int     `env:"SPICE_MAX_TOKENS" envDefault:"0"`

	// Logging.
	LogLevel string `env:"SPICE_LOG_LEVEL" envDefault:"info"`
}

// Load reads the configuration from the environment.
func Load() (Config, *result.Error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, result.Configuration("environment parse failed", "env").WithCause(err)
	}
	return cfg, nil
}
