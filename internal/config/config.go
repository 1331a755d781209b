package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Speech providers.
const (
	SpeechProviderVapi   = "vapi"
	SpeechProviderOpenAI = "openai"
)

// Config holds all configuration for the chat relay service.
type Config struct {
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	Server    ServerConfig
	Auth      AuthConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	OpenAI    OpenAIConfig
	Speech    SpeechConfig
	Relay     RelayConfig
	RateLimit RateLimitConfig
	RabbitMQ  RabbitMQConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host        string   `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port        string   `envconfig:"SERVER_PORT" default:"8080"`
	CORSOrigins []string `envconfig:"SERVER_CORS_ORIGINS" default:"*"`
}

// AuthConfig holds token and terminal login configuration.
type AuthConfig struct {
	JWTSecret       string        `envconfig:"JWT_SECRET" required:"true"`
	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"15m"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"720h"`
	TerminalSecret  string        `envconfig:"TERMINAL_LOGIN_SECRET" required:"true"`
	TerminalMaxAge  time.Duration `envconfig:"TERMINAL_LOGIN_MAX_AGE" default:"24h"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	DSN string `envconfig:"DATABASE_DSN" required:"true"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	URI string `envconfig:"REDIS_URI" required:"true"`
}

// OpenAIConfig holds OpenAI API configuration.
type OpenAIConfig struct {
	APIKey       string `envconfig:"OPENAI_API_KEY" required:"true"`
	BaseURL      string `envconfig:"OPENAI_BASE_URL"`
	Model        string `envconfig:"OPENAI_MODEL" default:"gpt-3.5-turbo"`
	MaxTokens    int    `envconfig:"OPENAI_MAX_TOKENS" default:"1024"`
	SystemPrompt string `envconfig:"OPENAI_SYSTEM_PROMPT"`
}

// SpeechConfig holds text-to-speech configuration.
type SpeechConfig struct {
	Provider   string        `envconfig:"SPEECH_PROVIDER" default:"vapi"`
	VapiAPIKey string        `envconfig:"VAPI_API_KEY"`
	VapiURL    string        `envconfig:"VAPI_BASE_URL" default:"https://api.vapi.ai"`
	Voice      string        `envconfig:"SPEECH_VOICE"`
	Format     string        `envconfig:"SPEECH_FORMAT" default:"mp3"`
	MaxChars   int           `envconfig:"SPEECH_MAX_CHARS" default:"4096"`
	Timeout    time.Duration `envconfig:"SPEECH_TIMEOUT" default:"30s"`
	CacheTTL   time.Duration `envconfig:"SPEECH_CACHE_TTL" default:"24h"`
}

// RelayConfig bounds relayed chat requests.
type RelayConfig struct {
	MaxDuration time.Duration `envconfig:"RELAY_MAX_DURATION" default:"30s"`
	MaxMessages int           `envconfig:"RELAY_MAX_MESSAGES" default:"100"`
	MaxBodySize string        `envconfig:"RELAY_MAX_BODY_SIZE" default:"10M"`
}

// RateLimitConfig holds per-user rate limits for /api routes.
type RateLimitConfig struct {
	RequestsPerMinute int `envconfig:"RATE_LIMIT_RPM" default:"30"`
	Burst             int `envconfig:"RATE_LIMIT_BURST" default:"10"`
}

// RabbitMQConfig holds usage event publishing configuration. Publishing is
// disabled when URL is empty.
type RabbitMQConfig struct {
	URL      string `envconfig:"RABBITMQ_URL"`
	Exchange string `envconfig:"RABBITMQ_EXCHANGE" default:"chat.events"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration for logical errors beyond required fields
// and fills provider-dependent defaults.
func (c *Config) Validate() error {
	switch c.Speech.Provider {
	case SpeechProviderVapi:
		if c.Speech.VapiAPIKey == "" {
			return fmt.Errorf("VAPI_API_KEY is required when SPEECH_PROVIDER=%s", SpeechProviderVapi)
		}
		if c.Speech.Voice == "" {
			c.Speech.Voice = "eleven_monolingual_v1"
		}
	case SpeechProviderOpenAI:
		if c.Speech.Voice == "" {
			c.Speech.Voice = "alloy"
		}
	default:
		return fmt.Errorf("unknown SPEECH_PROVIDER %q", c.Speech.Provider)
	}
	if c.Relay.MaxDuration <= 0 {
		return fmt.Errorf("RELAY_MAX_DURATION must be positive")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL must exceed ACCESS_TOKEN_TTL")
	}
	return nil
}
