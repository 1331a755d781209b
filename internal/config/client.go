package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ClientConfig holds configuration for the chat CLI. Variables use the CHAT_
// prefix, e.g. CHAT_API_URL.
type ClientConfig struct {
	APIURL      string        `envconfig:"API_URL" default:"http://localhost:8080"`
	Credentials string        `envconfig:"CREDENTIALS"`
	AudioDir    string        `envconfig:"AUDIO_DIR"`
	Player      string        `envconfig:"PLAYER"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"30s"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"warn"`
	Theme       string        `envconfig:"THEME" default:"dark"`
}

// LoadClient reads CLI configuration from CHAT_* environment variables.
func LoadClient() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := envconfig.Process("chat", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
