package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("TERMINAL_LOGIN_SECRET", "bot-secret")
	t.Setenv("DATABASE_DSN", "postgres://localhost/chat")
	t.Setenv("REDIS_URI", "redis://localhost:6379/0")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("VAPI_API_KEY", "vapi-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	require.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	require.Equal(t, "gpt-3.5-turbo", cfg.OpenAI.Model)
	require.Equal(t, SpeechProviderVapi, cfg.Speech.Provider)
	require.Equal(t, "eleven_monolingual_v1", cfg.Speech.Voice)
	require.Equal(t, "mp3", cfg.Speech.Format)
	require.Equal(t, 30*time.Second, cfg.Relay.MaxDuration)
	require.Empty(t, cfg.RabbitMQ.URL)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("RELAY_MAX_DURATION", "45s")
	t.Setenv("SPEECH_PROVIDER", "openai")
	t.Setenv("SERVER_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9000", cfg.Server.Port)
	require.Equal(t, 45*time.Second, cfg.Relay.MaxDuration)
	require.Equal(t, "alloy", cfg.Speech.Voice)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	// t.Setenv restores the variable after the test
	os.Unsetenv("JWT_SECRET")

	_, err := Load()
	require.ErrorContains(t, err, "JWT_SECRET")
}

func TestValidate(t *testing.T) {
	setRequired(t)

	t.Setenv("SPEECH_PROVIDER", "espeak")
	_, err := Load()
	require.ErrorContains(t, err, "SPEECH_PROVIDER")

	t.Setenv("SPEECH_PROVIDER", "vapi")
	t.Setenv("VAPI_API_KEY", "")
	_, err = Load()
	require.ErrorContains(t, err, "VAPI_API_KEY")

	t.Setenv("VAPI_API_KEY", "vapi-key")
	t.Setenv("REFRESH_TOKEN_TTL", "1m")
	_, err = Load()
	require.ErrorContains(t, err, "REFRESH_TOKEN_TTL")
}

func TestLoadClient(t *testing.T) {
	t.Setenv("CHAT_API_URL", "https://relay.example")
	t.Setenv("CHAT_TIMEOUT", "5s")

	cfg, err := LoadClient()
	require.NoError(t, err)
	require.Equal(t, "https://relay.example", cfg.APIURL)
	require.Equal(t, 5*time.Second, cfg.Timeout)
	require.Equal(t, "dark", cfg.Theme)
	require.Equal(t, "warn", cfg.LogLevel)
}
