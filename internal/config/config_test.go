package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "AUTH_SIGNING_KEY", "SECRET_KEY", "AUTH_ISSUER", "AUTH_LEEWAY_SECONDS", "AUTH_ALGORITHM",
		"DATABASE_DRIVER", "DATABASE_URL",
		"SESSION_HISTORY_LIMIT", "SESSION_READ_TIMEOUT_SECONDS", "SESSION_WRITE_TIMEOUT_SECONDS",
		"SESSION_PING_INTERVAL_SECONDS", "SESSION_PIPELINE_TIMEOUT_SECONDS", "SESSION_MAX_MESSAGE_BYTES",
		"SPEECH_API_KEY", "SPEECH_BASE_URL", "SPEECH_MODEL", "SPEECH_LANGUAGE", "SPEECH_TIMEOUT",
		"AI_PROVIDER", "AI_MODEL", "AI_SYSTEM_PROMPT", "AI_TEMPERATURE", "AI_TOP_P", "AI_MAX_TOKENS",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "ARK_BASE_URL", "ARK_REGION",
		"FFMPEG_PATH", "AUDIO_SAMPLE_RATE", "AUDIO_TEMP_DIR",
		"LOG_LEVEL", "LOG_FORMAT", "LOG_ADD_SOURCE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.False(t, cfg.Auth.Enabled())
	assert.Equal(t, "HS256", cfg.Auth.Algorithm)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "assistant.db", cfg.Database.DSN)
	assert.Equal(t, DefaultSessionConfig(), cfg.Session)
	assert.Equal(t, 10, cfg.Session.HistoryLimit)
	assert.Equal(t, "whisper-1", cfg.Speech.Model)
	assert.Equal(t, 30*time.Second, cfg.Speech.Timeout)
	assert.Equal(t, ProviderOpenAI, cfg.AI.Provider)
	assert.Equal(t, DefaultSystemPrompt, cfg.AI.SystemPrompt)
	assert.False(t, cfg.AI.Enabled())
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, "ffmpeg", cfg.Audio.FFmpegPath)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.AddSource)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("SECRET_KEY", "shared-secret")
	t.Setenv("AUTH_LEEWAY_SECONDS", "5")
	t.Setenv("SESSION_HISTORY_LIMIT", "4")
	t.Setenv("SESSION_PIPELINE_TIMEOUT_SECONDS", "12")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AI_TEMPERATURE", "0.3")
	t.Setenv("LOG_ADD_SOURCE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "shared-secret", cfg.Auth.SigningKey)
	assert.Equal(t, 5*time.Second, cfg.Auth.Leeway)
	assert.Equal(t, 4, cfg.Session.HistoryLimit)
	assert.Equal(t, 12*time.Second, cfg.Session.PipelineTimeout)
	assert.Equal(t, "sk-test", cfg.Speech.APIKey)
	assert.True(t, cfg.Speech.Enabled())
	assert.True(t, cfg.AI.Enabled())
	require.NotNil(t, cfg.AI.Temperature)
	assert.InDelta(t, 0.3, *cfg.AI.Temperature, 1e-9)
	assert.True(t, cfg.Logging.AddSource)
}

func TestLoadArkProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_PROVIDER", "ark")
	t.Setenv("AI_MODEL", "doubao-pro")
	t.Setenv("ARK_ACCESS_KEY", "ak")
	t.Setenv("ARK_SECRET_KEY", "sk")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderArk, cfg.AI.Provider)
	assert.Equal(t, "cn-beijing", cfg.AI.Region)
	assert.True(t, cfg.AI.Enabled())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                          "80 80",
		"AUTH_LEEWAY_SECONDS":           "-1",
		"SESSION_HISTORY_LIMIT":         "ten",
		"SESSION_READ_TIMEOUT_SECONDS":  "0",
		"SESSION_PING_INTERVAL_SECONDS": "120",
		"AI_PROVIDER":                   "mystery",
		"AI_TOP_P":                      "high",
		"AUDIO_SAMPLE_RATE":             "-16000",
		"LOG_ADD_SOURCE":                "sometimes",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestNewChatModelRequiresArkCredentials(t *testing.T) {
	cfg := AIConfig{Provider: ProviderOpenAI, APIKey: "sk", Model: "gpt-4o-mini"}
	_, err := cfg.NewChatModel(t.Context())
	assert.Error(t, err)
}
