package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Database DatabaseConfig
	Session  SessionConfig
	Speech   SpeechConfig
	AI       AIConfig
	Audio    AudioConfig
	Logging  LoggingConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	audio, err := loadAudioConfig()
	if err != nil {
		return nil, err
	}

	logging, err := loadLoggingConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Auth:     auth,
		Database: loadDatabaseConfig(),
		Session:  session,
		Speech:   speech,
		AI:       ai,
		Audio:    audio,
		Logging:  logging,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AuthConfig 描述 bearer token 的校验参数。
type AuthConfig struct {
	SigningKey string
	Algorithm  string
	Issuer     string
	Leeway     time.Duration
}

// Enabled 表示是否配置了签名密钥。
func (c AuthConfig) Enabled() bool {
	return c.SigningKey != ""
}

func loadAuthConfig() (AuthConfig, error) {
	leeway, err := parseOptionalIntEnv("AUTH_LEEWAY_SECONDS")
	if err != nil {
		return AuthConfig{}, err
	}
	leewaySeconds := 0
	if leeway != nil {
		if *leeway < 0 {
			return AuthConfig{}, fmt.Errorf("invalid AUTH_LEEWAY_SECONDS value %d: must not be negative", *leeway)
		}
		leewaySeconds = *leeway
	}

	key := strings.TrimSpace(os.Getenv("AUTH_SIGNING_KEY"))
	if key == "" {
		// 与签发 token 的账号服务共用同一个密钥。
		key = strings.TrimSpace(os.Getenv("SECRET_KEY"))
	}

	return AuthConfig{
		SigningKey: key,
		Algorithm:  getEnvOrDefault("AUTH_ALGORITHM", "HS256"),
		Issuer:     strings.TrimSpace(os.Getenv("AUTH_ISSUER")),
		Leeway:     time.Duration(leewaySeconds) * time.Second,
	}, nil
}

// DatabaseConfig 描述对话存储所用的数据库。
type DatabaseConfig struct {
	Driver string
	DSN    string
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver: strings.ToLower(getEnvOrDefault("DATABASE_DRIVER", "sqlite")),
		DSN:    getEnvOrDefault("DATABASE_URL", "assistant.db"),
	}
}

// SessionConfig 描述实时语音会话的参数。
type SessionConfig struct {
	HistoryLimit    int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PipelineTimeout time.Duration
	MaxMessageBytes int64
}

// DefaultSessionConfig 返回默认会话参数。
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		HistoryLimit:    10,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		PingInterval:    54 * time.Second,
		PipelineTimeout: 90 * time.Second,
		MaxMessageBytes: 16 << 20,
	}
}

func loadSessionConfig() (SessionConfig, error) {
	cfg := DefaultSessionConfig()

	history, err := parseOptionalIntEnv("SESSION_HISTORY_LIMIT")
	if err != nil {
		return SessionConfig{}, err
	}
	if history != nil {
		if *history < 0 {
			return SessionConfig{}, fmt.Errorf("invalid SESSION_HISTORY_LIMIT value %d: must not be negative", *history)
		}
		cfg.HistoryLimit = *history
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SESSION_READ_TIMEOUT_SECONDS", &cfg.ReadTimeout},
		{"SESSION_WRITE_TIMEOUT_SECONDS", &cfg.WriteTimeout},
		{"SESSION_PING_INTERVAL_SECONDS", &cfg.PingInterval},
		{"SESSION_PIPELINE_TIMEOUT_SECONDS", &cfg.PipelineTimeout},
	}
	for _, d := range durations {
		seconds, err := parseOptionalIntEnv(d.key)
		if err != nil {
			return SessionConfig{}, err
		}
		if seconds == nil {
			continue
		}
		if *seconds <= 0 {
			return SessionConfig{}, fmt.Errorf("invalid %s value %d: must be positive", d.key, *seconds)
		}
		*d.dst = time.Duration(*seconds) * time.Second
	}

	if cfg.PingInterval >= cfg.ReadTimeout {
		return SessionConfig{}, fmt.Errorf("SESSION_PING_INTERVAL_SECONDS must be shorter than SESSION_READ_TIMEOUT_SECONDS")
	}

	maxBytes, err := parseOptionalIntEnv("SESSION_MAX_MESSAGE_BYTES")
	if err != nil {
		return SessionConfig{}, err
	}
	if maxBytes != nil && *maxBytes > 0 {
		cfg.MaxMessageBytes = int64(*maxBytes)
	}

	return cfg, nil
}

// SpeechConfig 描述语音识别服务配置。
type SpeechConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

// Enabled 表示是否提供了语音识别凭证。
func (c SpeechConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}

	return SpeechConfig{
		APIKey:   apiKey,
		BaseURL:  getEnvOrDefault("SPEECH_BASE_URL", strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))),
		Model:    getEnvOrDefault("SPEECH_MODEL", "whisper-1"),
		Language: strings.TrimSpace(os.Getenv("SPEECH_LANGUAGE")),
		Timeout:  time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// AI providers.
const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

// DefaultSystemPrompt 是未配置时使用的系统提示词。
const DefaultSystemPrompt = "You are a helpful assistant that can answer questions and help with tasks."

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider     string
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	SystemPrompt string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	if c.Provider == ProviderOpenAI {
		return c.APIKey != ""
	}
	return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() || c.Provider != ProviderArk {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + AI_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("AI_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderOpenAI))
	switch provider {
	case ProviderArk:
		return AIConfig{
			Provider:     provider,
			APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			Model:        strings.TrimSpace(os.Getenv("AI_MODEL")),
			BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
			Temperature:  temperature,
			TopP:         topP,
			MaxTokens:    maxTokens,
			SystemPrompt: getEnvOrDefault("AI_SYSTEM_PROMPT", DefaultSystemPrompt),
		}, nil
	case ProviderOpenAI:
		return AIConfig{
			Provider:     provider,
			APIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			Model:        getEnvOrDefault("AI_MODEL", "gpt-4o-mini"),
			BaseURL:      strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
			Temperature:  temperature,
			TopP:         topP,
			MaxTokens:    maxTokens,
			SystemPrompt: getEnvOrDefault("AI_SYSTEM_PROMPT", DefaultSystemPrompt),
		}, nil
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q: want %q or %q", provider, ProviderArk, ProviderOpenAI)
	}
}

// AudioConfig 描述音频解码参数。
type AudioConfig struct {
	FFmpegPath string
	SampleRate int
	Channels   int
	TempDir    string
}

func loadAudioConfig() (AudioConfig, error) {
	rate, err := parseOptionalIntEnv("AUDIO_SAMPLE_RATE")
	if err != nil {
		return AudioConfig{}, err
	}
	sampleRate := 16000
	if rate != nil {
		if *rate <= 0 {
			return AudioConfig{}, fmt.Errorf("invalid AUDIO_SAMPLE_RATE value %d: must be positive", *rate)
		}
		sampleRate = *rate
	}

	return AudioConfig{
		FFmpegPath: getEnvOrDefault("FFMPEG_PATH", "ffmpeg"),
		SampleRate: sampleRate,
		Channels:   1,
		TempDir:    strings.TrimSpace(os.Getenv("AUDIO_TEMP_DIR")),
	}, nil
}

// LoggingConfig 描述日志输出。
type LoggingConfig struct {
	Level     string
	Format    string
	AddSource bool
}

func loadLoggingConfig() (LoggingConfig, error) {
	addSource, err := parseBoolEnv("LOG_ADD_SOURCE", false)
	if err != nil {
		return LoggingConfig{}, err
	}

	return LoggingConfig{
		Level:     strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format:    strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text")),
		AddSource: addSource,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
