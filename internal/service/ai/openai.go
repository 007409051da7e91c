package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voicedesk/assistant/backend/internal/config"
	"github.com/voicedesk/assistant/backend/internal/model/conversation"
	"github.com/voicedesk/assistant/backend/internal/model/user"
)

// OpenAIGenerator calls an OpenAI compatible chat completions endpoint.
type OpenAIGenerator struct {
	client  openai.Client
	cfg     config.AIConfig
	prompts *PromptBuilder
	logger  *slog.Logger
}

func NewOpenAIGenerator(cfg config.AIConfig, prompts *PromptBuilder, logger *slog.Logger, opts ...option.RequestOption) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" || cfg.Model == "" {
		return nil, ErrNotConfigured
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAIGenerator{
		client:  openai.NewClient(clientOpts...),
		cfg:     cfg,
		prompts: prompts,
		logger:  logger.With(slog.String("component", "ai"), slog.String("provider", "openai")),
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, text string, history []conversation.HistoryEntry, identity *user.Identity) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(g.prompts.SystemPrompt(identity)),
	}
	for _, msg := range g.prompts.HistoryMessages(history, identity) {
		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}
	messages = append(messages, openai.UserMessage(text))

	params := openai.ChatCompletionNewParams{
		Model:    g.cfg.Model,
		Messages: messages,
	}
	if g.cfg.Temperature != nil {
		params.Temperature = openai.Float(*g.cfg.Temperature)
	}
	if g.cfg.TopP != nil {
		params.TopP = openai.Float(*g.cfg.TopP)
	}
	if g.cfg.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*g.cfg.MaxTokens))
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	g.logger.DebugContext(ctx, "generated reply",
		slog.Int("history", len(history)),
		slog.Int64("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int64("completion_tokens", resp.Usage.CompletionTokens),
	)
	return reply, nil
}
