package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/voicedesk/assistant/backend/internal/model/conversation"
	"github.com/voicedesk/assistant/backend/internal/model/user"
)

// ChainGenerator runs a prompt template and chat model as an eino chain.
type ChainGenerator struct {
	prompts *PromptBuilder
	chain   compose.Runnable[map[string]any, *schema.Message]
	logger  *slog.Logger
}

// NewChainGenerator compiles the chain once; the runnable is safe for
// concurrent use.
func NewChainGenerator(ctx context.Context, chatModel model.BaseChatModel, prompts *PromptBuilder, logger *slog.Logger) (*ChainGenerator, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChainGenerator{
		prompts: prompts,
		chain:   runnable,
		logger:  logger.With(slog.String("component", "ai"), slog.String("provider", "ark")),
	}, nil
}

func (g *ChainGenerator) Generate(ctx context.Context, text string, history []conversation.HistoryEntry, identity *user.Identity) (string, error) {
	input := map[string]any{
		"system":  g.prompts.SystemPrompt(identity),
		"history": g.prompts.HistoryMessages(history, identity),
		"query":   text,
	}

	response, err := g.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	reply := strings.TrimSpace(response.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	g.logger.DebugContext(ctx, "generated reply", slog.Int("history", len(history)), slog.Int("length", len(reply)))
	return reply, nil
}
