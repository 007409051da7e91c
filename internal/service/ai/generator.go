package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voicedesk/assistant/backend/internal/config"
	"github.com/voicedesk/assistant/backend/internal/model/conversation"
	"github.com/voicedesk/assistant/backend/internal/model/user"
)

var (
	ErrNotConfigured = errors.New("response generation is not configured")
	ErrEmptyReply    = errors.New("model returned an empty reply")
)

// Generator produces a conversational reply. history is ordered oldest first.
// With an empty history or a nil identity the call is a stateless single turn.
type Generator interface {
	Generate(ctx context.Context, text string, history []conversation.HistoryEntry, identity *user.Identity) (string, error)
}

// NewGenerator builds the generator for cfg.Provider. It is called once at
// startup and the result shared by all sessions.
func NewGenerator(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (Generator, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewChainGenerator(ctx, chatModel, NewPromptBuilder(cfg.SystemPrompt), logger)
	case config.ProviderOpenAI:
		return NewOpenAIGenerator(cfg, NewPromptBuilder(cfg.SystemPrompt), logger)
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.Provider)
	}
}
