package ai

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/voicedesk/assistant/backend/internal/config"
	"github.com/voicedesk/assistant/backend/internal/model/conversation"
	"github.com/voicedesk/assistant/backend/internal/model/user"
)

// PromptBuilder assembles the system prompt and history messages.
type PromptBuilder struct {
	base string
}

// NewPromptBuilder falls back to the default assistant prompt when base is empty.
func NewPromptBuilder(base string) *PromptBuilder {
	base = strings.TrimSpace(base)
	if base == "" {
		base = config.DefaultSystemPrompt
	}
	return &PromptBuilder{base: base}
}

// SystemPrompt personalizes the base prompt for a known user.
func (b *PromptBuilder) SystemPrompt(identity *user.Identity) string {
	if identity == nil {
		return b.base
	}
	name := identity.DisplayName()
	if name == "" {
		return b.base
	}

	var builder strings.Builder
	builder.WriteString(b.base)
	builder.WriteString(fmt.Sprintf("\n\nYou are talking with %s.", name))
	builder.WriteString(" Earlier turns of this conversation are included; keep your answer consistent with them.")
	return builder.String()
}

// HistoryMessages expands turns into alternating user and assistant messages.
// Entries with an empty side are skipped on that side only.
func (b *PromptBuilder) HistoryMessages(history []conversation.HistoryEntry, identity *user.Identity) []*schema.Message {
	if identity == nil || len(history) == 0 {
		return nil
	}

	messages := make([]*schema.Message, 0, len(history)*2)
	for _, entry := range history {
		if entry.InputText != "" {
			messages = append(messages, schema.UserMessage(entry.InputText))
		}
		if entry.ReplyText != "" {
			messages = append(messages, schema.AssistantMessage(entry.ReplyText, nil))
		}
	}
	return messages
}
